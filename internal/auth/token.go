// Package auth issues and verifies the bearer tokens that carry a caller's
// identity.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/config"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
)

// claims is the token payload.
type claims struct {
	jwt.RegisteredClaims
	UserID   string     `json:"userId"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

// Tokens signs and verifies HS256 identity tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens constructs Tokens from auth settings. A nil now uses time.Now.
func NewTokens(cfg config.AuthConfig, now func() time.Time) *Tokens {
	if now == nil {
		now = time.Now
	}
	return &Tokens{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    now,
	}
}

// Issue returns a signed token asserting u's identity.
func (t *Tokens) Issue(u *model.User) (string, error) {
	now := t.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
	})
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnknown, "sign token", err)
	}
	return signed, nil
}

// Verify checks the token's signature, issuer and expiry and returns the
// identity it asserts.
func (t *Tokens) Verify(token string) (model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Identity{}, apperr.New(apperr.KindUnauthenticated, "missing token")
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return model.Identity{}, mapJWTError(err)
	}
	if parsed.UserID == "" {
		return model.Identity{}, apperr.New(apperr.KindUnauthenticated, "token has no subject")
	}
	role := parsed.Role
	if role != model.RoleAdmin {
		role = model.RoleUser
	}
	return model.Identity{UserID: parsed.UserID, Username: parsed.Username, Role: role}, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperr.Wrap(apperr.KindExpired, "token expired", err)
	}
	return apperr.Wrap(apperr.KindUnauthenticated, "invalid token", err)
}
