package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/config"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
)

var testCfg = config.AuthConfig{Secret: "s3cret", Issuer: "activity-enrollment", TTL: time.Hour}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTokens_RoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens(testCfg, fixedClock(now))

	signed, err := tokens.Issue(&model.User{ID: "u-1", Username: "alice", Role: model.RoleAdmin})
	require.NoError(t, err)

	id, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{UserID: "u-1", Username: "alice", Role: model.RoleAdmin}, id)
	assert.True(t, id.IsAdmin())
}

func TestTokens_Verify(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	issued, err := NewTokens(testCfg, fixedClock(now)).Issue(&model.User{ID: "u-1", Username: "bob", Role: model.RoleUser})
	require.NoError(t, err)

	otherIssuer := testCfg
	otherIssuer.Issuer = "someone-else"
	otherSecret := testCfg
	otherSecret.Secret = "different"

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"userId": "u-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		tokens *Tokens
		token  string
		kind   apperr.Kind
	}{
		{"empty", NewTokens(testCfg, fixedClock(now)), "  ", apperr.KindUnauthenticated},
		{"garbage", NewTokens(testCfg, fixedClock(now)), "not-a-token", apperr.KindUnauthenticated},
		{"expired", NewTokens(testCfg, fixedClock(now.Add(2*time.Hour))), issued, apperr.KindExpired},
		{"wrong issuer", NewTokens(otherIssuer, fixedClock(now)), issued, apperr.KindUnauthenticated},
		{"wrong secret", NewTokens(otherSecret, fixedClock(now)), issued, apperr.KindUnauthenticated},
		{"alg none", NewTokens(testCfg, fixedClock(now)), none, apperr.KindUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tokens.Verify(tt.token)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestTokens_UnknownRoleDowngradesToUser(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens(testCfg, fixedClock(now))

	signed, err := tokens.Issue(&model.User{ID: "u-2", Username: "eve", Role: "root"})
	require.NoError(t, err)

	id, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, id.Role)
}
