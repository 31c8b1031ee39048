package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/repository"
)

// TokenIssuer signs identity tokens for authenticated users.
type TokenIssuer interface {
	Issue(u *model.User) (string, error)
}

// UserService manages accounts and credentials.
type UserService struct {
	Deps
	tokens TokenIssuer
	cost   int
}

// NewUserService constructs a UserService. Passwords are hashed with
// bcrypt.DefaultCost.
func NewUserService(deps Deps, tokens TokenIssuer) *UserService {
	return &UserService{Deps: deps.withDefaults(), tokens: tokens, cost: bcrypt.DefaultCost}
}

// Register creates a regular user account.
func (s *UserService) Register(ctx context.Context, req model.RegisterUserRequest) (u *model.User, err error) {
	start := time.Now()
	defer func() { s.observe("register_user", start, err) }()

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.RealName = strings.TrimSpace(req.RealName)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return s.create(ctx, req, model.RoleUser)
}

func (s *UserService) create(ctx context.Context, req model.RegisterUserRequest, role model.Role) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnknown, "hash password", err)
	}

	now := s.now()
	u := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		RealName:     req.RealName,
		Phone:        req.Phone,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		if err := taken(r.Users.GetByUsername(ctx, req.Username)); err != nil {
			return withMessage(err, "username already exists")
		}
		if err := taken(r.Users.GetByEmail(ctx, req.Email)); err != nil {
			return withMessage(err, "email already exists")
		}
		if err := r.Users.Create(ctx, u); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.New(apperr.KindInvalidArgument, "username or email already exists")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// taken converts a successful lookup into ErrDuplicate and a miss into nil.
func taken(_ *model.User, err error) error {
	switch {
	case err == nil:
		return repository.ErrDuplicate
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return err
	}
}

func withMessage(err error, msg string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return apperr.New(apperr.KindInvalidArgument, msg)
	}
	return err
}

// EnsureAdmin creates an administrator account unless the username already
// exists. It is used to bootstrap a fresh deployment.
func (s *UserService) EnsureAdmin(ctx context.Context, username, email, password string) (*model.User, error) {
	req := model.RegisterUserRequest{
		Username: strings.TrimSpace(username),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Password: password,
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var existing *model.User
	err := s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		u, err := r.Users.GetByUsername(ctx, req.Username)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		existing = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.create(ctx, req, model.RoleAdmin)
}

// Login exchanges a username or email and password for a signed token.
func (s *UserService) Login(ctx context.Context, req model.LoginRequest) (resp *model.LoginResponse, err error) {
	start := time.Now()
	defer func() { s.observe("login", start, err) }()

	req.UsernameOrEmail = strings.TrimSpace(req.UsernameOrEmail)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var u *model.User
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		u, err = r.Users.GetByUsername(ctx, req.UsernameOrEmail)
		if errors.Is(err, repository.ErrNotFound) && strings.Contains(req.UsernameOrEmail, "@") {
			u, err = r.Users.GetByEmail(ctx, req.UsernameOrEmail)
		}
		if err != nil {
			return notFound(err, "user")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apperr.New(apperr.KindUnauthenticated, "invalid password")
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{User: *u, Token: token}, nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id string) (u *model.User, err error) {
	if id, err = parseID("userId", id); err != nil {
		return nil, err
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		found, err := r.Users.GetByID(ctx, id)
		if err != nil {
			return notFound(err, "user")
		}
		u = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
