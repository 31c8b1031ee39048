package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/database"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/repository"
)

var testNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store      repository.Store
	enrollment *EnrollmentService
	activities *ActivityService
	users      *UserService
	admin      model.Identity
}

type stubTokens struct{}

func (stubTokens) Issue(u *model.User) (string, error) { return "token-for-" + u.Username, nil }

func newFixture(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	deps := Deps{Store: store, Now: func() time.Time { return testNow }}
	f := &fixture{
		store:      store,
		enrollment: NewEnrollmentService(deps),
		activities: NewActivityService(deps),
		users:      NewUserService(deps, stubTokens{}),
	}
	f.users.cost = bcrypt.MinCost
	admin := f.seedUser(t, "admin", model.RoleAdmin)
	f.admin = identity(admin)
	return f
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, repository.NewMemoryStore())
}

func newSQLiteFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	store := repository.NewSQLiteStore(db, repository.RetryOptions{MaxRetries: 5, Delay: time.Millisecond})
	t.Cleanup(func() { _ = store.Close() })
	return newFixture(t, store)
}

func identity(u *model.User) model.Identity {
	return model.Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

func (f *fixture) seedUser(t *testing.T, name string, role model.Role) *model.User {
	t.Helper()
	u := &model.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "unused",
		Role:         role,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	require.NoError(t, f.store.InTx(context.Background(), func(ctx context.Context, r repository.Repos) error {
		return r.Users.Create(ctx, u)
	}))
	return u
}

func (f *fixture) seedCaller(t *testing.T, name string) model.Identity {
	t.Helper()
	return identity(f.seedUser(t, name, model.RoleUser))
}

func (f *fixture) seedActivity(t *testing.T, capacity int) *model.Activity {
	t.Helper()
	a, err := f.activities.Create(context.Background(), f.admin, model.CreateActivityRequest{
		Title:           "Saturday football",
		Description:     "Five-a-side on the north pitch.",
		Type:            model.TypeFootball,
		StartTime:       testNow.Add(72 * time.Hour),
		EndTime:         testNow.Add(74 * time.Hour),
		Location:        "North pitch",
		Price:           5,
		MaxParticipants: capacity,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) activity(t *testing.T, id string) *model.Activity {
	t.Helper()
	var a *model.Activity
	require.NoError(t, f.store.InTx(context.Background(), func(ctx context.Context, r repository.Repos) error {
		var err error
		a, err = r.Activities.GetByID(ctx, id)
		return err
	}))
	return a
}

func (f *fixture) activeCount(t *testing.T, activityID string) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.InTx(context.Background(), func(ctx context.Context, r repository.Repos) error {
		var err error
		n, err = r.Registrations.CountActive(ctx, activityID)
		return err
	}))
	return n
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}
