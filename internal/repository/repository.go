// Package repository implements persistence for activities, registrations,
// comments and users.
//
// Three backends share one contract: PostgreSQL through pgx, SQLite through
// modernc.org/sqlite, and an in-memory store for tests and local runs. All
// writes that touch the participant counter are single conditional UPDATE
// statements so that concurrent callers serialise in the store instead of
// racing in application memory.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// such as a second active registration for the same user and activity.
var ErrDuplicate = errors.New("duplicate record")

// Store opens transactional scopes across all repositories.
type Store interface {
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Transient faults are retried by
	// the adapter; when retries are exhausted the error has kind Unavailable.
	InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Repos groups the repositories bound to one transaction.
type Repos struct {
	Activities    ActivityRepository
	Registrations RegistrationRepository
	Comments      CommentRepository
	Users         UserRepository
}

// ActivityRepository persists activities and owns the participant counter.
type ActivityRepository interface {
	// Create assigns an id and inserts a.
	Create(ctx context.Context, a *model.Activity) error
	GetByID(ctx context.Context, id string) (*model.Activity, error)
	// GetForUpdate reads the activity and holds a row lock until the
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*model.Activity, error)
	List(ctx context.Context, f model.ActivityFilter) ([]model.Activity, int, error)
	ListIDs(ctx context.Context) ([]string, error)
	// Update writes the descriptive fields and capacity of a.
	Update(ctx context.Context, a *model.Activity) error
	Delete(ctx context.Context, id string) error
	// CompareAndSetStatus moves the activity to `to` only if its status is
	// `from`. An empty from matches any status.
	CompareAndSetStatus(ctx context.Context, id string, from, to model.ActivityStatus, now time.Time) (bool, error)
	// IncrementParticipants adds by to the counter only if the activity is
	// open and the result stays within capacity.
	IncrementParticipants(ctx context.Context, id string, by int, now time.Time) (bool, error)
	// DecrementParticipants subtracts by from the counter, never going below
	// floor.
	DecrementParticipants(ctx context.Context, id string, by, floor int, now time.Time) error
	SetParticipants(ctx context.Context, id string, n int, now time.Time) error
}

// RegistrationRepository persists registrations.
type RegistrationRepository interface {
	// Create assigns an id and inserts r. It returns ErrDuplicate when an
	// active registration already exists for the same user and activity.
	Create(ctx context.Context, r *model.Registration) error
	GetByID(ctx context.Context, id string) (*model.Registration, error)
	// FindActive returns the non-cancelled registration for the pair.
	FindActive(ctx context.Context, userID, activityID string) (*model.Registration, error)
	// FindLatest returns the most recent registration for the pair in any
	// status.
	FindLatest(ctx context.Context, userID, activityID string) (*model.Registration, error)
	// Exists reports whether the user ever registered for the activity.
	Exists(ctx context.Context, userID, activityID string) (bool, error)
	UpdateNotes(ctx context.Context, id, notes string, now time.Time) error
	// TransitionStatus moves the registration to `to` only if it is still in
	// `from`.
	TransitionStatus(ctx context.Context, id string, from, to model.RegistrationStatus, now time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, f model.RegistrationFilter) ([]model.RegistrationView, int, error)
	ListByActivity(ctx context.Context, activityID string, f model.RegistrationFilter) ([]model.RegistrationView, int, error)
	CountActive(ctx context.Context, activityID string) (int, error)
	CountByActivity(ctx context.Context, activityID string) (int, error)
}

// CommentRepository persists comments, at most one per user and activity.
type CommentRepository interface {
	// Upsert inserts c or replaces the rating and content of the existing
	// comment for the same user and activity. c is updated with the stored
	// id and creation time.
	Upsert(ctx context.Context, c *model.Comment) error
	FindByUserAndActivity(ctx context.Context, userID, activityID string) (*model.Comment, error)
	ListByActivity(ctx context.Context, activityID string, p model.Page) ([]model.CommentView, int, error)
	CountByActivity(ctx context.Context, activityID string) (int, error)
	AverageRating(ctx context.Context, activityID string) (float64, error)
}

// UserRepository persists user accounts.
type UserRepository interface {
	// Create assigns an id and inserts u. It returns ErrDuplicate when the
	// username or email is taken.
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}
