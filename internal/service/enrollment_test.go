package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/repository"
)

func TestEnroll_IsIdempotent(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	a := f.seedActivity(t, 3)
	alice := f.seedCaller(t, "alice")

	first, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID, Notes: "bringing a ball"})
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationPending, first.Status)
	assert.Equal(t, "bringing a ball", first.Notes)
	assert.Equal(t, a.Title, first.Activity.Title)
	assert.Equal(t, "alice", first.User.Username)

	second, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.activity(t, a.ID).CurrentParticipants)
}

func TestEnroll_Rejections(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	a := f.seedActivity(t, 3)
	alice := f.seedCaller(t, "alice")

	closed := f.seedActivity(t, 3)
	_, err := f.activities.ChangeStatus(ctx, f.admin, closed.ID, model.ChangeActivityStatusRequest{To: model.ActivityClosed})
	require.NoError(t, err)

	ghost := model.Identity{UserID: "6f1c2b8e-8d7a-4c1e-9a55-0d1f3a2b4c5d", Role: model.RoleUser}

	tests := []struct {
		name   string
		caller model.Identity
		req    model.EnrollRequest
		kind   apperr.Kind
	}{
		{"activity not open", alice, model.EnrollRequest{ActivityID: closed.ID}, apperr.KindInvalidTransition},
		{"unknown activity", alice, model.EnrollRequest{ActivityID: "0b7e9f1a-3c4d-4e5f-8a9b-1c2d3e4f5a6b"}, apperr.KindNotFound},
		{"unknown user", ghost, model.EnrollRequest{ActivityID: a.ID}, apperr.KindNotFound},
		{"malformed id", alice, model.EnrollRequest{ActivityID: "42"}, apperr.KindInvalidArgument},
		{"missing id", alice, model.EnrollRequest{}, apperr.KindInvalidArgument},
		{"notes too long", alice, model.EnrollRequest{ActivityID: a.ID, Notes: strings.Repeat("x", 201)}, apperr.KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.enrollment.Enroll(ctx, tt.caller, tt.req)
			requireKind(t, err, tt.kind)
		})
	}
	assert.Equal(t, 0, f.activity(t, a.ID).CurrentParticipants)
}

func TestEnroll_ConcurrentNeverExceedsCapacity(t *testing.T) {
	for name, newF := range map[string]func(*testing.T) *fixture{
		"memory": newMemoryFixture,
		"sqlite": newSQLiteFixture,
	} {
		t.Run(name, func(t *testing.T) {
			f := newF(t)
			const capacity, callers = 5, 20
			a := f.seedActivity(t, capacity)

			ids := make([]model.Identity, callers)
			for i := range ids {
				ids[i] = f.seedCaller(t, fmt.Sprintf("user%02d", i))
			}

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				admitted int
				full     int
			)
			for _, caller := range ids {
				wg.Add(1)
				go func(caller model.Identity) {
					defer wg.Done()
					_, err := f.enrollment.Enroll(context.Background(), caller, model.EnrollRequest{ActivityID: a.ID})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						admitted++
					case apperr.IsKind(err, apperr.KindCapacityExceeded):
						full++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(caller)
			}
			wg.Wait()

			assert.Equal(t, capacity, admitted)
			assert.Equal(t, callers-capacity, full)
			assert.Equal(t, capacity, f.activity(t, a.ID).CurrentParticipants)
			assert.Equal(t, capacity, f.activeCount(t, a.ID))
		})
	}
}

func TestEnroll_LastSlotTwoUsers(t *testing.T) {
	f := newMemoryFixture(t)
	a := f.seedActivity(t, 1)
	alice := f.seedCaller(t, "alice")
	bob := f.seedCaller(t, "bob")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, caller := range []model.Identity{alice, bob} {
		wg.Add(1)
		go func(i int, caller model.Identity) {
			defer wg.Done()
			_, errs[i] = f.enrollment.Enroll(context.Background(), caller, model.EnrollRequest{ActivityID: a.ID})
		}(i, caller)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if apperr.IsKind(err, apperr.KindCapacityExceeded) {
			full++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
	assert.Equal(t, 1, f.activity(t, a.ID).CurrentParticipants)
}

func TestEnroll_SameUserConcurrently(t *testing.T) {
	f := newSQLiteFixture(t)
	a := f.seedActivity(t, 10)
	alice := f.seedCaller(t, "alice")

	const attempts = 8
	ids := make([]string, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.enrollment.Enroll(context.Background(), alice, model.EnrollRequest{ActivityID: a.ID})
			if assert.NoError(t, err) {
				ids[i] = v.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.activity(t, a.ID).CurrentParticipants)
}

// snapshotStore hides an active registration from the first FindActive of
// every transaction, as a READ COMMITTED statement that ran before a
// concurrent commit would.
type snapshotStore struct {
	repository.Store
}

func (s snapshotStore) InTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		r.Registrations = &staleFirstLookup{RegistrationRepository: r.Registrations}
		return fn(ctx, r)
	})
}

type staleFirstLookup struct {
	repository.RegistrationRepository
	looked bool
}

func (r *staleFirstLookup) FindActive(ctx context.Context, userID, activityID string) (*model.Registration, error) {
	if !r.looked {
		r.looked = true
		return nil, repository.ErrNotFound
	}
	return r.RegistrationRepository.FindActive(ctx, userID, activityID)
}

func TestEnroll_SameUserRaceForLastSlot(t *testing.T) {
	f := newFixture(t, snapshotStore{Store: repository.NewMemoryStore()})
	ctx := context.Background()
	a := f.seedActivity(t, 1)
	alice := f.seedCaller(t, "alice")

	first, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)

	again, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.activity(t, a.ID).CurrentParticipants)
	assert.Equal(t, 1, f.activeCount(t, a.ID))

	_, err = f.enrollment.Enroll(ctx, f.seedCaller(t, "bob"), model.EnrollRequest{ActivityID: a.ID})
	requireKind(t, err, apperr.KindCapacityExceeded)
}

func TestWithdraw_Twice(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	a := f.seedActivity(t, 2)
	alice := f.seedCaller(t, "alice")

	reg, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)

	withdrawn, err := f.enrollment.Withdraw(ctx, alice, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationCancelled, withdrawn.Status)
	assert.Equal(t, 0, f.activity(t, a.ID).CurrentParticipants)

	_, err = f.enrollment.Withdraw(ctx, alice, reg.ID)
	requireKind(t, err, apperr.KindInvalidTransition)
	assert.Equal(t, 0, f.activity(t, a.ID).CurrentParticipants)

	again, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)
	assert.NotEqual(t, reg.ID, again.ID, "re-enrolling after withdrawal creates a new registration")
	assert.Equal(t, 1, f.activity(t, a.ID).CurrentParticipants)
}

func TestWithdraw_Concurrent(t *testing.T) {
	f := newSQLiteFixture(t)
	a := f.seedActivity(t, 3)
	alice := f.seedCaller(t, "alice")
	bob := f.seedCaller(t, "bob")

	reg, err := f.enrollment.Enroll(context.Background(), alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)
	_, err = f.enrollment.Enroll(context.Background(), bob, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)

	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.enrollment.Withdraw(context.Background(), alice, reg.ID)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			requireKind(t, err, apperr.KindInvalidTransition)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.activity(t, a.ID).CurrentParticipants)
}

func TestWithdraw_Authorization(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	a := f.seedActivity(t, 5)
	alice := f.seedCaller(t, "alice")
	mallory := f.seedCaller(t, "mallory")

	reg, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)

	_, err = f.enrollment.Withdraw(ctx, mallory, reg.ID)
	requireKind(t, err, apperr.KindForbidden)

	_, err = f.enrollment.Withdraw(ctx, alice, "5d1c2b3a-4e5f-4a6b-9c7d-8e9f0a1b2c3d")
	requireKind(t, err, apperr.KindNotFound)

	_, err = f.enrollment.SetStatus(ctx, f.admin, reg.ID, model.SetStatusRequest{Status: "CONFIRMED"})
	require.NoError(t, err)

	_, err = f.enrollment.Withdraw(ctx, alice, reg.ID)
	requireKind(t, err, apperr.KindInvalidTransition)
	assert.Equal(t, 1, f.activity(t, a.ID).CurrentParticipants)

	v, err := f.enrollment.Withdraw(ctx, f.admin, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationCancelled, v.Status)
	assert.Equal(t, 0, f.activity(t, a.ID).CurrentParticipants)
}

func TestSetStatus(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	a := f.seedActivity(t, 5)
	alice := f.seedCaller(t, "alice")

	reg, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)

	_, err = f.enrollment.SetStatus(ctx, alice, reg.ID, model.SetStatusRequest{Status: "CONFIRMED"})
	requireKind(t, err, apperr.KindForbidden)

	_, err = f.enrollment.SetStatus(ctx, f.admin, reg.ID, model.SetStatusRequest{Status: "bogus"})
	requireKind(t, err, apperr.KindInvalidArgument)

	_, err = f.enrollment.SetStatus(ctx, f.admin, "8a7b6c5d-4e3f-4a1b-9c2d-3e4f5a6b7c8d", model.SetStatusRequest{Status: "CONFIRMED"})
	requireKind(t, err, apperr.KindNotFound)

	same, err := f.enrollment.SetStatus(ctx, f.admin, reg.ID, model.SetStatusRequest{Status: "pending"})
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationPending, same.Status)

	confirmed, err := f.enrollment.SetStatus(ctx, f.admin, reg.ID, model.SetStatusRequest{Status: "CONFIRMED"})
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationConfirmed, confirmed.Status)

	_, err = f.enrollment.SetStatus(ctx, f.admin, reg.ID, model.SetStatusRequest{Status: "PENDING"})
	requireKind(t, err, apperr.KindInvalidTransition)

	_, err = f.enrollment.SetStatus(ctx, f.admin, reg.ID, model.SetStatusRequest{Status: "CANCELLED"})
	requireKind(t, err, apperr.KindInvalidTransition)
	assert.Equal(t, 1, f.activity(t, a.ID).CurrentParticipants)
}

func TestSetStatus_CancelReleasesSlot(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	a := f.seedActivity(t, 1)
	alice := f.seedCaller(t, "alice")
	bob := f.seedCaller(t, "bob")

	reg, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)
	_, err = f.enrollment.Enroll(ctx, bob, model.EnrollRequest{ActivityID: a.ID})
	requireKind(t, err, apperr.KindCapacityExceeded)

	_, err = f.enrollment.SetStatus(ctx, f.admin, reg.ID, model.SetStatusRequest{Status: "CANCELLED"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.activity(t, a.ID).CurrentParticipants)

	_, err = f.enrollment.Enroll(ctx, bob, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)

	_, err = f.enrollment.SetStatus(ctx, f.admin, reg.ID, model.SetStatusRequest{Status: "CONFIRMED"})
	requireKind(t, err, apperr.KindInvalidTransition)
}

func TestAmend(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	a := f.seedActivity(t, 5)
	alice := f.seedCaller(t, "alice")

	_, err := f.enrollment.Amend(ctx, alice, a.ID, model.AmendRequest{Notes: "late"})
	requireKind(t, err, apperr.KindNotRegistered)

	reg, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID, Notes: "on time"})
	require.NoError(t, err)

	amended, err := f.enrollment.Amend(ctx, alice, a.ID, model.AmendRequest{Notes: "  ten minutes late  "})
	require.NoError(t, err)
	assert.Equal(t, reg.ID, amended.ID)
	assert.Equal(t, "ten minutes late", amended.Notes)
	assert.Equal(t, model.RegistrationPending, amended.Status)
	assert.Equal(t, 1, f.activity(t, a.ID).CurrentParticipants)

	_, err = f.enrollment.Amend(ctx, alice, a.ID, model.AmendRequest{Notes: strings.Repeat("n", 201)})
	requireKind(t, err, apperr.KindInvalidArgument)

	_, err = f.enrollment.Withdraw(ctx, alice, reg.ID)
	require.NoError(t, err)
	_, err = f.enrollment.Amend(ctx, alice, a.ID, model.AmendRequest{Notes: "back again"})
	requireKind(t, err, apperr.KindInvalidTransition)
}

func TestComment(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	a := f.seedActivity(t, 5)
	alice := f.seedCaller(t, "alice")
	bob := f.seedCaller(t, "bob")

	_, err := f.enrollment.Comment(ctx, bob, a.ID, model.CommentRequest{Rating: 5, Content: "Lovely game"})
	requireKind(t, err, apperr.KindNotRegistered)

	reg, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)
	_, err = f.enrollment.Withdraw(ctx, alice, reg.ID)
	require.NoError(t, err)

	first, err := f.enrollment.Comment(ctx, alice, a.ID, model.CommentRequest{Rating: 2, Content: "Could not make it"})
	require.NoError(t, err, "a cancelled registration still allows commenting")
	assert.Equal(t, "alice", first.User.Username)

	second, err := f.enrollment.Comment(ctx, alice, a.ID, model.CommentRequest{Rating: 4, Content: "Went the next week, great"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := f.enrollment.ListComments(ctx, a.ID, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Comments, 1)
	assert.Equal(t, 4, list.Comments[0].Rating)
	assert.Equal(t, "Went the next week, great", list.Comments[0].Content)

	tests := []struct {
		name string
		req  model.CommentRequest
	}{
		{"rating too low", model.CommentRequest{Rating: 0, Content: "fine enough"}},
		{"rating too high", model.CommentRequest{Rating: 6, Content: "fine enough"}},
		{"content too short", model.CommentRequest{Rating: 3, Content: "ok"}},
		{"content too long", model.CommentRequest{Rating: 3, Content: strings.Repeat("c", 501)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.enrollment.Comment(ctx, alice, a.ID, tt.req)
			requireKind(t, err, apperr.KindInvalidArgument)
		})
	}
}

func TestListing(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	alice := f.seedCaller(t, "alice")
	bob := f.seedCaller(t, "bob")
	a := f.seedActivity(t, 10)
	b := f.seedActivity(t, 10)

	for _, activity := range []*model.Activity{a, b} {
		_, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: activity.ID})
		require.NoError(t, err)
	}
	_, err := f.enrollment.Enroll(ctx, bob, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)

	mine, err := f.enrollment.ListMine(ctx, alice, model.RegistrationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Total)
	assert.Equal(t, 1, mine.Page)
	assert.Equal(t, 10, mine.Limit)

	page, err := f.enrollment.ListForActivity(ctx, a.ID, model.RegistrationFilter{Page: model.Page{Page: 1, Limit: 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Registrations, 1)

	confirmed, err := f.enrollment.ListForActivity(ctx, a.ID, model.RegistrationFilter{Status: "confirmed"})
	require.NoError(t, err)
	assert.Equal(t, 0, confirmed.Total)
	assert.NotNil(t, confirmed.Registrations)

	_, err = f.enrollment.ListForActivity(ctx, "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d", model.RegistrationFilter{})
	requireKind(t, err, apperr.KindNotFound)

	_, err = f.enrollment.ListMine(ctx, alice, model.RegistrationFilter{Page: model.Page{Page: 1, Limit: 101}})
	requireKind(t, err, apperr.KindInvalidArgument)

	_, err = f.enrollment.ListMine(ctx, alice, model.RegistrationFilter{Page: model.Page{Page: -1}})
	requireKind(t, err, apperr.KindInvalidArgument)

	_, err = f.enrollment.ListMine(ctx, alice, model.RegistrationFilter{Status: "WAITLISTED"})
	requireKind(t, err, apperr.KindInvalidArgument)
}

func TestGetRegistration(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	a := f.seedActivity(t, 5)
	alice := f.seedCaller(t, "alice")
	bob := f.seedCaller(t, "bob")

	reg, err := f.enrollment.Enroll(ctx, alice, model.EnrollRequest{ActivityID: a.ID})
	require.NoError(t, err)

	got, err := f.enrollment.Get(ctx, alice, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, got.ID)

	_, err = f.enrollment.Get(ctx, f.admin, reg.ID)
	require.NoError(t, err)

	_, err = f.enrollment.Get(ctx, bob, reg.ID)
	requireKind(t, err, apperr.KindForbidden)
}
