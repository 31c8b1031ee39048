package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
)

// MemoryStore is an in-process Store. Transactions are serialised by a
// single mutex and rolled back by restoring a snapshot of the state.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	seq           int64
	activities    map[string]memRecord[model.Activity]
	registrations map[string]memRecord[model.Registration]
	comments      map[string]memRecord[model.Comment]
	users         map[string]memRecord[model.User]
}

// memRecord keeps insertion order so listings are stable when timestamps tie.
type memRecord[T any] struct {
	seq int64
	v   T
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		activities:    map[string]memRecord[model.Activity]{},
		registrations: map[string]memRecord[model.Registration]{},
		comments:      map[string]memRecord[model.Comment]{},
		users:         map[string]memRecord[model.User]{},
	}}
}

// InTx runs fn with exclusive access to the store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	st := &s.state
	repos := Repos{
		Activities:    memActivities{st},
		Registrations: memRegistrations{st},
		Comments:      memComments{st},
		Users:         memUsers{st},
	}
	if err := fn(ctx, repos); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (st memState) clone() memState {
	return memState{
		seq:           st.seq,
		activities:    cloneMap(st.activities),
		registrations: cloneMap(st.registrations),
		comments:      cloneMap(st.comments),
		users:         cloneMap(st.users),
	}
}

func cloneMap[T any](m map[string]memRecord[T]) map[string]memRecord[T] {
	out := make(map[string]memRecord[T], len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (st *memState) next() int64 {
	st.seq++
	return st.seq
}

// sortNewestFirst orders records by creation time descending, falling back
// to insertion order.
func sortNewestFirst[T any](recs []memRecord[T], createdAt func(T) time.Time) {
	sort.Slice(recs, func(i, j int) bool {
		ti, tj := createdAt(recs[i].v), createdAt(recs[j].v)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return recs[i].seq > recs[j].seq
	})
}

func paginate[T any](items []T, p model.Page) []T {
	start := p.Offset()
	if start >= len(items) {
		return nil
	}
	end := start + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// ─── Activities ──────────────────────────────────────────────────────────────

type memActivities struct{ st *memState }

func (r memActivities) Create(_ context.Context, a *model.Activity) error {
	a.ID = uuid.New().String()
	r.st.activities[a.ID] = memRecord[model.Activity]{seq: r.st.next(), v: *a}
	return nil
}

func (r memActivities) GetByID(_ context.Context, id string) (*model.Activity, error) {
	rec, ok := r.st.activities[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := rec.v
	return &a, nil
}

func (r memActivities) GetForUpdate(ctx context.Context, id string) (*model.Activity, error) {
	return r.GetByID(ctx, id)
}

func (r memActivities) List(_ context.Context, f model.ActivityFilter) ([]model.Activity, int, error) {
	var recs []memRecord[model.Activity]
	for _, rec := range r.st.activities {
		a := rec.v
		if f.Keyword != "" && !strings.Contains(strings.ToLower(a.Title), strings.ToLower(f.Keyword)) {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.StartFrom != nil && a.StartTime.Before(*f.StartFrom) {
			continue
		}
		if f.StartTo != nil && a.StartTime.After(*f.StartTo) {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	out := make([]model.Activity, 0, len(recs))
	for _, rec := range paginate(recs, f.Page) {
		out = append(out, rec.v)
	}
	return out, len(recs), nil
}

func (r memActivities) ListIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(r.st.activities))
	for id := range r.st.activities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r memActivities) Update(_ context.Context, a *model.Activity) error {
	rec, ok := r.st.activities[a.ID]
	if !ok {
		return ErrNotFound
	}
	cur := rec.v
	cur.Title = a.Title
	cur.Description = a.Description
	cur.Type = a.Type
	cur.Location = a.Location
	cur.Price = a.Price
	cur.ImageURL = a.ImageURL
	cur.StartTime = a.StartTime
	cur.EndTime = a.EndTime
	cur.MaxParticipants = a.MaxParticipants
	cur.UpdatedAt = a.UpdatedAt
	rec.v = cur
	r.st.activities[a.ID] = rec
	return nil
}

func (r memActivities) Delete(_ context.Context, id string) error {
	if _, ok := r.st.activities[id]; !ok {
		return ErrNotFound
	}
	delete(r.st.activities, id)
	for cid, c := range r.st.comments {
		if c.v.ActivityID == id {
			delete(r.st.comments, cid)
		}
	}
	return nil
}

func (r memActivities) CompareAndSetStatus(_ context.Context, id string, from, to model.ActivityStatus, now time.Time) (bool, error) {
	rec, ok := r.st.activities[id]
	if !ok || (from != "" && rec.v.Status != from) {
		return false, nil
	}
	rec.v.Status = to
	rec.v.UpdatedAt = now
	r.st.activities[id] = rec
	return true, nil
}

func (r memActivities) IncrementParticipants(_ context.Context, id string, by int, now time.Time) (bool, error) {
	rec, ok := r.st.activities[id]
	if !ok || rec.v.Status != model.ActivityOpen || rec.v.CurrentParticipants+by > rec.v.MaxParticipants {
		return false, nil
	}
	rec.v.CurrentParticipants += by
	rec.v.UpdatedAt = now
	r.st.activities[id] = rec
	return true, nil
}

func (r memActivities) DecrementParticipants(_ context.Context, id string, by, floor int, now time.Time) error {
	rec, ok := r.st.activities[id]
	if !ok {
		return ErrNotFound
	}
	rec.v.CurrentParticipants = max(rec.v.CurrentParticipants-by, floor)
	rec.v.UpdatedAt = now
	r.st.activities[id] = rec
	return nil
}

func (r memActivities) SetParticipants(_ context.Context, id string, n int, now time.Time) error {
	rec, ok := r.st.activities[id]
	if !ok {
		return ErrNotFound
	}
	rec.v.CurrentParticipants = n
	rec.v.UpdatedAt = now
	r.st.activities[id] = rec
	return nil
}

// ─── Registrations ───────────────────────────────────────────────────────────

type memRegistrations struct{ st *memState }

func (r memRegistrations) Create(_ context.Context, reg *model.Registration) error {
	if reg.Active() {
		for _, rec := range r.st.registrations {
			if rec.v.UserID == reg.UserID && rec.v.ActivityID == reg.ActivityID && rec.v.Active() {
				return ErrDuplicate
			}
		}
	}
	reg.ID = uuid.New().String()
	r.st.registrations[reg.ID] = memRecord[model.Registration]{seq: r.st.next(), v: *reg}
	return nil
}

func (r memRegistrations) GetByID(_ context.Context, id string) (*model.Registration, error) {
	rec, ok := r.st.registrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	reg := rec.v
	return &reg, nil
}

func (r memRegistrations) pair(userID, activityID string) []memRecord[model.Registration] {
	var recs []memRecord[model.Registration]
	for _, rec := range r.st.registrations {
		if rec.v.UserID == userID && rec.v.ActivityID == activityID {
			recs = append(recs, rec)
		}
	}
	sortNewestFirst(recs, func(reg model.Registration) time.Time { return reg.CreatedAt })
	return recs
}

func (r memRegistrations) FindActive(_ context.Context, userID, activityID string) (*model.Registration, error) {
	for _, rec := range r.pair(userID, activityID) {
		if rec.v.Active() {
			reg := rec.v
			return &reg, nil
		}
	}
	return nil, ErrNotFound
}

func (r memRegistrations) FindLatest(_ context.Context, userID, activityID string) (*model.Registration, error) {
	recs := r.pair(userID, activityID)
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	reg := recs[0].v
	return &reg, nil
}

func (r memRegistrations) Exists(_ context.Context, userID, activityID string) (bool, error) {
	return len(r.pair(userID, activityID)) > 0, nil
}

func (r memRegistrations) UpdateNotes(_ context.Context, id, notes string, now time.Time) error {
	rec, ok := r.st.registrations[id]
	if !ok {
		return ErrNotFound
	}
	rec.v.Notes = notes
	rec.v.UpdatedAt = now
	r.st.registrations[id] = rec
	return nil
}

func (r memRegistrations) TransitionStatus(_ context.Context, id string, from, to model.RegistrationStatus, now time.Time) (bool, error) {
	rec, ok := r.st.registrations[id]
	if !ok || rec.v.Status != from {
		return false, nil
	}
	rec.v.Status = to
	rec.v.UpdatedAt = now
	r.st.registrations[id] = rec
	return true, nil
}

func (r memRegistrations) list(match func(model.Registration) bool, f model.RegistrationFilter) ([]model.RegistrationView, int, error) {
	var recs []memRecord[model.Registration]
	for _, rec := range r.st.registrations {
		if !match(rec.v) || (f.Status != "" && rec.v.Status != f.Status) {
			continue
		}
		recs = append(recs, rec)
	}
	sortNewestFirst(recs, func(reg model.Registration) time.Time { return reg.CreatedAt })

	out := make([]model.RegistrationView, 0, len(recs))
	for _, rec := range paginate(recs, f.Page) {
		reg := rec.v
		a := r.st.activities[reg.ActivityID].v
		u := r.st.users[reg.UserID].v
		out = append(out, model.NewRegistrationView(&reg, &a, &u))
	}
	return out, len(recs), nil
}

func (r memRegistrations) ListByUser(_ context.Context, userID string, f model.RegistrationFilter) ([]model.RegistrationView, int, error) {
	return r.list(func(reg model.Registration) bool { return reg.UserID == userID }, f)
}

func (r memRegistrations) ListByActivity(_ context.Context, activityID string, f model.RegistrationFilter) ([]model.RegistrationView, int, error) {
	return r.list(func(reg model.Registration) bool { return reg.ActivityID == activityID }, f)
}

func (r memRegistrations) CountActive(_ context.Context, activityID string) (int, error) {
	n := 0
	for _, rec := range r.st.registrations {
		if rec.v.ActivityID == activityID && rec.v.Active() {
			n++
		}
	}
	return n, nil
}

func (r memRegistrations) CountByActivity(_ context.Context, activityID string) (int, error) {
	n := 0
	for _, rec := range r.st.registrations {
		if rec.v.ActivityID == activityID {
			n++
		}
	}
	return n, nil
}

// ─── Comments ────────────────────────────────────────────────────────────────

type memComments struct{ st *memState }

func (r memComments) Upsert(_ context.Context, c *model.Comment) error {
	for id, rec := range r.st.comments {
		if rec.v.UserID == c.UserID && rec.v.ActivityID == c.ActivityID {
			rec.v.Rating = c.Rating
			rec.v.Content = c.Content
			rec.v.UpdatedAt = c.UpdatedAt
			r.st.comments[id] = rec
			*c = rec.v
			return nil
		}
	}
	c.ID = uuid.New().String()
	r.st.comments[c.ID] = memRecord[model.Comment]{seq: r.st.next(), v: *c}
	return nil
}

func (r memComments) FindByUserAndActivity(_ context.Context, userID, activityID string) (*model.Comment, error) {
	for _, rec := range r.st.comments {
		if rec.v.UserID == userID && rec.v.ActivityID == activityID {
			c := rec.v
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r memComments) byActivity(activityID string) []memRecord[model.Comment] {
	var recs []memRecord[model.Comment]
	for _, rec := range r.st.comments {
		if rec.v.ActivityID == activityID {
			recs = append(recs, rec)
		}
	}
	return recs
}

func (r memComments) ListByActivity(_ context.Context, activityID string, p model.Page) ([]model.CommentView, int, error) {
	recs := r.byActivity(activityID)
	sortNewestFirst(recs, func(c model.Comment) time.Time { return c.CreatedAt })

	out := make([]model.CommentView, 0, len(recs))
	for _, rec := range paginate(recs, p) {
		c := rec.v
		u := r.st.users[c.UserID].v
		out = append(out, model.NewCommentView(&c, &u))
	}
	return out, len(recs), nil
}

func (r memComments) CountByActivity(_ context.Context, activityID string) (int, error) {
	return len(r.byActivity(activityID)), nil
}

func (r memComments) AverageRating(_ context.Context, activityID string) (float64, error) {
	recs := r.byActivity(activityID)
	if len(recs) == 0 {
		return 0, nil
	}
	sum := 0
	for _, rec := range recs {
		sum += rec.v.Rating
	}
	return float64(sum) / float64(len(recs)), nil
}

// ─── Users ───────────────────────────────────────────────────────────────────

type memUsers struct{ st *memState }

func (r memUsers) Create(_ context.Context, u *model.User) error {
	for _, rec := range r.st.users {
		if rec.v.Username == u.Username || strings.EqualFold(rec.v.Email, u.Email) {
			return ErrDuplicate
		}
	}
	u.ID = uuid.New().String()
	r.st.users[u.ID] = memRecord[model.User]{seq: r.st.next(), v: *u}
	return nil
}

func (r memUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	rec, ok := r.st.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := rec.v
	return &u, nil
}

func (r memUsers) find(match func(model.User) bool) (*model.User, error) {
	for _, rec := range r.st.users {
		if match(rec.v) {
			u := rec.v
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Username == username })
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u model.User) bool { return strings.EqualFold(u.Email, email) })
}
