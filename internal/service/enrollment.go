package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/repository"
)

// EnrollmentService runs the registration lifecycle against an activity's
// capacity.
//
// The participant counter is only ever changed by single conditional
// updates in the store. The service holds no shared mutable state, so any
// number of request workers may call it concurrently.
type EnrollmentService struct {
	Deps
}

// NewEnrollmentService constructs an EnrollmentService with its dependencies.
func NewEnrollmentService(deps Deps) *EnrollmentService {
	return &EnrollmentService{Deps: deps.withDefaults()}
}

// Enroll claims a slot of the activity for the caller.
//
// Enrolling twice returns the existing active registration without touching
// the counter. When two requests by the same user race, the loser's insert
// hits the active-pair unique index, its transaction rolls back, and the
// winner's registration is returned. If the winner took the last slot the
// loser is refused admission instead, and the same lookup applies.
func (s *EnrollmentService) Enroll(ctx context.Context, caller model.Identity, req model.EnrollRequest) (view *model.RegistrationView, err error) {
	start := time.Now()
	defer func() { s.observe("enroll", start, err) }()

	req.Notes = strings.TrimSpace(req.Notes)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	activityID, err := parseID("activityId", req.ActivityID)
	if err != nil {
		return nil, err
	}
	userID, err := parseID("userId", caller.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		v, err := enroll(ctx, r, userID, activityID, req.Notes, now)
		view = v
		return err
	})
	if errors.Is(err, repository.ErrDuplicate) {
		err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
			reg, err := r.Registrations.FindActive(ctx, userID, activityID)
			if err != nil {
				return notFound(err, "registration")
			}
			view, err = project(ctx, r, reg)
			return err
		})
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

func enroll(ctx context.Context, r repository.Repos, userID, activityID, notes string, now time.Time) (*model.RegistrationView, error) {
	user, err := r.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	activity, err := r.Activities.GetByID(ctx, activityID)
	if err != nil {
		return nil, notFound(err, "activity")
	}
	if activity.Status != model.ActivityOpen {
		return nil, apperr.Newf(apperr.KindInvalidTransition, "activity is %s, not open for enrollment", activity.Status)
	}

	existing, err := r.Registrations.FindActive(ctx, userID, activityID)
	switch {
	case err == nil:
		v := model.NewRegistrationView(existing, activity, user)
		return &v, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	admitted, err := r.Activities.IncrementParticipants(ctx, activityID, 1, now)
	if err != nil {
		return nil, err
	}
	if !admitted {
		// The guard covers both capacity and status; re-read to report the
		// one that failed.
		current, err := r.Activities.GetByID(ctx, activityID)
		if err != nil {
			return nil, notFound(err, "activity")
		}
		// A concurrent enroll by the same user may have taken the last slot
		// after the first lookup. A new statement sees its committed row.
		existing, err := r.Registrations.FindActive(ctx, userID, activityID)
		switch {
		case err == nil:
			v := model.NewRegistrationView(existing, current, user)
			return &v, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
		if current.Status != model.ActivityOpen {
			return nil, apperr.Newf(apperr.KindInvalidTransition, "activity is %s, not open for enrollment", current.Status)
		}
		return nil, apperr.New(apperr.KindCapacityExceeded, "activity is full")
	}

	reg := &model.Registration{
		UserID:     userID,
		ActivityID: activityID,
		Status:     model.RegistrationPending,
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.Registrations.Create(ctx, reg); err != nil {
		return nil, err
	}
	v := model.NewRegistrationView(reg, activity, user)
	return &v, nil
}

// Amend replaces the notes on the caller's latest registration for the
// activity. The status and the counter are untouched.
func (s *EnrollmentService) Amend(ctx context.Context, caller model.Identity, activityID string, req model.AmendRequest) (view *model.RegistrationView, err error) {
	start := time.Now()
	defer func() { s.observe("amend", start, err) }()

	req.Notes = strings.TrimSpace(req.Notes)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if activityID, err = parseID("activityId", activityID); err != nil {
		return nil, err
	}
	userID, err := parseID("userId", caller.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		reg, err := r.Registrations.FindLatest(ctx, userID, activityID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.New(apperr.KindNotRegistered, "no registration for this activity")
			}
			return err
		}
		if reg.Status == model.RegistrationCancelled {
			return apperr.New(apperr.KindInvalidTransition, "registration is cancelled")
		}
		if err := r.Registrations.UpdateNotes(ctx, reg.ID, req.Notes, now); err != nil {
			return notFound(err, "registration")
		}
		reg.Notes = req.Notes
		reg.UpdatedAt = now
		view, err = project(ctx, r, reg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Withdraw cancels a registration and releases its slot.
//
// Owners may withdraw PENDING registrations; administrators may also
// withdraw CONFIRMED ones. The transition is conditioned on the status read
// at the start of the transaction, so of two concurrent withdrawals exactly
// one decrements the counter.
func (s *EnrollmentService) Withdraw(ctx context.Context, caller model.Identity, registrationID string) (view *model.RegistrationView, err error) {
	start := time.Now()
	defer func() { s.observe("withdraw", start, err) }()

	if registrationID, err = parseID("registrationId", registrationID); err != nil {
		return nil, err
	}

	now := s.now()
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		reg, err := r.Registrations.GetByID(ctx, registrationID)
		if err != nil {
			return notFound(err, "registration")
		}
		if !canManage(caller, reg.UserID) {
			return apperr.New(apperr.KindForbidden, "not allowed to withdraw this registration")
		}
		switch reg.Status {
		case model.RegistrationCancelled:
			return apperr.New(apperr.KindInvalidTransition, "registration is already cancelled")
		case model.RegistrationConfirmed:
			if !caller.IsAdmin() {
				return apperr.New(apperr.KindInvalidTransition, "confirmed registrations can only be cancelled by an administrator")
			}
		}

		if err := release(ctx, r, reg, now); err != nil {
			return err
		}
		view, err = project(ctx, r, reg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// SetStatus is the administrative status change. PENDING may move to
// CONFIRMED or CANCELLED; CONFIRMED registrations leave only through
// Withdraw. Setting the current status again is a no-op.
func (s *EnrollmentService) SetStatus(ctx context.Context, caller model.Identity, registrationID string, req model.SetStatusRequest) (view *model.RegistrationView, err error) {
	start := time.Now()
	defer func() { s.observe("set_status", start, err) }()

	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	next, ok := model.ParseRegistrationStatus(req.Status)
	if !ok {
		return nil, apperr.Newf(apperr.KindInvalidArgument, "unknown registration status %q", req.Status)
	}
	if registrationID, err = parseID("registrationId", registrationID); err != nil {
		return nil, err
	}

	now := s.now()
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		reg, err := r.Registrations.GetByID(ctx, registrationID)
		if err != nil {
			return notFound(err, "registration")
		}
		if reg.Status == next {
			view, err = project(ctx, r, reg)
			return err
		}
		if !reg.Status.CanSetTo(next) {
			return apperr.Newf(apperr.KindInvalidTransition, "cannot change registration from %s to %s", reg.Status, next)
		}

		if next == model.RegistrationCancelled {
			err = release(ctx, r, reg, now)
		} else {
			err = transition(ctx, r, reg, next, now)
		}
		if err != nil {
			return err
		}
		view, err = project(ctx, r, reg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// transition moves reg to next if it is still in the status it was read in.
func transition(ctx context.Context, r repository.Repos, reg *model.Registration, next model.RegistrationStatus, now time.Time) error {
	ok, err := r.Registrations.TransitionStatus(ctx, reg.ID, reg.Status, next, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindInvalidTransition, "registration status changed concurrently")
	}
	reg.Status = next
	reg.UpdatedAt = now
	return nil
}

// release cancels reg and gives its slot back to the activity.
func release(ctx context.Context, r repository.Repos, reg *model.Registration, now time.Time) error {
	if err := transition(ctx, r, reg, model.RegistrationCancelled, now); err != nil {
		return err
	}
	if err := r.Activities.DecrementParticipants(ctx, reg.ActivityID, 1, 0, now); err != nil {
		return notFound(err, "activity")
	}
	return nil
}

// Comment creates or replaces the caller's single comment on an activity.
// Any registration, including a cancelled one, qualifies the caller.
func (s *EnrollmentService) Comment(ctx context.Context, caller model.Identity, activityID string, req model.CommentRequest) (view *model.CommentView, err error) {
	start := time.Now()
	defer func() { s.observe("comment", start, err) }()

	req.Content = strings.TrimSpace(req.Content)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if activityID, err = parseID("activityId", activityID); err != nil {
		return nil, err
	}
	userID, err := parseID("userId", caller.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		registered, err := r.Registrations.Exists(ctx, userID, activityID)
		if err != nil {
			return err
		}
		if !registered {
			return apperr.New(apperr.KindNotRegistered, "only participants can comment on an activity")
		}
		if _, err := r.Activities.GetByID(ctx, activityID); err != nil {
			return notFound(err, "activity")
		}
		user, err := r.Users.GetByID(ctx, userID)
		if err != nil {
			return notFound(err, "user")
		}

		c := &model.Comment{
			UserID:     userID,
			ActivityID: activityID,
			Rating:     req.Rating,
			Content:    req.Content,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := r.Comments.Upsert(ctx, c); err != nil {
			return err
		}
		v := model.NewCommentView(c, user)
		view = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Get returns one registration to its owner or an administrator.
func (s *EnrollmentService) Get(ctx context.Context, caller model.Identity, registrationID string) (view *model.RegistrationView, err error) {
	if registrationID, err = parseID("registrationId", registrationID); err != nil {
		return nil, err
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		reg, err := r.Registrations.GetByID(ctx, registrationID)
		if err != nil {
			return notFound(err, "registration")
		}
		if !canManage(caller, reg.UserID) {
			return apperr.New(apperr.KindForbidden, "not allowed to view this registration")
		}
		view, err = project(ctx, r, reg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListMine pages through the caller's registrations, newest first.
func (s *EnrollmentService) ListMine(ctx context.Context, caller model.Identity, f model.RegistrationFilter) (list *model.RegistrationList, err error) {
	start := time.Now()
	defer func() { s.observe("list_mine", start, err) }()

	userID, err := parseID("userId", caller.UserID)
	if err != nil {
		return nil, err
	}
	if f, err = normalizeRegistrationFilter(f); err != nil {
		return nil, err
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		views, total, err := r.Registrations.ListByUser(ctx, userID, f)
		if err != nil {
			return err
		}
		list = newRegistrationList(views, total, f.Page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListForActivity pages through an activity's registrations, newest first.
func (s *EnrollmentService) ListForActivity(ctx context.Context, activityID string, f model.RegistrationFilter) (list *model.RegistrationList, err error) {
	start := time.Now()
	defer func() { s.observe("list_for_activity", start, err) }()

	if activityID, err = parseID("activityId", activityID); err != nil {
		return nil, err
	}
	if f, err = normalizeRegistrationFilter(f); err != nil {
		return nil, err
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		if _, err := r.Activities.GetByID(ctx, activityID); err != nil {
			return notFound(err, "activity")
		}
		views, total, err := r.Registrations.ListByActivity(ctx, activityID, f)
		if err != nil {
			return err
		}
		list = newRegistrationList(views, total, f.Page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListComments pages through an activity's comments, newest first.
func (s *EnrollmentService) ListComments(ctx context.Context, activityID string, p model.Page) (list *model.CommentList, err error) {
	if activityID, err = parseID("activityId", activityID); err != nil {
		return nil, err
	}
	if p, err = normalizePage(p); err != nil {
		return nil, err
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		if _, err := r.Activities.GetByID(ctx, activityID); err != nil {
			return notFound(err, "activity")
		}
		views, total, err := r.Comments.ListByActivity(ctx, activityID, p)
		if err != nil {
			return err
		}
		if views == nil {
			views = []model.CommentView{}
		}
		list = &model.CommentList{Comments: views, Total: total, Page: p.Page, Limit: p.Limit}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func normalizeRegistrationFilter(f model.RegistrationFilter) (model.RegistrationFilter, error) {
	if f.Status != "" {
		status, ok := model.ParseRegistrationStatus(string(f.Status))
		if !ok {
			return f, apperr.Newf(apperr.KindInvalidArgument, "unknown registration status %q", f.Status)
		}
		f.Status = status
	}
	page, err := normalizePage(f.Page)
	f.Page = page
	return f, err
}

func newRegistrationList(views []model.RegistrationView, total int, p model.Page) *model.RegistrationList {
	if views == nil {
		views = []model.RegistrationView{}
	}
	return &model.RegistrationList{Registrations: views, Total: total, Page: p.Page, Limit: p.Limit}
}

// project loads the activity and user summaries for reg.
func project(ctx context.Context, r repository.Repos, reg *model.Registration) (*model.RegistrationView, error) {
	activity, err := r.Activities.GetByID(ctx, reg.ActivityID)
	if err != nil {
		return nil, notFound(err, "activity")
	}
	user, err := r.Users.GetByID(ctx, reg.UserID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	v := model.NewRegistrationView(reg, activity, user)
	return &v, nil
}
