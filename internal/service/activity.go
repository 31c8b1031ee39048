package service

import (
	"context"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/repository"
)

// detailComments is how many comments an activity detail carries.
const detailComments = 50

// ActivityService manages the activity catalogue. Writes are restricted to
// administrators.
type ActivityService struct {
	Deps
}

// NewActivityService constructs an ActivityService with its dependencies.
func NewActivityService(deps Deps) *ActivityService {
	return &ActivityService{Deps: deps.withDefaults()}
}

// Create validates the request and stores a new OPEN activity.
func (s *ActivityService) Create(ctx context.Context, caller model.Identity, req model.CreateActivityRequest) (a *model.Activity, err error) {
	start := time.Now()
	defer func() { s.observe("create_activity", start, err) }()

	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Location = strings.TrimSpace(req.Location)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	now := s.now()
	if req.StartTime.Before(now) {
		return nil, apperr.New(apperr.KindInvalidArgument, "startTime must not be in the past")
	}

	a = &model.Activity{
		Title:           req.Title,
		Description:     req.Description,
		Type:            req.Type,
		Location:        req.Location,
		Price:           req.Price,
		ImageURL:        req.ImageURL,
		StartTime:       req.StartTime.UTC().Truncate(time.Millisecond),
		EndTime:         req.EndTime.UTC().Truncate(time.Millisecond),
		MaxParticipants: req.MaxParticipants,
		Status:          model.ActivityOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		return r.Activities.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("activity created", "activity_id", a.ID, "capacity", a.MaxParticipants)
	return a, nil
}

// Update applies a partial update. The row is locked for the duration so
// that capacity cannot be lowered beneath a concurrent admission.
func (s *ActivityService) Update(ctx context.Context, caller model.Identity, id string, req model.UpdateActivityRequest) (a *model.Activity, err error) {
	start := time.Now()
	defer func() { s.observe("update_activity", start, err) }()

	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if id, err = parseID("activityId", id); err != nil {
		return nil, err
	}

	now := s.now()
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		current, err := r.Activities.GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, "activity")
		}
		if err := applyUpdate(current, req); err != nil {
			return err
		}
		current.UpdatedAt = now
		if err := r.Activities.Update(ctx, current); err != nil {
			return notFound(err, "activity")
		}
		a = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func applyUpdate(a *model.Activity, req model.UpdateActivityRequest) error {
	if req.Title != nil {
		a.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		a.Description = strings.TrimSpace(*req.Description)
	}
	if req.Type != nil {
		a.Type = *req.Type
	}
	if req.Location != nil {
		a.Location = strings.TrimSpace(*req.Location)
	}
	if req.Price != nil {
		a.Price = *req.Price
	}
	if req.ImageURL != nil {
		a.ImageURL = *req.ImageURL
	}
	if req.StartTime != nil {
		a.StartTime = req.StartTime.UTC().Truncate(time.Millisecond)
	}
	if req.EndTime != nil {
		a.EndTime = req.EndTime.UTC().Truncate(time.Millisecond)
	}
	if req.MaxParticipants != nil {
		a.MaxParticipants = *req.MaxParticipants
	}
	if !a.StartTime.Before(a.EndTime) {
		return apperr.New(apperr.KindInvalidArgument, "startTime must be before endTime")
	}
	if a.MaxParticipants < a.CurrentParticipants {
		return apperr.Newf(apperr.KindInvalidArgument,
			"maxParticipants cannot be below the %d current participants", a.CurrentParticipants)
	}
	return nil
}

// Delete removes an activity that nobody has registered for. Its comments
// go with it.
func (s *ActivityService) Delete(ctx context.Context, caller model.Identity, id string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete_activity", start, err) }()

	if err := requireAdmin(caller); err != nil {
		return err
	}
	if id, err = parseID("activityId", id); err != nil {
		return err
	}
	return s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		if _, err := r.Activities.GetForUpdate(ctx, id); err != nil {
			return notFound(err, "activity")
		}
		n, err := r.Registrations.CountByActivity(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Newf(apperr.KindInvalidTransition, "activity has %d registrations and cannot be deleted", n)
		}
		if err := r.Activities.Delete(ctx, id); err != nil {
			return notFound(err, "activity")
		}
		return nil
	})
}

// ChangeStatus moves the activity to req.To. When req.From is set the move
// only happens if the activity is still in that status.
func (s *ActivityService) ChangeStatus(ctx context.Context, caller model.Identity, id string, req model.ChangeActivityStatusRequest) (a *model.Activity, err error) {
	start := time.Now()
	defer func() { s.observe("change_activity_status", start, err) }()

	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if !req.To.Valid() {
		return nil, apperr.Newf(apperr.KindInvalidArgument, "unknown activity status %q", req.To)
	}
	if req.From != "" && !req.From.Valid() {
		return nil, apperr.Newf(apperr.KindInvalidArgument, "unknown activity status %q", req.From)
	}
	if id, err = parseID("activityId", id); err != nil {
		return nil, err
	}

	now := s.now()
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		if _, err := r.Activities.GetByID(ctx, id); err != nil {
			return notFound(err, "activity")
		}
		ok, err := r.Activities.CompareAndSetStatus(ctx, id, req.From, req.To, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Newf(apperr.KindInvalidTransition, "activity is no longer %s", req.From)
		}
		a, err = r.Activities.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("activity status changed", "activity_id", id, "status", req.To)
	return a, nil
}

// Get returns the activity with its average rating and latest comments.
func (s *ActivityService) Get(ctx context.Context, id string) (detail *model.ActivityDetail, err error) {
	if id, err = parseID("activityId", id); err != nil {
		return nil, err
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		a, err := r.Activities.GetByID(ctx, id)
		if err != nil {
			return notFound(err, "activity")
		}
		comments, _, err := r.Comments.ListByActivity(ctx, id, model.Page{Page: 1, Limit: detailComments})
		if err != nil {
			return err
		}
		avg, err := r.Comments.AverageRating(ctx, id)
		if err != nil {
			return err
		}
		if comments == nil {
			comments = []model.CommentView{}
		}
		detail = &model.ActivityDetail{Activity: *a, AverageRating: avg, Comments: comments}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns one page of activities in creation order.
func (s *ActivityService) List(ctx context.Context, f model.ActivityFilter) (list *model.ActivityList, err error) {
	f.Keyword = strings.TrimSpace(f.Keyword)
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Newf(apperr.KindInvalidArgument, "unknown activity status %q", f.Status)
	}
	if f.Page, err = normalizePage(f.Page); err != nil {
		return nil, err
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		activities, total, err := r.Activities.List(ctx, f)
		if err != nil {
			return err
		}
		if activities == nil {
			activities = []model.Activity{}
		}
		list = &model.ActivityList{Activities: activities, Total: total, Page: f.Page.Page, Limit: f.Page.Limit}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}
