// Package reconcile audits participant counters against the registrations
// that back them.
//
// The counter is maintained by conditional updates and should never drift.
// The audit exists to detect and repair damage from out-of-band writes such
// as manual SQL, and runs on a cron schedule:
//
//	trigger, err := reconcile.NewTrigger("@every 10m", reconciler, logger)
//	if err != nil {
//	    return err
//	}
//	trigger.Start(ctx) // returns immediately, runs until ctx is cancelled
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/metrics"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/repository"
)

// ErrInvalidSchedule is returned when the cron expression cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid cron schedule")

// Reconciler compares each activity's counter with its active registrations.
type Reconciler struct {
	store   repository.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// New constructs a Reconciler. metrics may be nil.
func New(store repository.Store, logger *slog.Logger, rec *metrics.Recorder) *Reconciler {
	return &Reconciler{store: store, logger: logger, metrics: rec, now: time.Now}
}

// RunOnce audits every activity and repairs the counters that disagree with
// their registrations. Each activity is checked in its own transaction with
// the activity row locked, so concurrent enrollments cannot slip between the
// count and the repair.
func (r *Reconciler) RunOnce(ctx context.Context) ([]model.CounterDrift, error) {
	var ids []string
	err := r.store.InTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		var err error
		ids, err = repos.Activities.ListIDs(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	var drifts []model.CounterDrift
	repaired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return drifts, err
		}
		drift, fixed, err := r.check(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return drifts, fmt.Errorf("reconcile activity %s: %w", id, err)
		}
		if drift == nil {
			continue
		}
		drifts = append(drifts, *drift)
		if fixed {
			repaired++
		}
	}

	r.metrics.Drift(repaired, true)
	r.metrics.Drift(len(drifts)-repaired, false)
	r.metrics.AuditCompleted(r.now())
	r.logger.Info("counter audit complete", "activities", len(ids), "drifted", len(drifts), "repaired", repaired)
	return drifts, nil
}

func (r *Reconciler) check(ctx context.Context, id string) (*model.CounterDrift, bool, error) {
	var (
		drift *model.CounterDrift
		fixed bool
	)
	err := r.store.InTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		a, err := repos.Activities.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		actual, err := repos.Registrations.CountActive(ctx, id)
		if err != nil {
			return err
		}
		if actual == a.CurrentParticipants {
			return nil
		}
		drift = &model.CounterDrift{ActivityID: id, Recorded: a.CurrentParticipants, Actual: actual}

		if actual > a.MaxParticipants {
			r.logger.Error("active registrations exceed capacity; counter left unchanged",
				"activity_id", id, "recorded", a.CurrentParticipants, "actual", actual, "capacity", a.MaxParticipants)
			return nil
		}
		if err := repos.Activities.SetParticipants(ctx, id, actual, r.now().UTC()); err != nil {
			return err
		}
		fixed = true
		r.logger.Warn("participant counter repaired",
			"activity_id", id, "recorded", a.CurrentParticipants, "actual", actual)
		return nil
	})
	return drift, fixed, err
}

// Trigger runs a Reconciler on a cron schedule.
type Trigger struct {
	spec       string
	schedule   cron.Schedule
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewTrigger parses spec in standard cron format, including descriptors
// such as "@hourly" and "@every 10m".
func NewTrigger(spec string, reconciler *Reconciler, logger *slog.Logger) (*Trigger, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}
	return &Trigger{spec: spec, schedule: schedule, reconciler: reconciler, logger: logger}, nil
}

// Start launches the scheduling goroutine and returns immediately. The
// goroutine exits when ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	go t.loop(ctx)
}

// NextRun returns the next scheduled run after now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(time.Now())
}

func (t *Trigger) loop(ctx context.Context) {
	for {
		next := t.schedule.Next(time.Now())
		t.logger.Debug("waiting for next counter audit", "schedule", t.spec, "next_run", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("counter audit trigger shutting down")
			return
		case <-timer.C:
			if _, err := t.reconciler.RunOnce(ctx); err != nil && ctx.Err() == nil {
				t.logger.Warn("counter audit failed", "error", err)
			}
		}
	}
}
