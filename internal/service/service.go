// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
//
// Every operation runs inside exactly one store transaction, so a failure at
// any step leaves the participant counter and the registrations consistent.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/logging"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/metrics"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/repository"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// Deps are the collaborators shared by all services.
type Deps struct {
	Store   repository.Store
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// now returns the current time truncated to milliseconds, the precision
// every backend stores.
func (d Deps) now() time.Time {
	return d.Now().UTC().Truncate(time.Millisecond)
}

// observe records the outcome of operation and logs failures. Business
// failures log at debug; anything else is a fault.
func (d Deps) observe(operation string, start time.Time, err error) {
	d.Metrics.Observe(operation, err, time.Since(start))
	if err == nil {
		return
	}
	switch apperr.KindOf(err) {
	case apperr.KindUnknown, apperr.KindUnavailable:
		d.Logger.Error("operation failed", "operation", operation, "error", err)
	default:
		d.Logger.Debug("operation rejected", "operation", operation,
			"kind", apperr.KindOf(err), "reason", apperr.Message(err))
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the request's validator tags and reports the first
// violation as InvalidArgument.
func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		if fe.Param() != "" {
			return apperr.Newf(apperr.KindInvalidArgument, "%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return apperr.Newf(apperr.KindInvalidArgument, "%s failed %s", fe.Field(), fe.Tag())
	}
	return apperr.Wrap(apperr.KindInvalidArgument, "invalid request", err)
}

// parseID rejects identifiers that are not UUIDs before they reach the store.
func parseID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperr.Newf(apperr.KindInvalidArgument, "%s is required", field)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", apperr.Newf(apperr.KindInvalidArgument, "%s is not a valid id", field)
	}
	return parsed.String(), nil
}

// normalizePage applies the listing defaults and bounds.
func normalizePage(p model.Page) (model.Page, error) {
	if p.Page == 0 {
		p.Page = defaultPage
	}
	if p.Limit == 0 {
		p.Limit = defaultLimit
	}
	if p.Page < 1 {
		return p, apperr.New(apperr.KindInvalidArgument, "page must be at least 1")
	}
	if p.Limit < 1 || p.Limit > maxLimit {
		return p, apperr.Newf(apperr.KindInvalidArgument, "limit must be between 1 and %d", maxLimit)
	}
	return p, nil
}

// notFound translates repository.ErrNotFound into a NotFound failure and
// wraps anything else.
func notFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.KindNotFound, "%s not found", what)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

// canManage is the single owner-or-admin authorization predicate.
func canManage(caller model.Identity, ownerID string) bool {
	return caller.IsAdmin() || caller.UserID == ownerID
}

func requireAdmin(caller model.Identity) error {
	if !caller.IsAdmin() {
		return apperr.New(apperr.KindForbidden, "administrator role required")
	}
	return nil
}
