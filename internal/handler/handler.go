// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
)

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind apperr.Kind, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Kind: string(kind)})
}

// writeAppError maps a service failure to its HTTP status. Failures without
// a kind are reported as a generic 500 so internal details never leak.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		writeError(w, status, apperr.KindUnknown, "internal server error")
		return
	}
	writeError(w, status, kind, apperr.Message(err))
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindCapacityExceeded, apperr.KindInvalidTransition:
		return http.StatusConflict
	case apperr.KindNotRegistered:
		return http.StatusUnprocessableEntity
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated, apperr.KindExpired:
		return http.StatusUnauthorized
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidArgument, "invalid request body", err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Newf(apperr.KindInvalidArgument, "%s must be an integer", key)
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Newf(apperr.KindInvalidArgument, "%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

func queryPage(r *http.Request) (model.Page, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return model.Page{}, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return model.Page{}, err
	}
	return model.Page{Page: page, Limit: limit}, nil
}

func queryRegistrationFilter(r *http.Request) (model.RegistrationFilter, error) {
	p, err := queryPage(r)
	if err != nil {
		return model.RegistrationFilter{}, err
	}
	return model.RegistrationFilter{
		Status: model.RegistrationStatus(r.URL.Query().Get("status")),
		Page:   p,
	}, nil
}

// ─── Health check ─────────────────────────────────────────────────────────────

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck handles GET /health
func HealthCheck(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, apperr.KindUnavailable, "store unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
