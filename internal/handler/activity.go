package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/service"
)

// ActivityHandler serves the activity catalogue and its comments.
type ActivityHandler struct {
	activities *service.ActivityService
	enrollment *service.EnrollmentService
}

// NewActivityHandler constructs an ActivityHandler.
func NewActivityHandler(activities *service.ActivityService, enrollment *service.EnrollmentService) *ActivityHandler {
	return &ActivityHandler{activities: activities, enrollment: enrollment}
}

// List handles GET /api/activities
// Supports keyword, type, status, startFrom, startTo, page and limit.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := activityFilter(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	list, err := h.activities.List(r.Context(), f)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func activityFilter(r *http.Request) (model.ActivityFilter, error) {
	q := r.URL.Query()
	p, err := queryPage(r)
	if err != nil {
		return model.ActivityFilter{}, err
	}
	from, err := queryTime(r, "startFrom")
	if err != nil {
		return model.ActivityFilter{}, err
	}
	to, err := queryTime(r, "startTo")
	if err != nil {
		return model.ActivityFilter{}, err
	}
	return model.ActivityFilter{
		Keyword:   q.Get("keyword"),
		Type:      model.ActivityType(q.Get("type")),
		Status:    model.ActivityStatus(q.Get("status")),
		StartFrom: from,
		StartTo:   to,
		Page:      p,
	}, nil
}

// Get handles GET /api/activities/{id}
// Returns the activity with its average rating and most recent comments.
func (h *ActivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.activities.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Create handles POST /api/activities
func (h *ActivityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	a, err := h.activities.Create(r.Context(), caller(r), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Update handles PUT /api/activities/{id}
func (h *ActivityHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	a, err := h.activities.Update(r.Context(), caller(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Delete handles DELETE /api/activities/{id}
func (h *ActivityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.activities.Delete(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeStatus handles PUT /api/activities/{id}/status
func (h *ActivityHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req model.ChangeActivityStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	a, err := h.activities.ChangeStatus(r.Context(), caller(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Comment handles POST /api/activities/{id}/comments
// A second comment by the same user replaces the first.
func (h *ActivityHandler) Comment(w http.ResponseWriter, r *http.Request) {
	var req model.CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	c, err := h.enrollment.Comment(r.Context(), caller(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListComments handles GET /api/activities/{id}/comments
func (h *ActivityHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	p, err := queryPage(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	list, err := h.enrollment.ListComments(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
