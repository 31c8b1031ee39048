package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/service"
)

// RegistrationHandler serves enrollment operations.
type RegistrationHandler struct {
	svc *service.EnrollmentService
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc *service.EnrollmentService) *RegistrationHandler {
	return &RegistrationHandler{svc: svc}
}

// Enroll handles POST /api/registrations
// Repeating the request returns the existing registration.
func (h *RegistrationHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req model.EnrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	view, err := h.svc.Enroll(r.Context(), caller(r), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// ListMine handles GET /api/registrations/my
func (h *RegistrationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	f, err := queryRegistrationFilter(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	list, err := h.svc.ListMine(r.Context(), caller(r), f)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListForActivity handles GET /api/registrations/activity/{id}
func (h *RegistrationHandler) ListForActivity(w http.ResponseWriter, r *http.Request) {
	f, err := queryRegistrationFilter(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	list, err := h.svc.ListForActivity(r.Context(), chi.URLParam(r, "id"), f)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Amend handles PUT /api/registrations/activity/{id}
// Updates the notes on the caller's registration for the activity.
func (h *RegistrationHandler) Amend(w http.ResponseWriter, r *http.Request) {
	var req model.AmendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	view, err := h.svc.Amend(r.Context(), caller(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SetStatus handles PUT /api/registrations/{id}/status
func (h *RegistrationHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req model.SetStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	view, err := h.svc.SetStatus(r.Context(), caller(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Get handles GET /api/registrations/{id}
func (h *RegistrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Withdraw handles DELETE /api/registrations/{id}
// The registration is kept with status CANCELLED and returned.
func (h *RegistrationHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Withdraw(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
