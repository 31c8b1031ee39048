package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/auth"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/config"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/logging"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/metrics"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/repository"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/service"
)

type testAPI struct {
	t      *testing.T
	router http.Handler
	users  *service.UserService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := repository.NewMemoryStore()
	rec, err := metrics.NewRecorder()
	require.NoError(t, err)
	tokens := auth.NewTokens(config.AuthConfig{Secret: "handler-test-secret", Issuer: "test", TTL: time.Hour}, nil)

	deps := service.Deps{Store: store, Metrics: rec}
	users := service.NewUserService(deps, tokens)
	router := NewRouter(RouterConfig{
		Logger:        logging.Discard(),
		AllowedOrigin: "*",
		Store:         store,
		Verifier:      tokens,
		Metrics:       rec.Handler(),
		Users:         users,
		Activities:    service.NewActivityService(deps),
		Enrollment:    service.NewEnrollmentService(deps),
	})
	return &testAPI{t: t, router: router, users: users}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (a *testAPI) login(username, password string) string {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/api/users/login", "", model.LoginRequest{UsernameOrEmail: username, Password: password})
	require.Equal(a.t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[model.LoginResponse](a.t, rr).Token
}

func (a *testAPI) signUp(username string) string {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/api/users/register", "", model.RegisterUserRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "password1",
	})
	require.Equal(a.t, http.StatusCreated, rr.Code, rr.Body.String())
	return a.login(username, "password1")
}

func (a *testAPI) adminToken() string {
	a.t.Helper()
	_, err := a.users.EnsureAdmin(context.Background(), "root", "root@example.com", "rootpass")
	require.NoError(a.t, err)
	return a.login("root", "rootpass")
}

func (a *testAPI) createActivity(admin string, capacity int) model.Activity {
	a.t.Helper()
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	rr := a.do(http.MethodPost, "/api/activities", admin, model.CreateActivityRequest{
		Title:           "Evening basketball",
		Description:     "Pick-up games, all levels welcome.",
		Type:            model.TypeBasketball,
		StartTime:       start,
		EndTime:         start.Add(2 * time.Hour),
		Location:        "Main gym",
		MaxParticipants: capacity,
	})
	require.Equal(a.t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[model.Activity](a.t, rr)
}

func requireErrorKind(t *testing.T, rr *httptest.ResponseRecorder, status int, kind apperr.Kind) {
	t.Helper()
	require.Equal(t, status, rr.Code, rr.Body.String())
	assert.Equal(t, string(kind), decode[model.ErrorResponse](t, rr).Kind)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	api.do(http.MethodPost, "/api/users/login", "", model.LoginRequest{UsernameOrEmail: "nobody", Password: "x"})
	rr = api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `enrollment_operations_total{operation="login",outcome="not_found"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(http.MethodOptions, "/api/registrations", "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestUserEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("erin")

	rr := api.do(http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	me := decode[model.User](t, rr)
	assert.Equal(t, "erin", me.Username)
	assert.NotContains(t, rr.Body.String(), "password")

	rr = api.do(http.MethodGet, "/api/users/me", "", nil)
	requireErrorKind(t, rr, http.StatusUnauthorized, apperr.KindUnauthenticated)

	rr = api.do(http.MethodGet, "/api/users/me", "not-a-token", nil)
	requireErrorKind(t, rr, http.StatusUnauthorized, apperr.KindUnauthenticated)

	rr = api.do(http.MethodPost, "/api/users/register", "", model.RegisterUserRequest{
		Username: "erin", Email: "erin2@example.com", Password: "password1",
	})
	requireErrorKind(t, rr, http.StatusBadRequest, apperr.KindInvalidArgument)

	rr = api.do(http.MethodPost, "/api/users/login", "", model.LoginRequest{UsernameOrEmail: "erin", Password: "nope"})
	requireErrorKind(t, rr, http.StatusUnauthorized, apperr.KindUnauthenticated)
}

func TestActivityEndpoints(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()
	user := api.signUp("frank")

	a := api.createActivity(admin, 4)
	assert.Equal(t, model.ActivityOpen, a.Status)

	rr := api.do(http.MethodPost, "/api/activities", user, model.CreateActivityRequest{})
	requireErrorKind(t, rr, http.StatusForbidden, apperr.KindForbidden)

	rr = api.do(http.MethodGet, "/api/activities?keyword=basketball&limit=5", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[model.ActivityList](t, rr)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 5, list.Limit)

	rr = api.do(http.MethodGet, "/api/activities?page=abc", "", nil)
	requireErrorKind(t, rr, http.StatusBadRequest, apperr.KindInvalidArgument)

	rr = api.do(http.MethodGet, "/api/activities?startFrom=yesterday", "", nil)
	requireErrorKind(t, rr, http.StatusBadRequest, apperr.KindInvalidArgument)

	rr = api.do(http.MethodGet, "/api/activities/"+a.ID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, a.ID, decode[model.ActivityDetail](t, rr).ID)

	title := "Late basketball"
	rr = api.do(http.MethodPut, "/api/activities/"+a.ID, admin, model.UpdateActivityRequest{Title: &title})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, title, decode[model.Activity](t, rr).Title)

	rr = api.do(http.MethodPut, "/api/activities/"+a.ID+"/status", admin, model.ChangeActivityStatusRequest{To: model.ActivityClosed})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.ActivityClosed, decode[model.Activity](t, rr).Status)

	rr = api.do(http.MethodDelete, "/api/activities/"+a.ID, admin, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = api.do(http.MethodGet, "/api/activities/"+a.ID, "", nil)
	requireErrorKind(t, rr, http.StatusNotFound, apperr.KindNotFound)
}

func TestEnrollmentEndpoints(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()
	grace := api.signUp("grace")
	heidi := api.signUp("heidi")
	a := api.createActivity(admin, 1)

	rr := api.do(http.MethodPost, "/api/activities/"+a.ID+"/comments", grace, model.CommentRequest{Rating: 5, Content: "Loved it"})
	requireErrorKind(t, rr, http.StatusUnprocessableEntity, apperr.KindNotRegistered)

	rr = api.do(http.MethodPost, "/api/registrations", grace, model.EnrollRequest{ActivityID: a.ID, Notes: "left-handed"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	reg := decode[model.RegistrationView](t, rr)
	assert.Equal(t, model.RegistrationPending, reg.Status)
	assert.Equal(t, a.ID, reg.Activity.ID)

	rr = api.do(http.MethodPost, "/api/registrations", grace, model.EnrollRequest{ActivityID: a.ID})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, reg.ID, decode[model.RegistrationView](t, rr).ID)

	rr = api.do(http.MethodPost, "/api/registrations", heidi, model.EnrollRequest{ActivityID: a.ID})
	requireErrorKind(t, rr, http.StatusConflict, apperr.KindCapacityExceeded)

	rr = api.do(http.MethodGet, "/api/registrations/"+reg.ID, heidi, nil)
	requireErrorKind(t, rr, http.StatusForbidden, apperr.KindForbidden)

	rr = api.do(http.MethodPut, "/api/registrations/activity/"+a.ID, grace, model.AmendRequest{Notes: "bringing a ball"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "bringing a ball", decode[model.RegistrationView](t, rr).Notes)

	rr = api.do(http.MethodPost, "/api/activities/"+a.ID+"/comments", grace, model.CommentRequest{Rating: 4, Content: "Great run"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = api.do(http.MethodGet, "/api/activities/"+a.ID+"/comments", grace, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[model.CommentList](t, rr).Total)

	rr = api.do(http.MethodGet, "/api/registrations/my?status=pending", grace, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[model.RegistrationList](t, rr).Total)

	rr = api.do(http.MethodGet, "/api/registrations/my?status=bogus", grace, nil)
	requireErrorKind(t, rr, http.StatusBadRequest, apperr.KindInvalidArgument)

	rr = api.do(http.MethodGet, "/api/registrations/activity/"+a.ID, heidi, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[model.RegistrationList](t, rr).Total)

	rr = api.do(http.MethodPut, "/api/registrations/"+reg.ID+"/status", grace, model.SetStatusRequest{Status: "CONFIRMED"})
	requireErrorKind(t, rr, http.StatusForbidden, apperr.KindForbidden)

	rr = api.do(http.MethodPut, "/api/registrations/"+reg.ID+"/status", admin, model.SetStatusRequest{Status: "bogus"})
	requireErrorKind(t, rr, http.StatusBadRequest, apperr.KindInvalidArgument)

	rr = api.do(http.MethodDelete, "/api/registrations/"+reg.ID, grace, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.RegistrationCancelled, decode[model.RegistrationView](t, rr).Status)

	rr = api.do(http.MethodDelete, "/api/registrations/"+reg.ID, grace, nil)
	requireErrorKind(t, rr, http.StatusConflict, apperr.KindInvalidTransition)

	rr = api.do(http.MethodPost, "/api/registrations", heidi, model.EnrollRequest{ActivityID: a.ID})
	assert.Equal(t, http.StatusCreated, rr.Code, "the released slot is available again")
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("ivan")
	rr := api.do(http.MethodPost, "/api/registrations", token, map[string]any{"activityId": "x", "seats": 3})
	requireErrorKind(t, rr, http.StatusBadRequest, apperr.KindInvalidArgument)
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{apperr.New(apperr.KindNotFound, "gone"), http.StatusNotFound, "NOT_FOUND"},
		{apperr.New(apperr.KindCapacityExceeded, "full"), http.StatusConflict, "CAPACITY_EXCEEDED"},
		{apperr.New(apperr.KindExpired, "expired"), http.StatusUnauthorized, "EXPIRED"},
		{apperr.New(apperr.KindUnavailable, "busy"), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{errors.New("pq: connection refused"), http.StatusInternalServerError, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeAppError(rr, tt.err)
			assert.Equal(t, tt.status, rr.Code)
			body := decode[model.ErrorResponse](t, rr)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotContains(t, body.Error, "connection refused")
		})
	}
}
