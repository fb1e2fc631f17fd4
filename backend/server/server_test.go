package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jghoshh/goalnudge/backend/goals"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/planner"
	"github.com/jghoshh/goalnudge/backend/scheduler"
	"github.com/jghoshh/goalnudge/backend/server/auth"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type staticGenerator struct{}

func (staticGenerator) GenerateMessages(_ context.Context, name string, _ models.GoalKind, slots []models.Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = fmt.Sprintf("%s at %s", name, planner.FormatClock(s))
	}
	return out
}

type testAPI struct {
	t         *testing.T
	server    *httptest.Server
	registrar *scheduler.MemoryRegistrar
	token     string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStorage()
	registrar := scheduler.NewMemoryRegistrar()
	sched := scheduler.New(registrar, goals.StorePermissions{Store: store}, logger)
	service := goals.NewService(store, sched, staticGenerator{}, goals.WithLogger(logger))
	authenticator := auth.NewAuthenticator(store, "test-signing-key")

	srv := httptest.NewServer(New(authenticator, service, logger).Handler())
	t.Cleanup(srv.Close)
	return &testAPI{t: t, server: srv, registrar: registrar}
}

func (a *testAPI) do(method, path string, body interface{}, out interface{}) int {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) signUp() auth.Tokens {
	a.t.Helper()
	var tokens auth.Tokens
	status := a.do(http.MethodPost, "/auth/signup", map[string]string{
		"email":    "alice@example.com",
		"username": "alice",
		"password": "Test1234",
	}, &tokens)
	require.Equal(a.t, http.StatusCreated, status)
	a.token = tokens.AccessToken
	return tokens
}

func (a *testAPI) createGoal(body map[string]interface{}) goals.Mutation {
	a.t.Helper()
	var m goals.Mutation
	require.Equal(a.t, http.StatusCreated, a.do(http.MethodPost, "/goals", body, &m))
	return m
}

func TestRequiresAuthentication(t *testing.T) {
	api := newTestAPI(t)

	var errResp errorResponse
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/goals", nil, &errResp))
	assert.NotEmpty(t, errResp.Error)

	api.token = "garbage"
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/me", nil, &errResp))
	assert.Equal(t, auth.ErrInvalidToken.Error(), errResp.Error)
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t)
	tokens := api.signUp()

	var errResp errorResponse
	status := api.do(http.MethodPost, "/auth/signup", map[string]string{
		"email": "alice@example.com", "username": "alice2", "password": "Test1234",
	}, &errResp)
	assert.Equal(t, http.StatusConflict, status)

	status = api.do(http.MethodPost, "/auth/signin", map[string]string{
		"email": "alice@example.com", "password": "wrong1234",
	}, &errResp)
	assert.Equal(t, http.StatusUnauthorized, status)

	var fresh auth.Tokens
	status = api.do(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, &fresh)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, fresh.AccessToken)

	api.token = fresh.AccessToken
	var me models.User
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/me", nil, &me))
	assert.Equal(t, "alice", me.Username)
	assert.True(t, me.NotificationsEnabled)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/auth/signout", nil, nil))
	status = api.do(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": fresh.RefreshToken}, &errResp)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGoalLifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.signUp()

	m := api.createGoal(map[string]interface{}{
		"name":               "Read",
		"kind":               "task",
		"repeat_days":        []int{1, 3},
		"reminder_frequency": 2,
	})
	assert.Equal(t, 4, m.Notifications.Registered)
	assert.Len(t, m.Goal.NotificationTimes, 2)
	assert.Equal(t, 4, api.registrar.Len())
	path := "/goals/" + m.Goal.ID.Hex()

	var list []models.Goal
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/goals?active=true", nil, &list))
	assert.Len(t, list, 1)

	var pending []scheduler.Pending
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, path+"/registrations", nil, &pending))
	assert.Len(t, pending, 4)

	var g models.Goal
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, path+"/toggle", nil, &g))
	assert.True(t, g.CompletedToday)
	assert.Equal(t, 1, g.Streak)

	var updated goals.Mutation
	require.Equal(t, http.StatusOK, api.do(http.MethodPatch, path, map[string]interface{}{"reminder_frequency": 1}, &updated))
	assert.Len(t, updated.Goal.NotificationTimes, 1)
	assert.Equal(t, 2, api.registrar.Len())

	var deactivated goals.Mutation
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, path+"/active", map[string]bool{"active": false}, &deactivated))
	assert.False(t, deactivated.Goal.Active)
	assert.Equal(t, 0, api.registrar.Len())

	var resync scheduler.Result
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/goals/resync", nil, &resync))
	assert.Equal(t, 0, resync.Registered)

	var del scheduler.Result
	require.Equal(t, http.StatusOK, api.do(http.MethodDelete, path, nil, &del))

	var errResp errorResponse
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, path, nil, &errResp))
}

func TestIncrementalGoal(t *testing.T) {
	api := newTestAPI(t)
	api.signUp()

	m := api.createGoal(map[string]interface{}{
		"name":        "Water",
		"kind":        "incremental",
		"target":      3,
		"repeat_days": []int{0, 1, 2, 3, 4, 5, 6},
	})
	path := "/goals/" + m.Goal.ID.Hex()

	var g models.Goal
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, path+"/increment", map[string]int{"by": 3}, &g))
	assert.Equal(t, 3, g.DayCount)
	assert.True(t, g.CompletedToday)

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, path+"/decrement", nil, &g))
	assert.Equal(t, 2, g.DayCount)
	assert.False(t, g.CompletedToday)
	assert.Equal(t, 1, g.TotalCompletions)

	var errResp errorResponse
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, path+"/toggle", nil, &errResp))
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, path+"/increment", map[string]int{"by": 0}, &errResp))
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	api.signUp()

	var errResp errorResponse
	status := api.do(http.MethodPost, "/goals", map[string]interface{}{
		"name": "Read", "kind": "task", "repeat_days": []int{1}, "reminder_frequency": 5,
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	status = api.do(http.MethodPost, "/goals", map[string]interface{}{"unknown": true}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/goals/not-an-id", nil, &errResp))
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/goals/"+primitive.NewObjectID().Hex(), nil, &errResp))
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/goals?active=maybe", nil, &errResp))
}

func TestProfileNotificationsToggle(t *testing.T) {
	api := newTestAPI(t)
	api.signUp()

	api.createGoal(map[string]interface{}{
		"name": "Read", "kind": "task", "repeat_days": []int{1, 2}, "reminder_frequency": 1,
	})
	require.Equal(t, 2, api.registrar.Len())

	var update goals.ProfileUpdate
	require.Equal(t, http.StatusOK, api.do(http.MethodPut, "/me", map[string]bool{"notifications_enabled": false}, &update))
	assert.False(t, update.User.NotificationsEnabled)
	assert.Equal(t, 2, update.Notifications.Cancelled)
	assert.Equal(t, 0, api.registrar.Len())

	require.Equal(t, http.StatusOK, api.do(http.MethodPut, "/me", map[string]bool{"notifications_enabled": true}, &update))
	assert.Equal(t, 2, update.Notifications.Registered)
	assert.Equal(t, 2, api.registrar.Len())
}

func TestDeleteAccount(t *testing.T) {
	api := newTestAPI(t)
	api.signUp()
	api.createGoal(map[string]interface{}{
		"name": "Read", "kind": "task", "repeat_days": []int{1}, "reminder_frequency": 2,
	})

	var res scheduler.Result
	require.Equal(t, http.StatusOK, api.do(http.MethodDelete, "/me", nil, &res))
	assert.Equal(t, 2, res.Cancelled)
	assert.Equal(t, 0, api.registrar.Len())

	var errResp errorResponse
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/me", nil, &errResp))
}
