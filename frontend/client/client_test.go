package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jghoshh/goalnudge/backend/goals"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/scheduler"
	"github.com/jghoshh/goalnudge/backend/server"
	"github.com/jghoshh/goalnudge/backend/server/auth"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type echoGenerator struct{}

func (echoGenerator) GenerateMessages(_ context.Context, name string, _ models.GoalKind, slots []models.Slot) []string {
	out := make([]string, len(slots))
	for i := range slots {
		out[i] = name
	}
	return out
}

// newTestClient starts a real API server on in-memory backends and a client
// pointed at it. The keyring is mocked.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	keyring.MockInit()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStorage()
	sched := scheduler.New(scheduler.NewMemoryRegistrar(), goals.StorePermissions{Store: store}, logger)
	service := goals.NewService(store, sched, echoGenerator{}, goals.WithLogger(logger))
	authenticator := auth.NewAuthenticator(store, "test-signing-key")

	srv := httptest.NewServer(server.New(authenticator, service, logger).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestSignUpAndGoalCalls(t *testing.T) {
	c := newTestClient(t)

	user, err := c.SignUp("alice@example.com", "alice", "Test1234")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	freq := 1
	m, err := c.CreateGoal(goals.GoalInput{
		Name:              "Read",
		Kind:              models.KindTask,
		RepeatDays:        []int{1, 3, 5},
		ReminderFrequency: &freq,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Notifications.Registered)
	id := m.Goal.ID.Hex()

	list, err := c.ListGoals(nil)
	require.NoError(t, err)
	require.Len(t, list, 1)

	g, err := c.ToggleGoal(id)
	require.NoError(t, err)
	assert.True(t, g.CompletedToday)

	_, err = c.IncrementGoal(id, 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)

	pending, err := c.Registrations(id)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	paused, err := c.SetGoalActive(id, false)
	require.NoError(t, err)
	assert.False(t, paused.Goal.Active)

	res, err := c.DeleteGoal(id)
	require.NoError(t, err)
	assert.False(t, res.PermissionDenied)

	require.NoError(t, c.SignOut())
	_, err = c.ListGoals(nil)
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestSignInAndProfile(t *testing.T) {
	c := newTestClient(t)

	_, err := c.SignUp("alice@example.com", "alice", "Test1234")
	require.NoError(t, err)
	require.NoError(t, c.ClearKeyring())

	err = c.SignIn("alice@example.com", "wrong1234")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)

	require.NoError(t, c.SignIn("alice@example.com", "Test1234"))

	off := false
	update, err := c.UpdateProfile(goals.ProfilePatch{NotificationsEnabled: &off})
	require.NoError(t, err)
	assert.False(t, update.User.NotificationsEnabled)

	me, err := c.Profile()
	require.NoError(t, err)
	assert.False(t, me.NotificationsEnabled)
}

func TestRefreshesExpiringAccessToken(t *testing.T) {
	c := newTestClient(t)

	_, err := c.SignUp("alice@example.com", "alice", "Test1234")
	require.NoError(t, err)
	oldRefresh, err := c.storedToken(refreshKeyringKey)
	require.NoError(t, err)

	// Pretend the access token is about to expire.
	c.now = func() time.Time { return time.Now().Add(auth.DefaultAccessTTL) }

	token, err := c.IsUserAuthenticated()
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	newRefresh, err := c.storedToken(refreshKeyringKey)
	require.NoError(t, err)
	assert.NotEqual(t, oldRefresh, newRefresh)
}

func TestRejectedSessionClearsKeyring(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.saveTokens("bogus", "bogus"))

	_, err := c.ListGoals(nil)
	assert.ErrorIs(t, err, ErrSessionExpired)

	token, err := c.storedToken(accessKeyringKey)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)

	got, err := tokenExpiry(signed)
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))

	_, err = tokenExpiry("not-a-token")
	assert.Error(t, err)
}

func TestDeleteAccount(t *testing.T) {
	c := newTestClient(t)

	_, err := c.SignUp("alice@example.com", "alice", "Test1234")
	require.NoError(t, err)

	_, err = c.DeleteAccount()
	require.NoError(t, err)

	token, err := c.IsUserAuthenticated()
	require.NoError(t, err)
	assert.Empty(t, token)

	err = c.SignIn("alice@example.com", "Test1234")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}
