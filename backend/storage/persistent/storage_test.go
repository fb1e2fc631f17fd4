package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryStorage(t *testing.T) {
	runStorageTests(t, func(t *testing.T) StorageInterface {
		return NewMemoryStorage()
	})
}

// TestMongoStorage runs the same checks against a real server. It needs
// MONGODB_URI and TEST_DB_NAME, either exported or in the repo's .env file.
func TestMongoStorage(t *testing.T) {
	_ = godotenv.Load("../../../.env")
	uri := os.Getenv("MONGODB_URI")
	dbName := os.Getenv("TEST_DB_NAME")
	if uri == "" || dbName == "" {
		t.Skip("MONGODB_URI or TEST_DB_NAME not set")
	}

	runStorageTests(t, func(t *testing.T) StorageInterface {
		store := NewMongoStorage(nil)
		require.NoError(t, store.Connect(dbName, uri))
		t.Cleanup(func() {
			store.client.Database(dbName).Drop(context.Background())
			store.Disconnect()
		})
		return store
	})
}

func TestNewMongoStorageLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Same(t, logger, NewMongoStorage(logger).logger)
	assert.Same(t, slog.Default(), NewMongoStorage(nil).logger)
}

func runStorageTests(t *testing.T, newStore func(t *testing.T) StorageInterface) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("goals", func(t *testing.T) { testGoals(t, newStore(t)) })
	t.Run("goal logs", func(t *testing.T) { testGoalLogs(t, newStore(t)) })
	t.Run("refresh tokens", func(t *testing.T) { testRefreshTokens(t, newStore(t)) })
	t.Run("delete user cascades", func(t *testing.T) { testDeleteUserCascades(t, newStore(t)) })
}

func addTestUser(t *testing.T, store StorageInterface, name string) *models.User {
	t.Helper()
	user, err := store.AddUser(context.Background(), &models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	})
	require.NoError(t, err)
	return user
}

func addTestGoal(t *testing.T, store StorageInterface, owner primitive.ObjectID, name string, active bool, created time.Time) *models.Goal {
	t.Helper()
	goal, err := store.AddGoal(context.Background(), &models.Goal{
		UserID:            owner,
		Name:              name,
		Kind:              models.KindTask,
		Active:            active,
		RepeatDays:        []int{1, 3, 5},
		ReminderFrequency: 1,
		NotificationTimes: []models.Slot{{Hour: 9, Minute: 0, Label: "Morning"}},
		ReminderMessages:  []string{"go"},
		CreatedAt:         created,
	})
	require.NoError(t, err)
	return goal
}

func testUsers(t *testing.T, store StorageInterface) {
	ctx := context.Background()
	user := addTestUser(t, store, "alice")
	assert.False(t, user.ID.IsZero())

	_, err := store.AddUser(ctx, &models.User{Username: "other", Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := store.FindUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	found.NotificationsEnabled = true
	found.WeeklyCompletions = 4
	require.NoError(t, store.UpdateUser(ctx, found))

	again, err := store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, again.NotificationsEnabled)
	assert.Equal(t, 4, again.WeeklyCompletions)

	_, err = store.FindUserByID(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.UpdateUser(ctx, &models.User{ID: primitive.NewObjectID()}), ErrNotFound)
}

func testGoals(t *testing.T, store StorageInterface) {
	ctx := context.Background()
	alice := addTestUser(t, store, "alice")
	bob := addTestUser(t, store, "bob")

	base := time.Now().UTC().Truncate(time.Millisecond)
	second := addTestGoal(t, store, alice.ID, "second", true, base.Add(time.Minute))
	first := addTestGoal(t, store, alice.ID, "first", true, base)
	inactive := addTestGoal(t, store, alice.ID, "inactive", false, base.Add(2*time.Minute))
	addTestGoal(t, store, bob.ID, "bob's", true, base)

	goals, err := store.FindGoals(ctx, GoalQuery{UserID: alice.ID})
	require.NoError(t, err)
	require.Len(t, goals, 3)
	assert.Equal(t, []string{"first", "second", "inactive"}, []string{goals[0].Name, goals[1].Name, goals[2].Name})

	active := true
	goals, err = store.FindGoals(ctx, GoalQuery{UserID: alice.ID, Active: &active})
	require.NoError(t, err)
	assert.Len(t, goals, 2)

	found, err := store.FindGoal(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, found.RepeatDays)

	found.CompletedToday = true
	found.Streak = 3
	require.NoError(t, store.UpdateGoal(ctx, found))
	updated, err := store.FindGoal(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, updated.CompletedToday)
	assert.Equal(t, 3, updated.Streak)

	res, err := store.DeleteGoal(ctx, inactive.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCount)
	_, err = store.FindGoal(ctx, inactive.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.DeleteGoal(ctx, inactive.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.UpdateGoal(ctx, &models.Goal{ID: primitive.NewObjectID()}), ErrNotFound)
	_, err = store.FindGoal(ctx, second.ID)
	assert.NoError(t, err)
}

func testGoalLogs(t *testing.T, store StorageInterface) {
	ctx := context.Background()
	alice := addTestUser(t, store, "alice")
	goal := addTestGoal(t, store, alice.ID, "water", true, time.Now().UTC())

	at := time.Now().UTC().Truncate(time.Millisecond)
	_, err := store.AddGoalLog(ctx, &models.GoalLog{GoalID: goal.ID, UserID: alice.ID, Action: models.LogIncrement, Amount: 1, DayCount: 1, At: at.Add(time.Second)})
	require.NoError(t, err)
	_, err = store.AddGoalLog(ctx, &models.GoalLog{GoalID: goal.ID, UserID: alice.ID, Action: models.LogCompleted, At: at})
	require.NoError(t, err)

	logs, err := store.FindGoalLogs(ctx, goal.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.LogCompleted, logs[0].Action)
	assert.Equal(t, models.LogIncrement, logs[1].Action)

	_, err = store.DeleteGoal(ctx, goal.ID)
	require.NoError(t, err)
	logs, err = store.FindGoalLogs(ctx, goal.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func testRefreshTokens(t *testing.T, store StorageInterface) {
	ctx := context.Background()
	alice := addTestUser(t, store, "alice")
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)

	_, err := store.AddRefreshToken(ctx, &models.RefreshToken{UserID: alice.ID, Token: "tok-1", Expiry: expiry})
	require.NoError(t, err)
	_, err = store.AddRefreshToken(ctx, &models.RefreshToken{UserID: alice.ID, Token: "tok-1", Expiry: expiry})
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := store.FindRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, found.UserID)
	assert.True(t, expiry.Equal(found.Expiry))

	res, err := store.DeleteRefreshTokens(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCount)
	_, err = store.FindRefreshToken(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testDeleteUserCascades(t *testing.T, store StorageInterface) {
	ctx := context.Background()
	alice := addTestUser(t, store, "alice")
	bob := addTestUser(t, store, "bob")
	goal := addTestGoal(t, store, alice.ID, "walk", true, time.Now().UTC())
	kept := addTestGoal(t, store, bob.ID, "run", true, time.Now().UTC())
	_, err := store.AddRefreshToken(ctx, &models.RefreshToken{UserID: alice.ID, Token: "alice-tok", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, err = store.DeleteUser(ctx, alice.ID)
	require.NoError(t, err)

	_, err = store.FindGoal(ctx, goal.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindRefreshToken(ctx, "alice-tok")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindGoal(ctx, kept.ID)
	assert.NoError(t, err)

	_, err = store.DeleteUser(ctx, alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryWatchGoals(t *testing.T) {
	store := NewMemoryStorage()
	alice := addTestUser(t, store, "alice")
	bob := addTestUser(t, store, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := store.WatchGoals(ctx, GoalQuery{UserID: alice.ID})
	require.NoError(t, err)

	assert.Empty(t, receive(t, updates))

	goal := addTestGoal(t, store, alice.ID, "read", true, time.Now().UTC())
	snapshot := receive(t, updates)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "read", snapshot[0].Name)

	// Another owner's change does not reach alice's watcher.
	addTestGoal(t, store, bob.ID, "swim", true, time.Now().UTC())
	select {
	case got := <-updates:
		t.Fatalf("unexpected update: %v", got)
	case <-time.After(50 * time.Millisecond):
	}

	// Two quick edits collapse into the latest snapshot.
	goal.Name = "read more"
	require.NoError(t, store.UpdateGoal(context.Background(), goal))
	goal.Streak = 2
	require.NoError(t, store.UpdateGoal(context.Background(), goal))
	snapshot = receive(t, updates)
	require.Len(t, snapshot, 1)
	assert.Equal(t, 2, snapshot[0].Streak)

	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel was not closed")
	}
}

func TestMemoryStorageReturnsCopies(t *testing.T) {
	store := NewMemoryStorage()
	alice := addTestUser(t, store, "alice")
	goal := addTestGoal(t, store, alice.ID, "stretch", true, time.Now().UTC())

	found, err := store.FindGoal(context.Background(), goal.ID)
	require.NoError(t, err)
	found.RepeatDays[0] = 6

	again, err := store.FindGoal(context.Background(), goal.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.RepeatDays[0])
}

func receive(t *testing.T, ch <-chan []models.Goal) []models.Goal {
	t.Helper()
	select {
	case goals, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return goals
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for goals")
		return nil
	}
}
