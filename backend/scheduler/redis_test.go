package scheduler

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisRegistrar connects to REDIS_URL under a throwaway key prefix.
func newTestRedisRegistrar(t *testing.T) *RedisRegistrar {
	t.Helper()
	_ = godotenv.Load("../../.env")
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	require.NoError(t, client.Ping(context.Background()).Err())

	r := NewRedisRegistrarFromClient(client, "goalnudge-test:"+uuid.NewString())
	t.Cleanup(func() {
		_ = r.CancelAll(context.Background())
		_ = r.Close()
	})
	return r
}

func TestRedisRegistrarRoundTrip(t *testing.T) {
	r := newTestRedisRegistrar(t)
	ctx := context.Background()

	tag := Tag{GoalID: "g1", OwnerID: "u1", SlotIndex: 1, Weekday: 3}
	first, err := r.Register(ctx, Trigger{Kind: TriggerWeekly, Weekday: 4, Hour: 9, Minute: 30},
		Content{Title: "Read", Body: "Time to read", Data: tag.Data()})
	require.NoError(t, err)
	second, err := r.Register(ctx, Trigger{Kind: TriggerImmediate}, Content{Title: "foreign"})
	require.NoError(t, err)

	pending, err := r.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, second, pending[1].ID)
	assert.Equal(t, 9, pending[0].Trigger.Hour)

	parsed, ok := ParseTag(pending[0].Content.Data)
	require.True(t, ok)
	assert.Equal(t, tag, parsed)

	require.NoError(t, r.Cancel(ctx, first))
	assert.ErrorIs(t, r.Cancel(ctx, first), ErrRegistrationNotFound)

	pending, err = r.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)

	require.NoError(t, r.CancelAll(ctx))
	pending, err = r.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSchedulerOnRedis(t *testing.T) {
	r := newTestRedisRegistrar(t)
	ctx := context.Background()
	s := New(r, nil, nil)

	goal := newGoal([]int{1, 5}, 2)
	res, err := s.RescheduleGoal(ctx, goal)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Registered)

	res, err = s.RescheduleGoal(ctx, goal)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Cancelled)
	assert.Equal(t, 4, res.Registered)

	regs, err := s.Registrations(ctx, goal.ID.Hex())
	require.NoError(t, err)
	assert.Len(t, regs, 4)
}
