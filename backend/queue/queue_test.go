package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/scheduler"
	cache "github.com/jghoshh/goalnudge/backend/storage/cache"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string]interface{}
	getErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]interface{}{}}
}

func (c *memoryCache) Disconnect() error { return nil }

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memoryCache) Get(_ context.Context, key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.values[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (c *memoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = map[string]interface{}{}
	return nil
}

type sentMail struct{ to, title, body string }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *recordingNotifier) SendReminder(to, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{to, title, body})
	return nil
}

type recordingProducer struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (p *recordingProducer) Publish(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *recordingProducer) messages(t *testing.T) []ReminderMessage {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ReminderMessage, len(p.bodies))
	for i, b := range p.bodies {
		require.NoError(t, json.Unmarshal(b, &out[i]))
	}
	return out
}

func encode(t *testing.T, msg ReminderMessage) []byte {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func TestHandleDeliversOnce(t *testing.T) {
	c := newMemoryCache()
	n := &recordingNotifier{}
	h := &reminderHandler{cache: c, notifier: n, logger: testLogger()}

	body := encode(t, ReminderMessage{ID: "reg-1:2024-05-15", To: "alice@example.com", Title: "📚 Read", Body: "Time to read"})

	assert.Equal(t, outcomeAck, h.handle(context.Background(), body))
	assert.Equal(t, outcomeAck, h.handle(context.Background(), body))
	require.Len(t, n.sent, 1)
	assert.Equal(t, sentMail{"alice@example.com", "📚 Read", "Time to read"}, n.sent[0])

	_, err := c.Get(context.Background(), "reminder_reg-1:2024-05-15")
	assert.NoError(t, err)
}

func TestHandleDropsMalformed(t *testing.T) {
	n := &recordingNotifier{}
	h := &reminderHandler{cache: newMemoryCache(), notifier: n, logger: testLogger()}

	assert.Equal(t, outcomeDrop, h.handle(context.Background(), []byte("{not json")))
	assert.Equal(t, outcomeDrop, h.handle(context.Background(), encode(t, ReminderMessage{To: "a@example.com"})))
	assert.Equal(t, outcomeDrop, h.handle(context.Background(), encode(t, ReminderMessage{ID: "x"})))
	assert.Empty(t, n.sent)
}

func TestHandleRequeuesTransientFailures(t *testing.T) {
	body := encode(t, ReminderMessage{ID: "reg-2:2024-05-15", To: "bob@example.com"})

	c := newMemoryCache()
	n := &recordingNotifier{err: errors.New("smtp unavailable")}
	h := &reminderHandler{cache: c, notifier: n, logger: testLogger()}
	assert.Equal(t, outcomeRequeue, h.handle(context.Background(), body))
	_, err := c.Get(context.Background(), "reminder_reg-2:2024-05-15")
	assert.ErrorIs(t, err, cache.ErrCacheMiss, "failed delivery is not marked done")

	c.getErr = errors.New("redis down")
	n.err = nil
	assert.Equal(t, outcomeRequeue, h.handle(context.Background(), body))
	assert.Empty(t, n.sent)
}

func TestQueuePublishRoundRobin(t *testing.T) {
	a, b := &recordingProducer{}, &recordingProducer{}
	q := &Queue{Producers: []Producer{a, b}}

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Publish([]byte("x")))
	}
	assert.Len(t, a.bodies, 3)
	assert.Len(t, b.bodies, 2)

	assert.Error(t, (&Queue{}).Publish([]byte("x")))
}

func TestMessageID(t *testing.T) {
	due := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "abc:2024-05-15", MessageID("abc", due))
	assert.Equal(t, MessageID("abc", due), MessageID("abc", due.Add(5*time.Hour)))
}

type dispatchFixture struct {
	dispatcher *Dispatcher
	registrar  *scheduler.MemoryRegistrar
	store      *storage.MemoryStorage
	producer   *recordingProducer
	sched      *scheduler.Scheduler
	user       *models.User
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	registrar := scheduler.NewMemoryRegistrar()
	producer := &recordingProducer{}
	user, err := store.AddUser(context.Background(), &models.User{Username: "alice", Email: "alice@example.com", NotificationsEnabled: true})
	require.NoError(t, err)

	return &dispatchFixture{
		dispatcher: NewDispatcher(registrar, store, producer, time.UTC, testLogger()),
		registrar:  registrar,
		store:      store,
		producer:   producer,
		sched:      scheduler.New(registrar, nil, testLogger()),
		user:       user,
	}
}

func (f *dispatchFixture) scheduleGoal(t *testing.T, days []int) models.Goal {
	t.Helper()
	g := models.Goal{
		ID:                primitive.NewObjectID(),
		UserID:            f.user.ID,
		Name:              "Read",
		Icon:              "📚",
		Kind:              models.KindTask,
		Active:            true,
		RepeatDays:        days,
		ReminderFrequency: 2,
		ReminderMessages:  []string{"Morning read", "Afternoon read"},
	}
	_, err := f.sched.ScheduleForGoal(context.Background(), g)
	require.NoError(t, err)
	return g
}

func TestDispatcherTickPublishesDueReminders(t *testing.T) {
	f := newDispatchFixture(t)
	g := f.scheduleGoal(t, []int{3, 5})

	// Wednesday 2024-05-15 at 15:00, the second default slot.
	n, err := f.dispatcher.Tick(context.Background(), time.Date(2024, 5, 15, 15, 0, 30, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := f.producer.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, g.ID.Hex(), msgs[0].GoalID)
	assert.Equal(t, "alice@example.com", msgs[0].To)
	assert.Equal(t, "📚 Read", msgs[0].Title)
	assert.Equal(t, "Afternoon read", msgs[0].Body)
	assert.Equal(t, MessageID(msgs[0].RegistrationID, msgs[0].Due), msgs[0].ID)

	// Wrong minute, wrong day.
	n, err = f.dispatcher.Tick(context.Background(), time.Date(2024, 5, 15, 15, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = f.dispatcher.Tick(context.Background(), time.Date(2024, 5, 16, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatcherUsesLocation(t *testing.T) {
	f := newDispatchFixture(t)
	f.scheduleGoal(t, []int{3})
	loc := time.FixedZone("UTC+2", 2*60*60)
	f.dispatcher.location = loc

	// 08:00 UTC is 10:00 local on Wednesday.
	n, err := f.dispatcher.Tick(context.Background(), time.Date(2024, 5, 15, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatcherSkipsOwnersWithoutPermission(t *testing.T) {
	f := newDispatchFixture(t)
	f.scheduleGoal(t, []int{3})
	f.user.NotificationsEnabled = false
	require.NoError(t, f.store.UpdateUser(context.Background(), f.user))

	// Reminders of deleted owners and foreign registrations are skipped too.
	_, err := f.registrar.Register(context.Background(),
		scheduler.Trigger{Kind: scheduler.TriggerWeekly, Weekday: scheduler.ToRegistrarWeekday(3), Hour: 10},
		scheduler.Content{Title: "other app"})
	require.NoError(t, err)
	ghost := scheduler.Tag{GoalID: primitive.NewObjectID().Hex(), OwnerID: primitive.NewObjectID().Hex(), Weekday: 3}
	_, err = f.registrar.Register(context.Background(),
		scheduler.Trigger{Kind: scheduler.TriggerWeekly, Weekday: scheduler.ToRegistrarWeekday(3), Hour: 10},
		scheduler.Content{Title: "ghost", Data: ghost.Data()})
	require.NoError(t, err)

	n, err := f.dispatcher.Tick(context.Background(), time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatcherContinuesPastPublishFailure(t *testing.T) {
	f := newDispatchFixture(t)
	f.scheduleGoal(t, []int{3})
	f.producer.err = errors.New("broker down")

	n, err := f.dispatcher.Tick(context.Background(), time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatcherCatchUp(t *testing.T) {
	f := newDispatchFixture(t)
	f.scheduleGoal(t, []int{3})

	last := time.Date(2024, 5, 15, 9, 58, 0, 0, time.UTC)
	now := time.Date(2024, 5, 15, 10, 3, 10, 0, time.UTC)
	got := f.dispatcher.catchUp(context.Background(), last, now)
	assert.Equal(t, time.Date(2024, 5, 15, 10, 3, 0, 0, time.UTC), got)
	assert.Len(t, f.producer.messages(t), 1, "10:00 was replayed")

	// Nothing new within the same minute.
	got = f.dispatcher.catchUp(context.Background(), got, now.Add(20*time.Second))
	assert.Equal(t, time.Date(2024, 5, 15, 10, 3, 0, 0, time.UTC), got)
	assert.Len(t, f.producer.messages(t), 1)
}

// TestReminderQueueLive round-trips a reminder through RabbitMQ. It needs
// RABBITMQ_URL, either exported or in the repo's .env file.
func TestReminderQueueLive(t *testing.T) {
	_ = godotenv.Load("../../.env")
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}

	n := &recordingNotifier{}
	q, err := BuildReminderQueue(url, 1, 1, newMemoryCache(), n, testLogger())
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	wg := q.StartConsumers(ctx)

	id := "live-" + primitive.NewObjectID().Hex()
	msg := &ReminderMessage{ID: id, To: "alice@example.com", Title: id, Body: "now"}
	require.NoError(t, PublishReminder(q, msg))
	require.NoError(t, PublishReminder(q, msg))

	assert.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		delivered := 0
		for _, m := range n.sent {
			if m.title == id {
				delivered++
			}
		}
		return delivered == 1
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	wg.Wait()
}
