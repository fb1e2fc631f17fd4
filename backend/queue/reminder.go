package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jghoshh/goalnudge/backend/logging"
	cache "github.com/jghoshh/goalnudge/backend/storage/cache"
	"github.com/streadway/amqp"
)

// ReminderQueueName is the RabbitMQ queue carrying due reminders.
const ReminderQueueName = "reminderQueue"

// ReminderMessage is one due reminder on its way to a user.
type ReminderMessage struct {
	ID             string    `json:"id"` // registration id plus the local due day
	RegistrationID string    `json:"registration_id"`
	GoalID         string    `json:"goal_id"`
	OwnerID        string    `json:"owner_id"`
	To             string    `json:"to"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Due            time.Time `json:"due"`
}

// MessageID builds the id of the reminder a registration produces on a day.
// The same registration firing twice on one day yields the same id.
func MessageID(registrationID string, due time.Time) string {
	return registrationID + ":" + due.Format("2006-01-02")
}

func (m *ReminderMessage) validate() error {
	if m.ID == "" {
		return errors.New("missing id")
	}
	if strings.TrimSpace(m.To) == "" {
		return errors.New("missing recipient")
	}
	return nil
}

// Notifier delivers a reminder to its recipient.
type Notifier interface {
	SendReminder(to, title, body string) error
}

// ReminderProducerFactory creates ReminderProducer instances.
type ReminderProducerFactory struct{}

// ReminderConsumerFactory creates ReminderConsumer instances sharing one
// cache and notifier.
type ReminderConsumerFactory struct {
	Cache    cache.CacheInterface
	Notifier Notifier
	Logger   *slog.Logger
}

// ReminderProducer publishes reminder messages on the AMQP queue.
type ReminderProducer struct {
	channel *amqp.Channel
	queue   *amqp.Queue
}

// ReminderConsumer reads reminder messages from the AMQP queue and delivers
// them.
type ReminderConsumer struct {
	channel *amqp.Channel
	queue   *amqp.Queue
	handler *reminderHandler
}

func (f *ReminderProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &ReminderProducer{channel: ch, queue: queue}, nil
}

func (f *ReminderConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	if f.Cache == nil || f.Notifier == nil {
		return nil, errors.New("reminder consumer needs a cache and a notifier")
	}
	return &ReminderConsumer{
		channel: ch,
		queue:   queue,
		handler: &reminderHandler{cache: f.Cache, notifier: f.Notifier, logger: logging.OrDefault(f.Logger)},
	}, nil
}

// Publish publishes body to the queue as a persistent JSON message.
func (rp *ReminderProducer) Publish(body []byte) error {
	err := rp.channel.Publish(
		"",            // exchange
		rp.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}
	return nil
}

// Consume registers with the broker and processes deliveries in a goroutine
// until ctx is done or the channel closes.
func (rc *ReminderConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := rc.channel.Consume(
		rc.queue.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case d, ok := <-msgs:
				if !ok {
					return
				}
				switch rc.handler.handle(ctx, d.Body) {
				case outcomeRequeue:
					d.Nack(false, true)
				default:
					d.Ack(false)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeDrop
	outcomeRequeue
)

// reminderHandler decides what happens to one delivery. It is kept apart
// from the AMQP plumbing so it can be exercised directly.
type reminderHandler struct {
	cache    cache.CacheInterface
	notifier Notifier
	logger   *slog.Logger
}

func cacheKey(id string) string {
	return "reminder_" + id
}

func (h *reminderHandler) handle(ctx context.Context, body []byte) outcome {
	msg := &ReminderMessage{}
	if err := json.Unmarshal(body, msg); err != nil {
		h.logger.Warn("dropping malformed reminder message", slog.String("error", err.Error()))
		return outcomeDrop
	}
	if err := msg.validate(); err != nil {
		h.logger.Warn("dropping invalid reminder message", slog.String("id", msg.ID), slog.String("error", err.Error()))
		return outcomeDrop
	}

	processed, err := h.cache.Get(ctx, cacheKey(msg.ID))
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		h.logger.Warn("error checking cache", slog.String("id", msg.ID), slog.String("error", err.Error()))
		return outcomeRequeue
	}
	if processed != nil {
		h.logger.Debug("reminder already delivered", slog.String("id", msg.ID))
		return outcomeAck
	}

	if err := h.notifier.SendReminder(msg.To, msg.Title, msg.Body); err != nil {
		h.logger.Warn("failed to deliver reminder", slog.String("id", msg.ID), slog.String("error", err.Error()))
		return outcomeRequeue
	}

	if err := h.cache.Set(ctx, cacheKey(msg.ID), true, 0); err != nil {
		h.logger.Warn("failed to set key in cache", slog.String("id", msg.ID), slog.String("error", err.Error()))
	}
	h.logger.Info("reminder delivered", slog.String("id", msg.ID), slog.String("goal_id", msg.GoalID))
	return outcomeAck
}

// BuildReminderQueue creates the reminder queue with the requested number
// of producers and consumers.
func BuildReminderQueue(rabbitMQURL string, numProducers, numConsumers int, reminderCache cache.CacheInterface, notifier Notifier, logger *slog.Logger) (*Queue, error) {
	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &ReminderProducerFactory{}
	}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &ReminderConsumerFactory{Cache: reminderCache, Notifier: notifier, Logger: logger}
	}

	return InitQueue(rabbitMQURL, ReminderQueueName, prodFactories, consFactories, logger)
}

// PublishReminder serialises msg and publishes it through publisher.
func PublishReminder(publisher Producer, msg *ReminderMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal reminder message: %w", err)
	}
	if err := publisher.Publish(body); err != nil {
		return fmt.Errorf("failed to publish reminder message: %w", err)
	}
	return nil
}
