package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jghoshh/goalnudge/backend/logging"
	"github.com/streadway/amqp"
)

// Producer interface provides the Publish method to publish messages to RabbitMQ.
// Publish sends a message body as a byte array to RabbitMQ.
// Returns an error if there was a problem.
type Producer interface {
	Publish(body []byte) error
}

// Consumer interface provides the Consume method to consume messages from RabbitMQ.
// Consume listens to messages from RabbitMQ and handles the message stream
// until ctx is done.
type Consumer interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
}

// ProducerFactory interface provides the CreateProducer method to instantiate new producers.
type ProducerFactory interface {
	CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error)
}

// ConsumerFactory interface provides the CreateConsumer method to instantiate new consumers.
type ConsumerFactory interface {
	CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error)
}

// Queue holds the producers and consumers of one RabbitMQ queue.
type Queue struct {
	Producers []Producer
	Consumers []Consumer

	conn   *amqp.Connection
	next   uint64
	logger *slog.Logger
}

// connect establishes a connection to RabbitMQ and opens a channel in
// confirm mode. An unexpected connection close is logged.
func connect(url string, logger *slog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if err = ch.Confirm(false); err != nil {
		conn.Close()
		return nil, nil, err
	}

	notifyClose := make(chan *amqp.Error, 1)
	conn.NotifyClose(notifyClose)

	go func() {
		if err := <-notifyClose; err != nil {
			logger.Error("RabbitMQ connection closed", slog.String("error", err.Error()))
		}
	}()

	return conn, ch, nil
}

// InitQueue connects to RabbitMQ, declares a durable queue with the given
// name and builds one producer or consumer per factory.
func InitQueue(url string, queueName string, prodFactories []ProducerFactory, consFactories []ConsumerFactory, logger *slog.Logger) (*Queue, error) {
	logger = logging.OrDefault(logger)
	conn, ch, err := connect(url, logger)
	if err != nil {
		return nil, fmt.Errorf("error connecting to RabbitMQ: %w", err)
	}

	queue, err := ch.QueueDeclare(
		queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error declaring queue: %w", err)
	}

	q := &Queue{conn: conn, logger: logger}

	for _, prodFactory := range prodFactories {
		producer, err := prodFactory.CreateProducer(conn, ch, &queue)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("error creating producer: %w", err)
		}
		q.Producers = append(q.Producers, producer)
	}

	for _, consFactory := range consFactories {
		consumer, err := consFactory.CreateConsumer(conn, ch, &queue)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("error creating consumer: %w", err)
		}
		q.Consumers = append(q.Consumers, consumer)
	}

	return q, nil
}

// StartConsumers starts every consumer in its own goroutine. The consumers
// stop when ctx is done; the returned WaitGroup is released once they all
// have.
func (q *Queue) StartConsumers(ctx context.Context) *sync.WaitGroup {
	logger := logging.OrDefault(q.logger)
	var wg sync.WaitGroup

	for _, consumer := range q.Consumers {
		wg.Add(1)

		go func(c Consumer) {
			defer wg.Done()

			if _, err := c.Consume(ctx); err != nil {
				logger.Error("error starting consumer", slog.String("error", err.Error()))
				return
			}
			<-ctx.Done()
		}(consumer)
	}

	return &wg
}

// Publish hands body to the next producer in round-robin order.
func (q *Queue) Publish(body []byte) error {
	if len(q.Producers) == 0 {
		return errors.New("no producers available")
	}
	i := atomic.AddUint64(&q.next, 1) - 1
	return q.Producers[i%uint64(len(q.Producers))].Publish(body)
}

// Close closes the RabbitMQ connection.
func (q *Queue) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
