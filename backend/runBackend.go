package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jghoshh/goalnudge/backend/config"
	"github.com/jghoshh/goalnudge/backend/goals"
	"github.com/jghoshh/goalnudge/backend/logging"
	"github.com/jghoshh/goalnudge/backend/queue"
	"github.com/jghoshh/goalnudge/backend/reminders"
	"github.com/jghoshh/goalnudge/backend/scheduler"
	"github.com/jghoshh/goalnudge/backend/server"
	"github.com/jghoshh/goalnudge/backend/server/auth"
	"github.com/jghoshh/goalnudge/backend/server/notifications/email"
	cache "github.com/jghoshh/goalnudge/backend/storage/cache"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
)

const numReminderProducers = 1

// RunBackend loads configuration from the environment (and envFiles),
// starts the API server and, when RabbitMQ is configured, the reminder
// delivery pipeline. It blocks until SIGINT or SIGTERM.
func RunBackend(envFiles ...string) error {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Disconnect()

	registrar, closeRegistrar, err := openRegistrar(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRegistrar()

	generator := reminders.NewGenerator(cfg.ReminderServiceURL,
		reminders.WithTimeout(cfg.ReminderTimeout),
		reminders.WithLogger(logger),
	)
	sched := scheduler.New(registrar, goals.StorePermissions{Store: store}, logger)
	service := goals.NewService(store, sched, generator,
		goals.WithLogger(logger),
		goals.WithLocation(loc),
	)
	authenticator := auth.NewAuthenticator(store, cfg.JWTSigningKey)

	var wg sync.WaitGroup
	if cfg.RabbitMQURL != "" {
		reminderQueue, err := startDelivery(ctx, cfg, store, registrar, loc, logger, &wg)
		if err != nil {
			return err
		}
		defer reminderQueue.Close()
	} else {
		logger.Info("RABBITMQ_URL not set, reminder delivery disabled")
	}

	err = server.New(authenticator, service, logger).Start(ctx, cfg.ServerURL)
	stop()
	wg.Wait()
	logger.Info("backend stopped")
	return err
}

func openStorage(cfg *config.Config, logger *slog.Logger) (storage.StorageInterface, error) {
	if cfg.Storage == "memory" {
		logger.Warn("using in-memory storage, data is lost on exit")
		return storage.NewMemoryStorage(), nil
	}
	store, err := storage.NewStorage(cfg.DBName, cfg.MongoURI, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to MongoDB", slog.String("db", cfg.DBName))
	return store, nil
}

func openRegistrar(ctx context.Context, cfg *config.Config, logger *slog.Logger) (scheduler.Registrar, func(), error) {
	if cfg.Registrar == "memory" {
		logger.Warn("using in-memory notification registrar")
		return scheduler.NewMemoryRegistrar(), func() {}, nil
	}
	registrar, err := scheduler.NewRedisRegistrar(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return registrar, func() { registrar.Close() }, nil
}

// startDelivery wires the Redis dedupe cache, the SMTP sender, the reminder
// queue and the dispatcher. Consumers and the dispatcher stop with ctx.
func startDelivery(ctx context.Context, cfg *config.Config, store storage.StorageInterface, registrar scheduler.Registrar, loc *time.Location, logger *slog.Logger, wg *sync.WaitGroup) (*queue.Queue, error) {
	reminderCache, err := cache.NewCache(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("reminder cache: %w", err)
	}

	if cfg.SMTPEmail == "" {
		reminderCache.Disconnect()
		return nil, errors.New("SMTP_EMAIL is required when RABBITMQ_URL is set")
	}
	sender := email.NewSender(cfg.SMTPEmail, cfg.SMTPPassword)
	if err := sender.Verify(); err != nil {
		logger.Warn("SMTP credentials could not be verified", slog.String("error", err.Error()))
	}

	reminderQueue, err := queue.BuildReminderQueue(cfg.RabbitMQURL, numReminderProducers, cfg.ReminderConsumers, reminderCache, sender, logger)
	if err != nil {
		reminderCache.Disconnect()
		return nil, err
	}

	consumers := reminderQueue.StartConsumers(ctx)
	dispatcher := queue.NewDispatcher(registrar, store, reminderQueue, loc, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, cfg.DispatchInterval)
		consumers.Wait()
		reminderCache.Disconnect()
	}()
	logger.Info("reminder delivery started", slog.Int("consumers", cfg.ReminderConsumers))
	return reminderQueue, nil
}
