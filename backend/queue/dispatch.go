package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jghoshh/goalnudge/backend/logging"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/scheduler"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxCatchUp bounds how many missed minutes Run replays after a stall.
const maxCatchUp = 60

// Dispatcher turns weekly registrations that come due into reminder
// messages.
type Dispatcher struct {
	registrar scheduler.Registrar
	store     storage.StorageInterface
	publisher Producer
	location  *time.Location
	logger    *slog.Logger
}

func NewDispatcher(registrar scheduler.Registrar, store storage.StorageInterface, publisher Producer, loc *time.Location, logger *slog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{
		registrar: registrar,
		store:     store,
		publisher: publisher,
		location:  loc,
		logger:    logging.OrDefault(logger),
	}
}

// Tick publishes a message for every goal reminder due at the minute of now.
// It returns how many were published. A failure for one registration is
// logged and does not stop the rest.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (int, error) {
	local := now.In(d.location)
	weekday := int(local.Weekday())

	pending, err := d.registrar.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	owners := map[string]*models.User{}
	published := 0
	for _, p := range pending {
		if p.Trigger.Kind != scheduler.TriggerWeekly ||
			scheduler.FromRegistrarWeekday(p.Trigger.Weekday) != weekday ||
			p.Trigger.Hour != local.Hour() || p.Trigger.Minute != local.Minute() {
			continue
		}
		tag, ok := scheduler.ParseTag(p.Content.Data)
		if !ok {
			continue
		}

		owner, err := d.owner(ctx, owners, tag.OwnerID)
		if err != nil {
			d.logger.Warn("cannot resolve reminder owner",
				slog.String("registration_id", p.ID),
				slog.String("owner_id", tag.OwnerID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if owner == nil || !owner.NotificationsEnabled {
			continue
		}

		msg := &ReminderMessage{
			ID:             MessageID(p.ID, local),
			RegistrationID: p.ID,
			GoalID:         tag.GoalID,
			OwnerID:        tag.OwnerID,
			To:             owner.Email,
			Title:          p.Content.Title,
			Body:           p.Content.Body,
			Due:            local.Truncate(time.Minute),
		}
		if err := PublishReminder(d.publisher, msg); err != nil {
			d.logger.Warn("failed to publish reminder",
				slog.String("registration_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		published++
	}

	if published > 0 {
		d.logger.Debug("dispatched reminders", slog.Int("count", published), slog.Time("at", local))
	}
	return published, nil
}

// owner looks up and memoises a user for the current tick. A deleted user
// yields nil without an error.
func (d *Dispatcher) owner(ctx context.Context, seen map[string]*models.User, ownerID string) (*models.User, error) {
	if u, ok := seen[ownerID]; ok {
		return u, nil
	}
	id, err := primitive.ObjectIDFromHex(ownerID)
	if err != nil {
		return nil, err
	}
	user, err := d.store.FindUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		user, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	seen[ownerID] = user
	return user, nil
}

// Run calls Tick once for every wall-clock minute until ctx is done. Minutes
// missed because the loop fell behind are replayed, up to an hour.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now().Truncate(time.Minute).Add(-time.Minute)
	for {
		last = d.catchUp(ctx, last, time.Now())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// catchUp ticks every minute after last up to now and returns the last
// minute processed.
func (d *Dispatcher) catchUp(ctx context.Context, last, now time.Time) time.Time {
	current := now.Truncate(time.Minute)
	if current.Sub(last) > maxCatchUp*time.Minute {
		last = current.Add(-maxCatchUp * time.Minute)
	}
	for m := last.Add(time.Minute); !m.After(current); m = m.Add(time.Minute) {
		if _, err := d.Tick(ctx, m); err != nil {
			d.logger.Warn("dispatch tick failed", slog.Time("minute", m), slog.String("error", err.Error()))
		}
		last = m
	}
	return last
}
