package goals

import (
	"context"
	"fmt"
	"sync"

	"github.com/jghoshh/goalnudge/backend/models"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Subscription streams a user's goal list every time it changes.
type Subscription struct {
	updates chan []models.Goal
	cancel  context.CancelFunc
	once    sync.Once
}

// Updates yields the rolled-over goal list. It is closed after Unsubscribe
// or when the subscribing context ends.
func (s *Subscription) Updates() <-chan []models.Goal {
	return s.updates
}

// Unsubscribe stops the stream. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Subscribe watches the user's goals. Emitted goals carry today's rollover
// but the reset is not written back; the next read persists it.
func (s *Service) Subscribe(ctx context.Context, userID primitive.ObjectID, active *bool) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	source, err := s.store.WatchGoals(ctx, storage.GoalQuery{UserID: userID, Active: active})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch goals: %w", err)
	}

	sub := &Subscription{updates: make(chan []models.Goal, 1), cancel: cancel}
	go func() {
		defer close(sub.updates)
		for goals := range source {
			today := s.today()
			for i, g := range goals {
				goals[i], _ = RolloverIfNeeded(g, today)
			}
			select {
			case sub.updates <- goals:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}
