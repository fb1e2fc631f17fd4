package goals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/scheduler"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalidProfile is returned for a profile edit that breaks a field rule.
var ErrInvalidProfile = errors.New("invalid profile")

// ProfilePatch lists the profile fields a user may edit.
type ProfilePatch struct {
	Username             *string `json:"username,omitempty"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
}

// ProfileUpdate is the edited profile plus what happened to the user's
// reminders when the notification preference changed.
type ProfileUpdate struct {
	User          models.User      `json:"user"`
	Notifications scheduler.Result `json:"notifications"`
}

// Profile returns the user with the weekly counter rolled over to the
// current week.
func (s *Service) Profile(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile applies the patch. Turning notifications on registers every
// active goal, turning them off cancels all of the user's reminders.
func (s *Service) UpdateProfile(ctx context.Context, userID primitive.ObjectID, patch ProfilePatch) (*ProfileUpdate, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	toggled := false
	if patch.Username != nil {
		name := strings.TrimSpace(*patch.Username)
		if name == "" {
			return nil, fmt.Errorf("%w: username is required", ErrInvalidProfile)
		}
		user.Username = name
	}
	if patch.NotificationsEnabled != nil && *patch.NotificationsEnabled != user.NotificationsEnabled {
		user.NotificationsEnabled = *patch.NotificationsEnabled
		toggled = true
	}

	if err := s.store.UpdateUser(ctx, &user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	out := &ProfileUpdate{User: user}
	if !toggled {
		return out, nil
	}
	if user.NotificationsEnabled {
		out.Notifications, err = s.resync(ctx, userID)
		if err != nil {
			return nil, err
		}
	} else {
		out.Notifications, err = s.scheduler.CancelForOwner(ctx, userID.Hex())
		if err != nil {
			s.logger.Warn("cancel failed", slog.String("user_id", userID.Hex()), slog.String("error", err.Error()))
		}
	}
	return out, nil
}

func (s *Service) loadUser(ctx context.Context, userID primitive.ObjectID) (models.User, error) {
	found, err := s.store.FindUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	user, changed := RolloverWeekIfNeeded(*found, s.today())
	if changed {
		if err := s.store.UpdateUser(ctx, &user); err != nil {
			return models.User{}, fmt.Errorf("persist week rollover: %w", err)
		}
	}
	return user, nil
}

// DeleteAccount cancels every reminder of the user and removes the account
// together with its goals, logs and refresh tokens.
func (s *Service) DeleteAccount(ctx context.Context, userID primitive.ObjectID) (scheduler.Result, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	if _, err := s.loadUser(ctx, userID); err != nil {
		return scheduler.Result{}, err
	}
	res, err := s.scheduler.CancelForOwner(ctx, userID.Hex())
	if err != nil {
		s.logger.Warn("cancel failed", slog.String("user_id", userID.Hex()), slog.String("error", err.Error()))
	}
	if _, err := s.store.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return res, ErrUserNotFound
		}
		return res, fmt.Errorf("delete user: %w", err)
	}
	s.logger.Info("account deleted", slog.String("user_id", userID.Hex()))
	return res, nil
}
