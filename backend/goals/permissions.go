package goals

import (
	"context"
	"errors"
	"fmt"

	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StorePermissions reads the notification permission from the owner's
// profile.
type StorePermissions struct {
	Store storage.StorageInterface
}

// NotificationsGranted reports the owner's notifications_enabled flag. An
// unknown owner has not granted anything.
func (p StorePermissions) NotificationsGranted(ctx context.Context, ownerID string) (bool, error) {
	id, err := primitive.ObjectIDFromHex(ownerID)
	if err != nil {
		return false, fmt.Errorf("invalid owner id %q: %w", ownerID, err)
	}
	user, err := p.Store.FindUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.NotificationsEnabled, nil
}
