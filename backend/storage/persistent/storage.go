package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jghoshh/goalnudge/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when a unique field (email, username, token) is already taken.
	ErrDuplicate = errors.New("duplicate document")
)

// DeleteResult represents the result of a deletion operation,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// GoalQuery selects goals by owner and, optionally, by active flag. Results
// are ordered by creation time, oldest first.
type GoalQuery struct {
	UserID primitive.ObjectID
	Active *bool
}

// Matches reports whether g satisfies the query.
func (q GoalQuery) Matches(g models.Goal) bool {
	if g.UserID != q.UserID {
		return false
	}
	return q.Active == nil || g.Active == *q.Active
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement.
type StorageInterface interface {
	// Adds a new user. Email and username are unique.
	AddUser(ctx context.Context, user *models.User) (*models.User, error)
	// Finds a user by id.
	FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	// Finds a user by email.
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	// Replaces a stored user with the given value.
	UpdateUser(ctx context.Context, user *models.User) error
	// Deletes a user together with their goals, logs and refresh tokens.
	DeleteUser(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)

	// Adds a new goal and assigns its id.
	AddGoal(ctx context.Context, goal *models.Goal) (*models.Goal, error)
	// Finds a goal by id.
	FindGoal(ctx context.Context, id primitive.ObjectID) (*models.Goal, error)
	// Finds goals matching the query.
	FindGoals(ctx context.Context, query GoalQuery) ([]models.Goal, error)
	// Replaces a stored goal with the given value.
	UpdateGoal(ctx context.Context, goal *models.Goal) error
	// Deletes a goal and its logs.
	DeleteGoal(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)
	// Streams the full result of query every time a goal of the owner changes.
	// The channel is closed when ctx is done.
	WatchGoals(ctx context.Context, query GoalQuery) (<-chan []models.Goal, error)

	// Adds a goal log entry.
	AddGoalLog(ctx context.Context, log *models.GoalLog) (*models.GoalLog, error)
	// Finds the log entries of a goal, oldest first.
	FindGoalLogs(ctx context.Context, goalID primitive.ObjectID) ([]models.GoalLog, error)

	// Adds a refresh token.
	AddRefreshToken(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	// Finds a refresh token by its token string.
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	// Deletes every refresh token of a user.
	DeleteRefreshTokens(ctx context.Context, userID primitive.ObjectID) (*DeleteResult, error)

	// Releases the backend.
	Disconnect() error
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string, logger *slog.Logger) (StorageInterface, error) {
	storage := NewMongoStorage(logger)
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
