package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jghoshh/goalnudge/backend/logging"
	"github.com/jghoshh/goalnudge/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection         = "users"
	goalsCollection         = "goals"
	goalLogsCollection      = "goalLogs"
	refreshTokensCollection = "refreshTokens"
)

// MongoStorage is a StorageInterface backed by MongoDB.
type MongoStorage struct {
	client *mongo.Client
	dbName string
	logger *slog.Logger
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
// A nil logger falls back to the process default.
func NewMongoStorage(logger *slog.Logger) *MongoStorage {
	return &MongoStorage{logger: logging.OrDefault(logger)}
}

// Connect establishes a connection to the MongoDB server at the given URI and
// database name and sets up the indexes.
func (m *MongoStorage) Connect(dbName, uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return fmt.Errorf("error pinging MongoDB: %w", err)
	}

	m.client = client
	m.dbName = dbName

	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.M{"email": 1}, Options: options.Index().SetUnique(true)},
			{Keys: bson.M{"username": 1}, Options: options.Index().SetUnique(true)},
		},
		goalsCollection: {
			// Owner queries filter on user_id and active and sort by created_at.
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "active", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		goalLogsCollection: {
			{Keys: bson.D{{Key: "goal_id", Value: 1}, {Key: "at", Value: 1}}},
			{Keys: bson.M{"user_id": 1}},
		},
		refreshTokensCollection: {
			{Keys: bson.M{"user_id": 1}},
			{Keys: bson.M{"token": 1}, Options: options.Index().SetUnique(true)},
			// Expired tokens are removed by the server.
			{Keys: bson.M{"expiry": 1}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
	}

	for name, idx := range indexes {
		if _, err := m.collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("error creating %s indexes: %w", name, err)
		}
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
func (m *MongoStorage) Disconnect() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %w", err)
	}
	return nil
}

func (m *MongoStorage) collection(name string) *mongo.Collection {
	return m.client.Database(m.dbName).Collection(name)
}

// AddUser inserts a user document. Returns ErrDuplicate when the email or
// username is already taken.
func (m *MongoStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if _, err := m.collection(usersCollection).InsertOne(ctx, user); err != nil {
		return nil, translateWriteError(err)
	}
	return user, nil
}

func (m *MongoStorage) FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return m.findUser(ctx, bson.M{"_id": id})
}

func (m *MongoStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"email": email})
}

func (m *MongoStorage) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	user := &models.User{}
	if err := m.collection(usersCollection).FindOne(ctx, filter).Decode(user); err != nil {
		return nil, translateReadError(err)
	}
	return user, nil
}

func (m *MongoStorage) UpdateUser(ctx context.Context, user *models.User) error {
	result, err := m.collection(usersCollection).ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		return translateWriteError(err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser deletes the user and everything that belongs to them.
func (m *MongoStorage) DeleteUser(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	if _, err := m.FindUserByID(ctx, id); err != nil {
		return nil, err
	}

	for _, name := range []string{goalsCollection, goalLogsCollection, refreshTokensCollection} {
		if _, err := m.collection(name).DeleteMany(ctx, bson.M{"user_id": id}); err != nil {
			return nil, fmt.Errorf("delete %s of user %s: %w", name, id.Hex(), err)
		}
	}

	result, err := m.collection(usersCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

func (m *MongoStorage) AddGoal(ctx context.Context, goal *models.Goal) (*models.Goal, error) {
	if goal.ID.IsZero() {
		goal.ID = primitive.NewObjectID()
	}
	if _, err := m.collection(goalsCollection).InsertOne(ctx, goal); err != nil {
		return nil, translateWriteError(err)
	}
	return goal, nil
}

func (m *MongoStorage) FindGoal(ctx context.Context, id primitive.ObjectID) (*models.Goal, error) {
	goal := &models.Goal{}
	if err := m.collection(goalsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(goal); err != nil {
		return nil, translateReadError(err)
	}
	return goal, nil
}

func goalFilter(q GoalQuery) bson.M {
	filter := bson.M{"user_id": q.UserID}
	if q.Active != nil {
		filter["active"] = *q.Active
	}
	return filter
}

func (m *MongoStorage) FindGoals(ctx context.Context, query GoalQuery) ([]models.Goal, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.collection(goalsCollection).Find(ctx, goalFilter(query), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	goals := []models.Goal{}
	if err := cursor.All(ctx, &goals); err != nil {
		return nil, err
	}
	return goals, nil
}

func (m *MongoStorage) UpdateGoal(ctx context.Context, goal *models.Goal) error {
	result, err := m.collection(goalsCollection).ReplaceOne(ctx, bson.M{"_id": goal.ID}, goal)
	if err != nil {
		return translateWriteError(err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGoal removes a goal and its log history.
func (m *MongoStorage) DeleteGoal(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	result, err := m.collection(goalsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if result.DeletedCount == 0 {
		return nil, ErrNotFound
	}
	if _, err := m.collection(goalLogsCollection).DeleteMany(ctx, bson.M{"goal_id": id}); err != nil {
		return nil, fmt.Errorf("delete logs of goal %s: %w", id.Hex(), err)
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// WatchGoals opens a change stream on the goals collection and re-runs the
// query whenever a change could affect it. Deletes only carry the document
// key, so every delete triggers a refresh. Change streams require a replica
// set or sharded cluster.
func (m *MongoStorage) WatchGoals(ctx context.Context, query GoalQuery) (<-chan []models.Goal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"fullDocument.user_id": query.UserID},
			bson.M{"operationType": "delete"},
		}}}},
	}
	stream, err := m.collection(goalsCollection).Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("open goals change stream: %w", err)
	}

	initial, err := m.FindGoals(ctx, query)
	if err != nil {
		stream.Close(context.Background())
		return nil, err
	}

	out := make(chan []models.Goal, 1)
	out <- initial

	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			goals, err := m.FindGoals(ctx, query)
			if err != nil {
				m.logger.Warn("refreshing watched goals failed",
					slog.String("user_id", query.UserID.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case out <- goals:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("goals change stream ended",
				slog.String("user_id", query.UserID.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}()

	return out, nil
}

func (m *MongoStorage) AddGoalLog(ctx context.Context, log *models.GoalLog) (*models.GoalLog, error) {
	if log.ID.IsZero() {
		log.ID = primitive.NewObjectID()
	}
	if _, err := m.collection(goalLogsCollection).InsertOne(ctx, log); err != nil {
		return nil, translateWriteError(err)
	}
	return log, nil
}

func (m *MongoStorage) FindGoalLogs(ctx context.Context, goalID primitive.ObjectID) ([]models.GoalLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.collection(goalLogsCollection).Find(ctx, bson.M{"goal_id": goalID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	logs := []models.GoalLog{}
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (m *MongoStorage) AddRefreshToken(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	if token.ID.IsZero() {
		token.ID = primitive.NewObjectID()
	}
	if _, err := m.collection(refreshTokensCollection).InsertOne(ctx, token); err != nil {
		return nil, translateWriteError(err)
	}
	return token, nil
}

func (m *MongoStorage) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	found := &models.RefreshToken{}
	if err := m.collection(refreshTokensCollection).FindOne(ctx, bson.M{"token": token}).Decode(found); err != nil {
		return nil, translateReadError(err)
	}
	return found, nil
}

func (m *MongoStorage) DeleteRefreshTokens(ctx context.Context, userID primitive.ObjectID) (*DeleteResult, error) {
	result, err := m.collection(refreshTokensCollection).DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

func translateReadError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func translateWriteError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
