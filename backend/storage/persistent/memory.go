package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jghoshh/goalnudge/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStorage is a StorageInterface held entirely in process memory. It is
// used for local runs and tests.
type MemoryStorage struct {
	mu            sync.RWMutex
	users         map[primitive.ObjectID]*models.User
	goals         map[primitive.ObjectID]*models.Goal
	goalLogs      map[primitive.ObjectID][]models.GoalLog // goalID -> logs
	refreshTokens map[string]*models.RefreshToken         // token -> record

	watchers map[int]*goalWatcher
	nextID   int
}

type goalWatcher struct {
	query GoalQuery
	ch    chan []models.Goal
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:         make(map[primitive.ObjectID]*models.User),
		goals:         make(map[primitive.ObjectID]*models.Goal),
		goalLogs:      make(map[primitive.ObjectID][]models.GoalLog),
		refreshTokens: make(map[string]*models.RefreshToken),
		watchers:      make(map[int]*goalWatcher),
	}
}

// User methods
func (s *MemoryStorage) AddUser(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) || u.Username == user.Username {
			return nil, ErrDuplicate
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	stored := *user
	s.users[user.ID] = &stored
	return user, nil
}

func (s *MemoryStorage) FindUserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	found := *user
	return &found, nil
}

func (s *MemoryStorage) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			found := *u
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; !exists {
		return ErrNotFound
	}
	for id, u := range s.users {
		if id != user.ID && (strings.EqualFold(u.Email, user.Email) || u.Username == user.Username) {
			return ErrDuplicate
		}
	}
	stored := *user
	s.users[user.ID] = &stored
	return nil
}

func (s *MemoryStorage) DeleteUser(_ context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[id]; !exists {
		return nil, ErrNotFound
	}
	delete(s.users, id)

	for goalID, g := range s.goals {
		if g.UserID == id {
			delete(s.goals, goalID)
			delete(s.goalLogs, goalID)
		}
	}
	for token, t := range s.refreshTokens {
		if t.UserID == id {
			delete(s.refreshTokens, token)
		}
	}
	s.notifyLocked(id)
	return &DeleteResult{DeletedCount: 1}, nil
}

// Goal methods
func (s *MemoryStorage) AddGoal(_ context.Context, goal *models.Goal) (*models.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if goal.ID.IsZero() {
		goal.ID = primitive.NewObjectID()
	}
	if _, exists := s.goals[goal.ID]; exists {
		return nil, ErrDuplicate
	}
	stored := goal.Clone()
	s.goals[goal.ID] = &stored
	s.notifyLocked(goal.UserID)
	return goal, nil
}

func (s *MemoryStorage) FindGoal(_ context.Context, id primitive.ObjectID) (*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	goal, exists := s.goals[id]
	if !exists {
		return nil, ErrNotFound
	}
	found := goal.Clone()
	return &found, nil
}

func (s *MemoryStorage) FindGoals(_ context.Context, query GoalQuery) ([]models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findGoalsLocked(query), nil
}

func (s *MemoryStorage) findGoalsLocked(query GoalQuery) []models.Goal {
	goals := []models.Goal{}
	for _, g := range s.goals {
		if query.Matches(*g) {
			goals = append(goals, g.Clone())
		}
	}
	sort.Slice(goals, func(i, j int) bool {
		if goals[i].CreatedAt.Equal(goals[j].CreatedAt) {
			return goals[i].ID.Hex() < goals[j].ID.Hex()
		}
		return goals[i].CreatedAt.Before(goals[j].CreatedAt)
	})
	return goals
}

func (s *MemoryStorage) UpdateGoal(_ context.Context, goal *models.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.goals[goal.ID]
	if !exists {
		return ErrNotFound
	}
	previousOwner := old.UserID
	stored := goal.Clone()
	s.goals[goal.ID] = &stored
	s.notifyLocked(goal.UserID)
	if previousOwner != goal.UserID {
		s.notifyLocked(previousOwner)
	}
	return nil
}

func (s *MemoryStorage) DeleteGoal(_ context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	goal, exists := s.goals[id]
	if !exists {
		return nil, ErrNotFound
	}
	delete(s.goals, id)
	delete(s.goalLogs, id)
	s.notifyLocked(goal.UserID)
	return &DeleteResult{DeletedCount: 1}, nil
}

// WatchGoals sends the current result of query right away and again after
// every change to the owner's goals. A slow reader only sees the latest
// snapshot.
func (s *MemoryStorage) WatchGoals(ctx context.Context, query GoalQuery) (<-chan []models.Goal, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	w := &goalWatcher{query: query, ch: make(chan []models.Goal, 1)}
	s.watchers[id] = w
	w.ch <- s.findGoalsLocked(query)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		close(w.ch)
		s.mu.Unlock()
	}()

	return w.ch, nil
}

func (s *MemoryStorage) notifyLocked(userID primitive.ObjectID) {
	for _, w := range s.watchers {
		if w.query.UserID != userID {
			continue
		}
		snapshot := s.findGoalsLocked(w.query)
		select {
		case <-w.ch:
		default:
		}
		w.ch <- snapshot
	}
}

// GoalLog methods
func (s *MemoryStorage) AddGoalLog(_ context.Context, log *models.GoalLog) (*models.GoalLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID.IsZero() {
		log.ID = primitive.NewObjectID()
	}
	s.goalLogs[log.GoalID] = append(s.goalLogs[log.GoalID], *log)
	return log, nil
}

func (s *MemoryStorage) FindGoalLogs(_ context.Context, goalID primitive.ObjectID) ([]models.GoalLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := append([]models.GoalLog{}, s.goalLogs[goalID]...)
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].At.Before(logs[j].At) })
	return logs, nil
}

// RefreshToken methods
func (s *MemoryStorage) AddRefreshToken(_ context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Token]; exists {
		return nil, ErrDuplicate
	}
	if token.ID.IsZero() {
		token.ID = primitive.NewObjectID()
	}
	stored := *token
	s.refreshTokens[token.Token] = &stored
	return token, nil
}

func (s *MemoryStorage) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found, exists := s.refreshTokens[token]
	if !exists {
		return nil, ErrNotFound
	}
	t := *found
	return &t, nil
}

func (s *MemoryStorage) DeleteRefreshTokens(_ context.Context, userID primitive.ObjectID) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for token, t := range s.refreshTokens {
		if t.UserID == userID {
			delete(s.refreshTokens, token)
			deleted++
		}
	}
	return &DeleteResult{DeletedCount: deleted}, nil
}

// Disconnect is a no-op. Watch channels close with their contexts.
func (s *MemoryStorage) Disconnect() error {
	return nil
}
