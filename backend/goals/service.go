// Package goals owns the goal lifecycle: validation, progress tracking,
// day and week rollover, and keeping reminder registrations in step with
// every edit.
package goals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jghoshh/goalnudge/backend/logging"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/planner"
	"github.com/jghoshh/goalnudge/backend/scheduler"
	storage "github.com/jghoshh/goalnudge/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrGoalNotFound  = errors.New("goal not found")
	ErrWrongGoalKind = errors.New("action not supported for this goal kind")
	ErrInvalidGoal   = errors.New("invalid goal")
	ErrUserNotFound  = errors.New("user not found")
)

// MessageGenerator produces one reminder text per slot.
type MessageGenerator interface {
	GenerateMessages(ctx context.Context, name string, kind models.GoalKind, slots []models.Slot) []string
}

// Mutation is the outcome of a goal edit. Notifications reports what the
// scheduler did; a scheduling problem never fails the edit itself.
type Mutation struct {
	Goal          models.Goal      `json:"goal"`
	Notifications scheduler.Result `json:"notifications"`
}

// Service implements goal operations on top of a store and a scheduler.
// Mutations for one user are serialised.
type Service struct {
	store     storage.StorageInterface
	scheduler *scheduler.Scheduler
	generator MessageGenerator
	logger    *slog.Logger
	now       func() time.Time
	location  *time.Location
	locks     *keyedMutex
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = logging.OrDefault(l) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone that decides where a day begins.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

func NewService(store storage.StorageInterface, sched *scheduler.Scheduler, generator MessageGenerator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		scheduler: sched,
		generator: generator,
		logger:    slog.Default(),
		now:       time.Now,
		location:  time.Local,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) today() string {
	return Day(s.now(), s.location)
}

// Create validates the input, resolves slots and messages, persists the goal
// and schedules its reminders.
func (s *Service) Create(ctx context.Context, userID primitive.ObjectID, in GoalInput) (*Mutation, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	if err := validateKind(in.Kind, in.Target); err != nil {
		return nil, err
	}
	days, err := normalizeDays(in.RepeatDays)
	if err != nil {
		return nil, err
	}
	frequency, err := in.resolveFrequency()
	if err != nil {
		return nil, err
	}
	if err := validateSlots(in.NotificationTimes); err != nil {
		return nil, err
	}
	slots, err := planner.ResolveSlots(frequency, in.NotificationTimes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGoal, err)
	}

	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	now := s.now()
	goal := &models.Goal{
		UserID:            userID,
		Name:              name,
		Kind:              in.Kind,
		Target:            copyInt(in.Target),
		Active:            true,
		Icon:              strings.TrimSpace(in.Icon),
		RepeatDays:        days,
		ReminderFrequency: frequency,
		NotificationTimes: slots,
		ReminderMessages:  s.generator.GenerateMessages(ctx, name, in.Kind, slots),
		LastResetDate:     Day(now, s.location),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	goal, err = s.store.AddGoal(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("add goal: %w", err)
	}
	s.logger.Info("goal created", slog.String("goal_id", goal.ID.Hex()), slog.String("user_id", userID.Hex()))

	return &Mutation{Goal: *goal, Notifications: s.reschedule(ctx, *goal)}, nil
}

// Get returns one of the user's goals, rolled over to today.
func (s *Service) Get(ctx context.Context, userID, goalID primitive.ObjectID) (*models.Goal, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	goal, err := s.load(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

// List returns the user's goals, optionally filtered by active flag, oldest
// first. Goals whose day has changed are reset and persisted first.
func (s *Service) List(ctx context.Context, userID primitive.ObjectID, active *bool) ([]models.Goal, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()
	return s.list(ctx, userID, active)
}

func (s *Service) list(ctx context.Context, userID primitive.ObjectID, active *bool) ([]models.Goal, error) {
	goals, err := s.store.FindGoals(ctx, storage.GoalQuery{UserID: userID, Active: active})
	if err != nil {
		return nil, fmt.Errorf("find goals: %w", err)
	}
	today := s.today()
	for i, g := range goals {
		rolled, changed := RolloverIfNeeded(g, today)
		if !changed {
			continue
		}
		if err := s.store.UpdateGoal(ctx, &rolled); err != nil {
			return nil, fmt.Errorf("persist rollover of goal %s: %w", g.ID.Hex(), err)
		}
		goals[i] = rolled
	}
	return goals, nil
}

// Update applies a patch. Frequency, times and message lists stay aligned:
// lowering the frequency truncates the times, raising it re-derives the
// default table unless a full set of times comes with the patch, and the
// messages are regenerated whenever the text inputs change.
func (s *Service) Update(ctx context.Context, userID, goalID primitive.ObjectID, patch GoalPatch) (*Mutation, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	current, err := s.load(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return &Mutation{Goal: current}, nil
	}

	g := current.Clone()
	regenerate := false

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		regenerate = regenerate || name != g.Name
		g.Name = name
	}
	if patch.Icon != nil {
		g.Icon = strings.TrimSpace(*patch.Icon)
	}
	if patch.Kind != nil && *patch.Kind != g.Kind {
		regenerate = true
		g.Kind = *patch.Kind
		g.DayCount = 0
		g.CompletedToday = false
		if g.Kind == models.KindTask {
			g.Target = nil
		}
	}
	if patch.Target != nil {
		if g.Kind != models.KindIncremental {
			return nil, invalid("task goals do not take a target")
		}
		g.Target = copyInt(patch.Target)
	}
	if patch.RepeatDays != nil {
		days, err := normalizeDays(*patch.RepeatDays)
		if err != nil {
			return nil, err
		}
		g.RepeatDays = days
	}
	if patch.ReminderFrequency != nil || patch.NotificationTimes != nil {
		slots, err := patchSlots(current, patch)
		if err != nil {
			return nil, err
		}
		regenerate = regenerate || !sameSlots(slots, current.NotificationTimes)
		g.ReminderFrequency = len(slots)
		g.NotificationTimes = slots
	}
	if patch.Active != nil {
		g.Active = *patch.Active
		if g.Active && !current.Active {
			g.CompletedToday = false
			g.DayCount = 0
			g.LastResetDate = s.today()
		}
	}

	if err := validateGoal(g); err != nil {
		return nil, err
	}
	if regenerate || len(g.ReminderMessages) != g.ReminderFrequency {
		g.ReminderMessages = s.generator.GenerateMessages(ctx, g.Name, g.Kind, g.NotificationTimes)
	}
	g.UpdatedAt = s.now()

	if err := s.store.UpdateGoal(ctx, &g); err != nil {
		return nil, fmt.Errorf("update goal: %w", err)
	}
	return &Mutation{Goal: g, Notifications: s.reschedule(ctx, g)}, nil
}

// patchSlots works out the new slot list from a frequency and/or times patch.
func patchSlots(current models.Goal, patch GoalPatch) ([]models.Slot, error) {
	frequency := current.ReminderFrequency
	if patch.ReminderFrequency != nil {
		frequency = *patch.ReminderFrequency
	} else if patch.NotificationTimes != nil {
		frequency = len(*patch.NotificationTimes)
	}
	if err := validateFrequency(frequency); err != nil {
		return nil, err
	}

	if patch.NotificationTimes != nil {
		times := *patch.NotificationTimes
		if len(times) != frequency {
			return nil, invalid("%d notification times for frequency %d", len(times), frequency)
		}
		if err := validateSlots(times); err != nil {
			return nil, err
		}
		return append([]models.Slot{}, times...), nil
	}

	existing := current.NotificationTimes
	if len(existing) != current.ReminderFrequency {
		existing = nil
	}
	switch {
	case frequency == 0:
		return []models.Slot{}, nil
	case frequency <= len(existing):
		return append([]models.Slot{}, existing[:frequency]...), nil
	default:
		return planner.ResolveSlots(frequency, nil)
	}
}

func sameSlots(a, b []models.Slot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetActive flips the active flag. Deactivating cancels the goal's
// reminders and keeps its history. Reactivating resets today's progress but
// registers nothing; reminders return on the next Update or Resync.
func (s *Service) SetActive(ctx context.Context, userID, goalID primitive.ObjectID, active bool) (*Mutation, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	g, err := s.load(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	if g.Active == active {
		return &Mutation{Goal: g}, nil
	}

	g.Active = active
	g.UpdatedAt = s.now()
	if active {
		g.CompletedToday = false
		g.DayCount = 0
		g.LastResetDate = s.today()
	}
	if err := s.store.UpdateGoal(ctx, &g); err != nil {
		return nil, fmt.Errorf("update goal: %w", err)
	}

	m := &Mutation{Goal: g}
	if !active {
		m.Notifications = s.cancel(ctx, g.ID)
	}
	return m, nil
}

// Delete removes the goal and cancels its reminders.
func (s *Service) Delete(ctx context.Context, userID, goalID primitive.ObjectID) (scheduler.Result, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	if _, err := s.load(ctx, userID, goalID); err != nil {
		return scheduler.Result{}, err
	}
	if _, err := s.store.DeleteGoal(ctx, goalID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return scheduler.Result{}, ErrGoalNotFound
		}
		return scheduler.Result{}, fmt.Errorf("delete goal: %w", err)
	}
	s.logger.Info("goal deleted", slog.String("goal_id", goalID.Hex()), slog.String("user_id", userID.Hex()))
	return s.cancel(ctx, goalID), nil
}

// Toggle flips today's completion of a task goal.
func (s *Service) Toggle(ctx context.Context, userID, goalID primitive.ObjectID) (*models.Goal, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	g, err := s.load(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	if g.Kind != models.KindTask {
		return nil, fmt.Errorf("%w: toggle needs a task goal", ErrWrongGoalKind)
	}

	action := models.LogUncompleted
	counted := false
	if g.CompletedToday {
		g.CompletedToday = false
	} else {
		action = models.LogCompleted
		counted = s.complete(&g)
	}
	return s.saveProgress(ctx, g, action, 1, counted)
}

// Increment adds by to an incremental goal's counter. Reaching the target
// completes the goal for the day.
func (s *Service) Increment(ctx context.Context, userID, goalID primitive.ObjectID, by int) (*models.Goal, error) {
	if by <= 0 {
		return nil, invalid("increment must be positive")
	}
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	g, err := s.loadIncremental(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	g.DayCount += by
	counted := false
	if !g.CompletedToday && g.DayCount >= *g.Target {
		counted = s.complete(&g)
	}
	return s.saveProgress(ctx, g, models.LogIncrement, by, counted)
}

// Decrement lowers an incremental goal's counter, never below zero. Falling
// under the target clears today's completion but keeps streak and totals.
func (s *Service) Decrement(ctx context.Context, userID, goalID primitive.ObjectID, by int) (*models.Goal, error) {
	if by <= 0 {
		return nil, invalid("decrement must be positive")
	}
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()

	g, err := s.loadIncremental(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	g.DayCount -= by
	if g.DayCount < 0 {
		g.DayCount = 0
	}
	if g.CompletedToday && g.DayCount < *g.Target {
		g.CompletedToday = false
	}
	return s.saveProgress(ctx, g, models.LogDecrement, by, false)
}

// complete marks the goal done. Streak and totals move only on the first
// completion of the local day, so toggling off and on again counts once; the
// returned bool reports whether they moved. The streak carries on when the
// previous completion was on or after the last due day before today and
// restarts at 1 otherwise.
func (s *Service) complete(g *models.Goal) bool {
	now := s.now()
	today := Day(now, s.location)
	last := ""
	if g.LastCompletedAt != nil {
		last = Day(*g.LastCompletedAt, s.location)
	}
	g.CompletedToday = true
	g.LastCompletedAt = &now
	if last == today {
		return false
	}
	if last != "" && last >= PreviousDueDay(today, g.RepeatDays) {
		g.Streak++
	} else {
		g.Streak = 1
	}
	g.TotalCompletions++
	return true
}

func (s *Service) saveProgress(ctx context.Context, g models.Goal, action models.LogAction, amount int, counted bool) (*models.Goal, error) {
	g.UpdatedAt = s.now()
	if err := s.store.UpdateGoal(ctx, &g); err != nil {
		return nil, fmt.Errorf("update goal: %w", err)
	}

	log := &models.GoalLog{
		GoalID:   g.ID,
		UserID:   g.UserID,
		Action:   action,
		Amount:   amount,
		DayCount: g.DayCount,
		At:       g.UpdatedAt,
	}
	if _, err := s.store.AddGoalLog(ctx, log); err != nil {
		return nil, fmt.Errorf("add goal log: %w", err)
	}

	if counted {
		if err := s.countWeekly(ctx, g.UserID); err != nil {
			return nil, err
		}
	}
	return &g, nil
}

func (s *Service) countWeekly(ctx context.Context, userID primitive.ObjectID) error {
	user, err := s.store.FindUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	u, _ := RolloverWeekIfNeeded(*user, s.today())
	u.WeeklyCompletions++
	if err := s.store.UpdateUser(ctx, &u); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// Resync rebuilds every reminder of the user from their active goals.
func (s *Service) Resync(ctx context.Context, userID primitive.ObjectID) (scheduler.Result, error) {
	unlock := s.locks.Lock(userID.Hex())
	defer unlock()
	return s.resync(ctx, userID)
}

func (s *Service) resync(ctx context.Context, userID primitive.ObjectID) (scheduler.Result, error) {
	active := true
	goals, err := s.list(ctx, userID, &active)
	if err != nil {
		return scheduler.Result{}, err
	}
	res, err := s.scheduler.ResyncOwner(ctx, userID.Hex(), goals)
	if err != nil {
		s.logger.Warn("resync failed", slog.String("user_id", userID.Hex()), slog.String("error", err.Error()))
	}
	return res, nil
}

// Registrations lists the pending reminders of one of the user's goals.
func (s *Service) Registrations(ctx context.Context, userID, goalID primitive.ObjectID) ([]scheduler.Pending, error) {
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return nil, err
	}
	return s.scheduler.Registrations(ctx, goalID.Hex())
}

// load fetches a goal owned by userID and applies today's rollover,
// persisting it when something changed.
func (s *Service) load(ctx context.Context, userID, goalID primitive.ObjectID) (models.Goal, error) {
	goal, err := s.store.FindGoal(ctx, goalID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Goal{}, ErrGoalNotFound
	}
	if err != nil {
		return models.Goal{}, fmt.Errorf("find goal: %w", err)
	}
	if goal.UserID != userID {
		return models.Goal{}, ErrGoalNotFound
	}

	rolled, changed := RolloverIfNeeded(*goal, s.today())
	if changed {
		if err := s.store.UpdateGoal(ctx, &rolled); err != nil {
			return models.Goal{}, fmt.Errorf("persist rollover of goal %s: %w", goalID.Hex(), err)
		}
	}
	return rolled, nil
}

func (s *Service) loadIncremental(ctx context.Context, userID, goalID primitive.ObjectID) (models.Goal, error) {
	g, err := s.load(ctx, userID, goalID)
	if err != nil {
		return g, err
	}
	if g.Kind != models.KindIncremental || g.Target == nil {
		return g, fmt.Errorf("%w: counter actions need an incremental goal", ErrWrongGoalKind)
	}
	return g, nil
}

// reschedule and cancel isolate scheduling errors from the goal mutation.
func (s *Service) reschedule(ctx context.Context, g models.Goal) scheduler.Result {
	res, err := s.scheduler.RescheduleGoal(ctx, g)
	if err != nil {
		s.logger.Warn("reschedule failed", slog.String("goal_id", g.ID.Hex()), slog.String("error", err.Error()))
	}
	return res
}

func (s *Service) cancel(ctx context.Context, goalID primitive.ObjectID) scheduler.Result {
	res, err := s.scheduler.CancelForGoal(ctx, goalID.Hex())
	if err != nil {
		s.logger.Warn("cancel failed", slog.String("goal_id", goalID.Hex()), slog.String("error", err.Error()))
	}
	return res
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
