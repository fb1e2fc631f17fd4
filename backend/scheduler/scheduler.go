// Package scheduler keeps the registrar's goal reminders consistent with the
// current state of each goal.
//
// A goal maps to one weekly registration per (due weekday, slot) pair. Every
// registration carries a Tag so the scheduler can find and cancel its own
// registrations later without touching anything else held by the registrar.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jghoshh/goalnudge/backend/logging"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/planner"
)

// Result summarises one scheduler operation.
type Result struct {
	Registered       int  `json:"registered"`
	Cancelled        int  `json:"cancelled"`
	Failed           int  `json:"failed"`
	PermissionDenied bool `json:"permission_denied"`
}

func (r *Result) add(o Result) {
	r.Registered += o.Registered
	r.Cancelled += o.Cancelled
	r.Failed += o.Failed
	r.PermissionDenied = r.PermissionDenied || o.PermissionDenied
}

// Scheduler registers and cancels goal reminders on a Registrar.
type Scheduler struct {
	registrar   Registrar
	permissions Permissions
	logger      *slog.Logger
}

// New creates a Scheduler. permissions may be nil, in which case
// notifications are always considered granted.
func New(registrar Registrar, permissions Permissions, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		registrar:   registrar,
		permissions: permissions,
		logger:      logging.OrDefault(logger),
	}
}

// Schedulable reports whether the goal should have any registrations.
func Schedulable(g models.Goal) bool {
	return g.Active && g.ReminderFrequency > 0 && len(g.RepeatDays) > 0
}

// ScheduleForGoal registers the goal's reminders. It is best effort: a slot
// that fails to register is logged and skipped.
func (s *Scheduler) ScheduleForGoal(ctx context.Context, goal models.Goal) (Result, error) {
	var res Result
	if !Schedulable(goal) {
		return res, nil
	}

	granted, err := s.granted(ctx, goal.UserID.Hex())
	if err != nil {
		return res, err
	}
	if !granted {
		s.logger.Info("notification permission not granted, skipping schedule",
			slog.String("goal_id", goal.ID.Hex()),
			slog.String("owner_id", goal.UserID.Hex()),
		)
		res.PermissionDenied = true
		return res, nil
	}

	slots, err := planner.ResolveSlots(goal.ReminderFrequency, goal.NotificationTimes)
	if err != nil {
		return res, fmt.Errorf("resolve slots for goal %s: %w", goal.ID.Hex(), err)
	}
	if len(goal.NotificationTimes) != 0 && len(goal.NotificationTimes) != goal.ReminderFrequency {
		s.logger.Warn("notification times do not match frequency, using defaults",
			slog.String("goal_id", goal.ID.Hex()),
			slog.Int("frequency", goal.ReminderFrequency),
			slog.Int("times", len(goal.NotificationTimes)),
		)
	}

	title := Title(goal)
	for _, day := range goal.RepeatDays {
		if day < 0 || day > 6 {
			s.logger.Warn("skipping invalid repeat day",
				slog.String("goal_id", goal.ID.Hex()),
				slog.Int("weekday", day),
			)
			continue
		}
		for i, slot := range slots {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			tag := Tag{GoalID: goal.ID.Hex(), OwnerID: goal.UserID.Hex(), SlotIndex: i, Weekday: day}
			trigger := Trigger{
				Kind:    TriggerWeekly,
				Weekday: ToRegistrarWeekday(day),
				Hour:    slot.Hour,
				Minute:  slot.Minute,
			}
			content := Content{Title: title, Body: Body(goal, i), Data: tag.Data()}

			if _, err := s.registrar.Register(ctx, trigger, content); err != nil {
				res.Failed++
				s.logger.Warn("failed to register goal reminder",
					slog.String("goal_id", tag.GoalID),
					slog.Int("slot", i),
					slog.Int("weekday", day),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Registered++
		}
	}

	s.logger.Debug("scheduled goal reminders",
		slog.String("goal_id", goal.ID.Hex()),
		slog.Int("registered", res.Registered),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

// CancelForGoal cancels every registration tagged with goalID.
func (s *Scheduler) CancelForGoal(ctx context.Context, goalID string) (Result, error) {
	return s.cancelMatching(ctx, func(t Tag) bool { return t.GoalID == goalID })
}

// CancelForOwner cancels every goal reminder belonging to ownerID.
func (s *Scheduler) CancelForOwner(ctx context.Context, ownerID string) (Result, error) {
	return s.cancelMatching(ctx, func(t Tag) bool { return t.OwnerID == ownerID })
}

// CancelAll cancels every goal reminder regardless of goal. Registrations not
// created by this package are left alone.
func (s *Scheduler) CancelAll(ctx context.Context) (Result, error) {
	return s.cancelMatching(ctx, func(Tag) bool { return true })
}

// RescheduleGoal cancels all of the goal's registrations and then registers
// the ones implied by its current state. Running it twice with the same goal
// leaves the same registration set as running it once.
func (s *Scheduler) RescheduleGoal(ctx context.Context, goal models.Goal) (Result, error) {
	res, err := s.CancelForGoal(ctx, goal.ID.Hex())
	if err != nil {
		return res, err
	}
	scheduled, err := s.ScheduleForGoal(ctx, goal)
	res.add(scheduled)
	return res, err
}

// ResyncAll cancels every goal reminder and schedules goals in order. One
// goal failing does not stop the others.
func (s *Scheduler) ResyncAll(ctx context.Context, goals []models.Goal) (Result, error) {
	res, err := s.CancelAll(ctx)
	if err != nil {
		return res, err
	}
	return s.scheduleEach(ctx, res, goals), nil
}

// ResyncOwner is ResyncAll restricted to one owner's registrations.
func (s *Scheduler) ResyncOwner(ctx context.Context, ownerID string, goals []models.Goal) (Result, error) {
	res, err := s.CancelForOwner(ctx, ownerID)
	if err != nil {
		return res, err
	}
	return s.scheduleEach(ctx, res, goals), nil
}

// Registrations lists the pending registrations tagged with goalID.
func (s *Scheduler) Registrations(ctx context.Context, goalID string) ([]Pending, error) {
	pending, err := s.registrar.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	out := []Pending{}
	for _, p := range pending {
		if tag, ok := ParseTag(p.Content.Data); ok && tag.GoalID == goalID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Scheduler) scheduleEach(ctx context.Context, res Result, goals []models.Goal) Result {
	for _, g := range goals {
		scheduled, err := s.ScheduleForGoal(ctx, g)
		res.add(scheduled)
		if err != nil {
			s.logger.Warn("failed to schedule goal during resync",
				slog.String("goal_id", g.ID.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return res
}

func (s *Scheduler) cancelMatching(ctx context.Context, match func(Tag) bool) (Result, error) {
	var res Result
	pending, err := s.registrar.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending notifications: %w", err)
	}

	for _, p := range pending {
		tag, ok := ParseTag(p.Content.Data)
		if !ok || !match(tag) {
			continue
		}
		if err := s.registrar.Cancel(ctx, p.ID); err != nil {
			res.Failed++
			s.logger.Warn("failed to cancel goal reminder",
				slog.String("registration_id", p.ID),
				slog.String("goal_id", tag.GoalID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Cancelled++
	}
	return res, nil
}

func (s *Scheduler) granted(ctx context.Context, ownerID string) (bool, error) {
	if s.permissions == nil {
		return true, nil
	}
	granted, err := s.permissions.NotificationsGranted(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("check notification permission: %w", err)
	}
	return granted, nil
}

// Title is the notification title for a goal: the icon followed by the name.
func Title(g models.Goal) string {
	return strings.TrimSpace(g.Icon + " " + g.Name)
}

// Body is the notification body for slot i, falling back to a generic
// prompt when the goal has no message for the slot.
func Body(g models.Goal, i int) string {
	if i < len(g.ReminderMessages) && strings.TrimSpace(g.ReminderMessages[i]) != "" {
		return g.ReminderMessages[i]
	}
	return fmt.Sprintf("Time to work on \"%s\"!", g.Name)
}
