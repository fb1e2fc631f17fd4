package goals

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/planner"
)

// GoalInput is what a caller supplies to create a goal.
type GoalInput struct {
	Name              string          `json:"name"`
	Kind              models.GoalKind `json:"kind"`
	Target            *int            `json:"target,omitempty"`
	Icon              string          `json:"icon,omitempty"`
	RepeatDays        []int           `json:"repeat_days"`
	ReminderFrequency *int            `json:"reminder_frequency,omitempty"`
	NotificationTimes []models.Slot   `json:"notification_times,omitempty"`
}

// GoalPatch enumerates the fields an edit may change. Nil fields are left
// untouched.
type GoalPatch struct {
	Name              *string          `json:"name,omitempty"`
	Kind              *models.GoalKind `json:"kind,omitempty"`
	Target            *int             `json:"target,omitempty"`
	RepeatDays        *[]int           `json:"repeat_days,omitempty"`
	ReminderFrequency *int             `json:"reminder_frequency,omitempty"`
	NotificationTimes *[]models.Slot   `json:"notification_times,omitempty"`
	Active            *bool            `json:"active,omitempty"`
	Icon              *string          `json:"icon,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p GoalPatch) Empty() bool {
	return p.Name == nil && p.Kind == nil && p.Target == nil && p.RepeatDays == nil &&
		p.ReminderFrequency == nil && p.NotificationTimes == nil && p.Active == nil && p.Icon == nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidGoal, fmt.Sprintf(format, args...))
}

// normalizeDays validates weekday indices and returns them unique and sorted.
func normalizeDays(days []int) ([]int, error) {
	if len(days) == 0 {
		return nil, invalid("at least one repeat day is required")
	}
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, invalid("repeat day %d out of range 0-6", d)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out, nil
}

func validateKind(kind models.GoalKind, target *int) error {
	if !kind.Valid() {
		return invalid("unknown goal kind %q", kind)
	}
	switch kind {
	case models.KindIncremental:
		if target == nil || *target <= 0 {
			return invalid("incremental goals need a positive target")
		}
	case models.KindTask:
		if target != nil {
			return invalid("task goals do not take a target")
		}
	}
	return nil
}

func validateFrequency(frequency int) error {
	if frequency < 0 || frequency > planner.MaxFrequency {
		return fmt.Errorf("%w: %w", ErrInvalidGoal, planner.ErrInvalidFrequency)
	}
	return nil
}

func validateSlots(slots []models.Slot) error {
	for _, s := range slots {
		if err := planner.ValidateSlot(s); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidGoal, err)
		}
	}
	return nil
}

// validateGoal checks the stored invariants of a goal after an edit.
func validateGoal(g models.Goal) error {
	if strings.TrimSpace(g.Name) == "" {
		return invalid("name is required")
	}
	if err := validateKind(g.Kind, g.Target); err != nil {
		return err
	}
	if _, err := normalizeDays(g.RepeatDays); err != nil {
		return err
	}
	if err := validateFrequency(g.ReminderFrequency); err != nil {
		return err
	}
	if len(g.NotificationTimes) != g.ReminderFrequency {
		return invalid("%d notification times for frequency %d", len(g.NotificationTimes), g.ReminderFrequency)
	}
	return validateSlots(g.NotificationTimes)
}

// resolveFrequency decides the frequency of a new goal. Omitting both the
// frequency and the times means one reminder a day. Times alone imply their
// own count.
func (in GoalInput) resolveFrequency() (int, error) {
	if in.ReminderFrequency == nil {
		if len(in.NotificationTimes) > 0 {
			return len(in.NotificationTimes), validateFrequency(len(in.NotificationTimes))
		}
		return 1, nil
	}
	f := *in.ReminderFrequency
	if err := validateFrequency(f); err != nil {
		return 0, err
	}
	if len(in.NotificationTimes) > 0 && len(in.NotificationTimes) != f {
		return 0, invalid("%d notification times for frequency %d", len(in.NotificationTimes), f)
	}
	return f, nil
}
