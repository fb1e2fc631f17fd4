package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GoalKind distinguishes binary daily goals from counter goals.
type GoalKind string

const (
	// KindTask is a goal that is either done or not done on a given day.
	KindTask GoalKind = "task"
	// KindIncremental is a goal with a numeric daily counter measured against a target.
	KindIncremental GoalKind = "incremental"
)

// Valid reports whether k is one of the known goal kinds.
func (k GoalKind) Valid() bool {
	return k == KindTask || k == KindIncremental
}

// Emoji is the glyph used in generated reminder text for the kind.
func (k GoalKind) Emoji() string {
	if k == KindIncremental {
		return "📊"
	}
	return "✅"
}

// Slot is one notification time within a goal's daily reminder schedule.
type Slot struct {
	Hour   int    `bson:"hour" json:"hour"`
	Minute int    `bson:"minute" json:"minute"`
	Label  string `bson:"label" json:"label"`
}

// User is a registered account together with its notification preference
// and the weekly counters that roll over every Sunday.
type User struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username             string             `bson:"username" json:"username"`
	Email                string             `bson:"email" json:"email"`
	PasswordHash         string             `bson:"password_hash" json:"-"`
	NotificationsEnabled bool               `bson:"notifications_enabled" json:"notifications_enabled"`
	WeeklyCompletions    int                `bson:"weekly_completions" json:"weekly_completions"`
	WeekStart            string             `bson:"week_start" json:"week_start"`
	CreatedAt            time.Time          `bson:"created_at" json:"created_at"`
}

// Goal is a user's recurring daily objective.
type Goal struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID            primitive.ObjectID `bson:"user_id" json:"user_id"`
	Name              string             `bson:"name" json:"name"`
	Kind              GoalKind           `bson:"kind" json:"kind"`
	Target            *int               `bson:"target,omitempty" json:"target,omitempty"`
	Active            bool               `bson:"active" json:"active"`
	Icon              string             `bson:"icon,omitempty" json:"icon,omitempty"`
	RepeatDays        []int              `bson:"repeat_days" json:"repeat_days"`
	ReminderFrequency int                `bson:"reminder_frequency" json:"reminder_frequency"`
	NotificationTimes []Slot             `bson:"notification_times" json:"notification_times"`
	ReminderMessages  []string           `bson:"reminder_messages" json:"reminder_messages"`
	DayCount          int                `bson:"day_count" json:"day_count"`
	CompletedToday    bool               `bson:"completed_today" json:"completed_today"`
	LastCompletedAt   *time.Time         `bson:"last_completed_at,omitempty" json:"last_completed_at,omitempty"`
	LastResetDate     string             `bson:"last_reset_date" json:"last_reset_date"`
	Streak            int                `bson:"streak" json:"streak"`
	TotalCompletions  int                `bson:"total_completions" json:"total_completions"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy of the goal so callers can mutate slices freely.
func (g Goal) Clone() Goal {
	c := g
	if g.Target != nil {
		t := *g.Target
		c.Target = &t
	}
	if g.LastCompletedAt != nil {
		t := *g.LastCompletedAt
		c.LastCompletedAt = &t
	}
	c.RepeatDays = append([]int(nil), g.RepeatDays...)
	c.NotificationTimes = append([]Slot(nil), g.NotificationTimes...)
	c.ReminderMessages = append([]string(nil), g.ReminderMessages...)
	return c
}

// LogAction names the progress action recorded in a GoalLog.
type LogAction string

const (
	LogCompleted   LogAction = "completed"
	LogUncompleted LogAction = "uncompleted"
	LogIncrement   LogAction = "increment"
	LogDecrement   LogAction = "decrement"
)

// GoalLog is one progress event on a goal.
type GoalLog struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GoalID   primitive.ObjectID `bson:"goal_id" json:"goal_id"`
	UserID   primitive.ObjectID `bson:"user_id" json:"user_id"`
	Action   LogAction          `bson:"action" json:"action"`
	Amount   int                `bson:"amount" json:"amount"`
	DayCount int                `bson:"day_count" json:"day_count"`
	At       time.Time          `bson:"at" json:"at"`
}

type RefreshToken struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID primitive.ObjectID `bson:"user_id" json:"user_id"`
	Token  string             `bson:"token" json:"token"`
	Expiry time.Time          `bson:"expiry" json:"expiry"`
}
