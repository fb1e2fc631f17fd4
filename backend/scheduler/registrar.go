package scheduler

import (
	"context"
	"fmt"
	"strconv"
)

// TriggerKind is the firing rule of a registration.
type TriggerKind string

const (
	TriggerWeekly    TriggerKind = "weekly"
	TriggerOneShot   TriggerKind = "one_shot"
	TriggerImmediate TriggerKind = "immediate"
)

// Trigger describes when a registration fires. Weekday uses the registrar
// encoding (1 = Sunday ... 7 = Saturday) and only applies to weekly triggers.
type Trigger struct {
	Kind         TriggerKind `json:"kind"`
	Weekday      int         `json:"weekday,omitempty"`
	Hour         int         `json:"hour,omitempty"`
	Minute       int         `json:"minute,omitempty"`
	DelaySeconds int         `json:"delay_seconds,omitempty"`
}

// Content is what the user sees plus the opaque data payload.
type Content struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Pending is a registration currently held by a Registrar.
type Pending struct {
	ID      string  `json:"id"`
	Trigger Trigger `json:"trigger"`
	Content Content `json:"content"`
}

// Registrar is the notification capability: it holds registrations and fires
// them. It is shared with registrations this package did not create.
type Registrar interface {
	Register(ctx context.Context, trigger Trigger, content Content) (string, error)
	ListPending(ctx context.Context) ([]Pending, error)
	Cancel(ctx context.Context, id string) error
	CancelAll(ctx context.Context) error
}

// Permissions reports whether notifications may be registered for an owner.
type Permissions interface {
	NotificationsGranted(ctx context.Context, ownerID string) (bool, error)
}

// ToRegistrarWeekday converts 0 = Sunday .. 6 = Saturday into the registrar
// encoding 1 = Sunday .. 7 = Saturday.
func ToRegistrarWeekday(day int) int {
	return day + 1
}

// FromRegistrarWeekday is the inverse of ToRegistrarWeekday.
func FromRegistrarWeekday(day int) int {
	return day - 1
}

// TagType marks every registration created by the goal scheduler.
const TagType = "goal_reminder"

// Tag identifies which goal, slot and weekday a registration belongs to.
// Weekday is 0 = Sunday.
type Tag struct {
	GoalID    string
	OwnerID   string
	SlotIndex int
	Weekday   int
}

// Data encodes the tag as a content payload.
func (t Tag) Data() map[string]interface{} {
	return map[string]interface{}{
		"type":      TagType,
		"goalId":    t.GoalID,
		"ownerId":   t.OwnerID,
		"slotIndex": t.SlotIndex,
		"weekday":   t.Weekday,
	}
}

// ParseTag decodes a content payload. ok is false for registrations that
// were not created by the goal scheduler.
func ParseTag(data map[string]interface{}) (Tag, bool) {
	if data == nil {
		return Tag{}, false
	}
	if typ, _ := data["type"].(string); typ != TagType {
		return Tag{}, false
	}
	goalID, _ := data["goalId"].(string)
	if goalID == "" {
		return Tag{}, false
	}
	ownerID, _ := data["ownerId"].(string)
	return Tag{
		GoalID:    goalID,
		OwnerID:   ownerID,
		SlotIndex: toInt(data["slotIndex"]),
		Weekday:   toInt(data["weekday"]),
	}, true
}

// toInt accepts the numeric shapes a payload takes after a JSON round trip.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerWeekly:
		return fmt.Sprintf("weekly(%d %02d:%02d)", t.Weekday, t.Hour, t.Minute)
	case TriggerOneShot:
		return fmt.Sprintf("one_shot(%ds)", t.DelaySeconds)
	default:
		return string(t.Kind)
	}
}
