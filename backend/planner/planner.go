// Package planner resolves the concrete notification slots for a goal's
// reminder frequency.
package planner

import (
	"errors"
	"fmt"

	"github.com/jghoshh/goalnudge/backend/models"
)

// MaxFrequency is the largest number of reminder slots a goal may have per day.
const MaxFrequency = 3

// ErrInvalidFrequency is returned for a reminder frequency outside 0..MaxFrequency.
var ErrInvalidFrequency = errors.New("invalid reminder frequency")

// ErrInvalidSlot is returned for a slot whose hour or minute is out of range.
var ErrInvalidSlot = errors.New("invalid notification time")

var defaultSlots = map[int][]models.Slot{
	1: {
		{Hour: 12, Minute: 0, Label: "Midday Check-in"},
	},
	2: {
		{Hour: 10, Minute: 0, Label: "Morning Motivation"},
		{Hour: 15, Minute: 0, Label: "Afternoon Push"},
	},
	3: {
		{Hour: 9, Minute: 0, Label: "Morning Start"},
		{Hour: 12, Minute: 0, Label: "Midday Check-in"},
		{Hour: 16, Minute: 0, Label: "Afternoon Finish"},
	},
}

// ResolveSlots returns the notification slots for the given frequency.
// Custom times win when there is exactly one per slot; otherwise the default
// table for the frequency is used.
func ResolveSlots(frequency int, custom []models.Slot) ([]models.Slot, error) {
	if frequency < 0 || frequency > MaxFrequency {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrequency, frequency)
	}
	if frequency == 0 {
		return []models.Slot{}, nil
	}
	if len(custom) == frequency {
		return append([]models.Slot(nil), custom...), nil
	}
	return DefaultSlots(frequency), nil
}

// DefaultSlots returns a copy of the default schedule for frequency, or nil
// when the frequency has no default.
func DefaultSlots(frequency int) []models.Slot {
	slots, ok := defaultSlots[frequency]
	if !ok {
		return nil
	}
	return append([]models.Slot(nil), slots...)
}

// ValidateSlot checks the hour and minute bounds of a slot.
func ValidateSlot(s models.Slot) error {
	if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", ErrInvalidSlot, s.Hour, s.Minute)
	}
	return nil
}

// FormatClock renders the slot time as HH:MM.
func FormatClock(s models.Slot) string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}
