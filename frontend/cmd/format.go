package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/planner"
	"github.com/jghoshh/goalnudge/backend/scheduler"
	"github.com/jghoshh/goalnudge/lib/utils"
)

var weekdayLabels = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// formatGoal renders one line of the goal listing.
func formatGoal(n int, g models.Goal) string {
	icon := g.Icon
	if icon == "" {
		icon = g.Kind.Emoji()
	}

	progress := "[ ]"
	if g.CompletedToday {
		progress = "[x]"
	}
	if g.Kind == models.KindIncremental && g.Target != nil {
		progress += fmt.Sprintf(" %d/%d", g.DayCount, *g.Target)
	}

	times := make([]string, len(g.NotificationTimes))
	for i, slot := range g.NotificationTimes {
		times[i] = planner.FormatClock(slot)
	}
	reminders := "no reminders"
	if len(times) > 0 {
		reminders = strings.Join(times, ",")
	}

	line := fmt.Sprintf("%d. %s %s %s  days:%s  at:%s  streak:%d",
		n, icon, g.Name, progress, utils.FormatWeekdays(g.RepeatDays), reminders, g.Streak)
	if !g.Active {
		line += "  (paused)"
	}
	return line
}

// formatRegistration renders a pending reminder in local terms.
func formatRegistration(p scheduler.Pending) string {
	when := p.Trigger.String()
	if p.Trigger.Kind == scheduler.TriggerWeekly {
		day := scheduler.FromRegistrarWeekday(p.Trigger.Weekday)
		if day >= 0 && day < len(weekdayLabels) {
			when = fmt.Sprintf("%s %02d:%02d", weekdayLabels[day], p.Trigger.Hour, p.Trigger.Minute)
		}
	}
	return fmt.Sprintf("%s  %s", when, p.Content.Body)
}

func describeResult(r scheduler.Result) string {
	if r.PermissionDenied {
		return "Reminders are off for your account, nothing was scheduled."
	}
	msg := fmt.Sprintf("%d reminder(s) scheduled, %d cancelled.", r.Registered, r.Cancelled)
	if r.Failed > 0 {
		msg += fmt.Sprintf(" %d could not be scheduled.", r.Failed)
	}
	return msg
}

// resolveGoal maps a listing number or a raw goal id to a goal id.
func resolveGoal(arg string, listed []models.Goal) (string, error) {
	arg = strings.TrimSpace(arg)
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(listed) {
			return "", fmt.Errorf("no goal number %d, run 'goals' to see your goals", n)
		}
		return listed[n-1].ID.Hex(), nil
	}
	if _, err := hex.DecodeString(arg); err == nil && len(arg) == 24 {
		return arg, nil
	}
	return "", fmt.Errorf("unknown goal %q, use its number from 'goals'", arg)
}

// parseTimes parses a comma separated list of HH:MM times.
func parseTimes(s string) ([]models.Slot, error) {
	var slots []models.Slot
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		h, m, err := utils.ParseClock(part)
		if err != nil {
			return nil, err
		}
		slots = append(slots, models.Slot{Hour: h, Minute: m, Label: fmt.Sprintf("Reminder %d", len(slots)+1)})
	}
	if len(slots) > planner.MaxFrequency {
		return nil, fmt.Errorf("at most %d reminder times", planner.MaxFrequency)
	}
	return slots, nil
}
