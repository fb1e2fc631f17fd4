package goals

import (
	"time"

	"github.com/jghoshh/goalnudge/backend/models"
)

// DateLayout is the layout of stored calendar days.
const DateLayout = "2006-01-02"

// Day formats t as a calendar day in loc.
func Day(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// RolloverIfNeeded resets the daily counters of an active goal whose last
// reset happened on a different day than today. The returned goal is a copy;
// the bool reports whether anything changed.
func RolloverIfNeeded(goal models.Goal, today string) (models.Goal, bool) {
	if !goal.Active || goal.LastResetDate == today {
		return goal, false
	}
	g := goal.Clone()
	g.DayCount = 0
	g.CompletedToday = false
	g.LastResetDate = today
	return g, true
}

// PreviousDueDay returns the latest day before today whose weekday is in
// days (0 = Sunday), or the day before today when days is empty. It returns
// "" when today is not a valid calendar day.
func PreviousDueDay(today string, days []int) string {
	d, err := time.Parse(DateLayout, today)
	if err != nil {
		return ""
	}
	for i := 1; i <= 7; i++ {
		prev := d.AddDate(0, 0, -i)
		if len(days) == 0 || containsDay(days, int(prev.Weekday())) {
			return prev.Format(DateLayout)
		}
	}
	return d.AddDate(0, 0, -1).Format(DateLayout)
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// WeekStart returns the Sunday that starts the week containing day, or ""
// when day is not a valid calendar day.
func WeekStart(day string) string {
	d, err := time.Parse(DateLayout, day)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, -int(d.Weekday())).Format(DateLayout)
}

// RolloverWeekIfNeeded zeroes the user's weekly counter when today falls in
// a later week than the stored one.
func RolloverWeekIfNeeded(user models.User, today string) (models.User, bool) {
	start := WeekStart(today)
	if start == "" || user.WeekStart == start {
		return user, false
	}
	user.WeeklyCompletions = 0
	user.WeekStart = start
	return user, true
}
