package utils

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`^(?i)[a-z0-9._%+\-]+@(?:[a-z0-9\-]+\.)+[a-z]{2,}$`)
	letterPattern = regexp.MustCompile(`[a-zA-Z]`)
	digitPattern  = regexp.MustCompile(`[0-9]`)
)

// ValidateEmail reports whether email looks like a deliverable address.
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePassword requires at least 8 characters with both letters and digits.
func ValidatePassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	return letterPattern.MatchString(password) && digitPattern.MatchString(password)
}

// ValidateUsername requires at least 2 visible characters.
func ValidateUsername(username string) bool {
	return len(strings.TrimSpace(username)) >= 2
}

var weekdayNames = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// ParseWeekdays turns a comma separated list such as "mon,wed,fri" or
// "1,3,5" into sorted weekday indices, 0 = Sunday. "daily" selects every day
// and "weekdays" Monday to Friday.
func ParseWeekdays(s string) ([]int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "everyday":
		return []int{0, 1, 2, 3, 4, 5, 6}, nil
	case "weekdays":
		return []int{1, 2, 3, 4, 5}, nil
	case "weekends":
		return []int{0, 6}, nil
	}

	seen := map[int]bool{}
	days := []int{}
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		day := -1
		if n, err := strconv.Atoi(part); err == nil {
			day = n
		} else {
			for i, name := range weekdayNames {
				if strings.HasPrefix(part, name) {
					day = i
					break
				}
			}
		}
		if day < 0 || day > 6 {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no weekdays given")
	}
	sort.Ints(days)
	return days, nil
}

// FormatWeekdays is the inverse of ParseWeekdays for display.
func FormatWeekdays(days []int) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(weekdayNames) {
			names = append(names, weekdayNames[d])
		}
	}
	return strings.Join(names, ",")
}

// ParseClock parses "HH:MM" in 24 hour time.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour in %q must be 0-23", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute in %q must be 0-59", s)
	}
	return hour, minute, nil
}

// PrintError writes message inside a banner.
func PrintError(w io.Writer, message string) {
	message = "ERROR: " + message
	bannerChar := "="
	bannerLine := strings.Repeat(bannerChar, len(message)+4)

	fmt.Fprintln(w, bannerLine)
	fmt.Fprintf(w, "%s %s %s\n", bannerChar, message, bannerChar)
	fmt.Fprintln(w, bannerLine)
	fmt.Fprintln(w)
}
