// Package dates keeps day/month/year dropdown selections consistent with the
// Gregorian calendar.
package dates

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidMonth = errors.New("invalid month")

// Months lists the month names in dropdown order.
var Months = []time.Month{
	time.January, time.February, time.March, time.April,
	time.May, time.June, time.July, time.August,
	time.September, time.October, time.November, time.December,
}

// DaysIn returns the number of days in the given month of year.
func DaysIn(month time.Month, year int) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ValidDays returns the selectable days 1..N for month/year.
func ValidDays(month time.Month, year int) []int {
	n := DaysIn(month, year)
	days := make([]int, n)
	for i := range days {
		days[i] = i + 1
	}
	return days
}

// Reconcile keeps day when it is selectable, otherwise falls back to the
// first valid day.
func Reconcile(day int, valid []int) int {
	if len(valid) == 0 {
		return day
	}
	for _, d := range valid {
		if d == day {
			return day
		}
	}
	return valid[0]
}

// ParseMonth accepts an English month name (case-insensitive, full or
// three-letter) or a 1-based month number.
func ParseMonth(s string) (time.Month, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return 0, ErrInvalidMonth
		}
		return time.Month(n), nil
	}
	for _, m := range Months {
		name := m.String()
		if strings.EqualFold(s, name) || (len(s) == 3 && strings.EqualFold(s, name[:3])) {
			return m, nil
		}
	}
	return 0, ErrInvalidMonth
}

// YearRange is the inclusive span of years offered by the year dropdowns.
type YearRange struct {
	First int
	Last  int
}

// DefaultYears matches the range the form has always offered.
var DefaultYears = YearRange{First: 2024, Last: 2030}

func (r YearRange) Contains(year int) bool {
	return year >= r.First && year <= r.Last
}

func (r YearRange) Years() []int {
	if r.Last < r.First {
		return nil
	}
	out := make([]int, 0, r.Last-r.First+1)
	for y := r.First; y <= r.Last; y++ {
		out = append(out, y)
	}
	return out
}
