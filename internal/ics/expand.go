package ics

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"loanbook/internal/model"
)

// Occurrence is one concrete reminder window for a loan.
type Occurrence struct {
	Entry model.LoanEntry
	Start time.Time
	End   time.Time
}

// Occurrences expands the reminder for e, repeated by rule when set, and
// returns the windows overlapping [from, to]. Entries without an end date
// have no reminder.
func Occurrences(e model.LoanEntry, rule string, loc *time.Location, from, to time.Time) ([]Occurrence, error) {
	if !e.End.Valid || to.Before(from) {
		return nil, nil
	}

	start, end := Window(e.End.Time, loc)
	dur := end.Sub(start)

	if rule == "" {
		if !timeRangesOverlap(start, end, from, to) {
			return nil, nil
		}
		return []Occurrence{{Entry: e, Start: start, End: end}}, nil
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("ics: invalid rrule %q: %w", rule, err)
	}
	r.DTStart(start)

	// Widen the lower bound so windows that began before from but still
	// overlap it are included.
	times := r.Between(from.Add(-dur), to, true)

	out := make([]Occurrence, 0, len(times))
	for _, t := range times {
		occEnd := t.Add(dur)
		if !timeRangesOverlap(t, occEnd, from, to) {
			continue
		}
		out = append(out, Occurrence{Entry: e, Start: t, End: occEnd})
	}
	return out, nil
}

// DueBetween collects the reminder windows of all entries overlapping
// [from, to].
func DueBetween(entries []model.LoanEntry, rule string, loc *time.Location, from, to time.Time) ([]Occurrence, error) {
	var out []Occurrence
	for _, e := range entries {
		occ, err := Occurrences(e, rule, loc, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, occ...)
	}
	return out, nil
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
