package ics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "loanbook/internal/log"
	"loanbook/internal/model"
)

// The reminder window on the loan's end date.
const (
	WindowStartHour = 7
	WindowEndHour   = 9
)

const (
	productID   = "-//loanbook//loan reminder//EN"
	localLayout = "20060102T150405"
)

// Options control how a reminder event is built.
type Options struct {
	// Location anchors the window to a named zone (TZID). Nil means floating
	// local time.
	Location *time.Location

	// RRule optionally repeats the reminder, e.g. "FREQ=DAILY;COUNT=3".
	RRule string

	// AlarmMinutes fires the display alarm this long before the window.
	AlarmMinutes int

	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// Window returns the reminder window for an end date.
func Window(end time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := end.Date()
	start := time.Date(y, m, d, WindowStartHour, 0, 0, 0, loc)
	return start, time.Date(y, m, d, WindowEndHour, 0, 0, 0, loc)
}

// Summary is the event title for an entry.
func Summary(e model.LoanEntry) string {
	return fmt.Sprintf("Loan: %s, from %s (%s) ends today.", e.Item, e.Name, e.Company)
}

// Description is the event body for an entry.
func Description(e model.LoanEntry) string {
	return "Loan Period: " + e.Period()
}

// Build creates a calendar holding a single reminder event for the entry.
func Build(e model.LoanEntry, opts Options) (*ical.Calendar, error) {
	if !e.End.Valid {
		return nil, errors.New("ics: entry has no end date")
	}
	if opts.RRule != "" {
		if _, err := rrule.StrToRRule(opts.RRule); err != nil {
			return nil, fmt.Errorf("ics: invalid rrule %q: %w", opts.RRule, err)
		}
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	ev := cal.AddEvent(uuid.NewString())
	ev.SetDtStampTime(now)
	ev.SetSummary(Summary(e))
	ev.SetDescription(Description(e))

	start, end := Window(e.End.Time, opts.Location)
	setLocalTime(ev, ical.ComponentPropertyDtStart, start, opts.Location)
	setLocalTime(ev, ical.ComponentPropertyDtEnd, end, opts.Location)

	if opts.RRule != "" {
		ev.AddRrule(opts.RRule)
	}

	alarm := ev.AddAlarm()
	alarm.SetAction(ical.ActionDisplay)
	alarm.SetTrigger(trigger(opts.AlarmMinutes))
	alarm.SetProperty(ical.ComponentPropertyDescription, Summary(e))

	return cal, nil
}

// setLocalTime writes a wall-clock time either with a TZID parameter or as a
// floating time. The library setters always convert to UTC, which would move
// the 07:00 window for anyone not in UTC.
func setLocalTime(ev *ical.VEvent, prop ical.ComponentProperty, t time.Time, loc *time.Location) {
	if loc != nil {
		ev.SetProperty(prop, t.Format(localLayout), ical.WithTZID(loc.String()))
		return
	}
	ev.SetProperty(prop, t.Format(localLayout))
}

func trigger(minutes int) string {
	if minutes <= 0 {
		return "PT0M"
	}
	return "-PT" + strconv.Itoa(minutes) + "M"
}

// Writer writes the reminder for each submission to a fixed path.
type Writer struct {
	Path string
	Opts Options
}

// Write builds the reminder for e and overwrites Path with it.
func (w *Writer) Write(e model.LoanEntry) (string, error) {
	cal, err := Build(e, w.Opts)
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(w.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("ics: create %s: %w", dir, err)
		}
	}
	if err := writeFileAtomic(w.Path, []byte(cal.Serialize())); err != nil {
		return "", fmt.Errorf("ics: write %s: %w", w.Path, err)
	}

	appLog.Info("reminder written", "path", w.Path, "end", e.End.String(), "rrule", w.Opts.RRule)
	return w.Path, nil
}

// writeFileAtomic replaces path via a temp file in the same directory so
// readers never see a partial calendar.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".reminder-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
