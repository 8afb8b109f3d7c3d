package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the textual date format used in the record table, the
// receipt and the reminder description.
const DateLayout = "02/01/2006"

// CompanySentinel is stored when the company field is left blank.
const CompanySentinel = "NONE"

// DateTriple is a day/month/year selection bound to one row of date
// dropdowns in the form.
type DateTriple struct {
	Day   int
	Month time.Month
	Year  int
}

// String formats the triple as DD/MM/YYYY.
func (d DateTriple) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, int(d.Month), d.Year)
}

// Time returns midnight of the triple in the local timezone.
func (d DateTriple) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.Local)
}

// NullDate is a calendar date that may be absent. Rows in the record table
// whose date cell cannot be parsed are kept with Valid=false instead of
// being rejected. Raw holds the cell as read so a rewrite never changes it.
type NullDate struct {
	Time  time.Time
	Valid bool
	Raw   string
}

// cellLayouts are tried in order when reading a table cell. Day and month
// may be one or two digits; ISO dates come from older tables.
var cellLayouts = []string{"2/1/2006", "2006-01-02"}

// DateOf returns a valid NullDate for the given triple.
func DateOf(d DateTriple) NullDate {
	return NullDate{Time: d.Time(), Valid: true}
}

// ParseDate parses a table cell as D/M/YYYY or YYYY-MM-DD. Anything else
// yields an invalid date that still carries the cell text.
func ParseDate(s string) NullDate {
	v := strings.TrimSpace(s)
	for _, layout := range cellLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return NullDate{Time: t, Valid: true, Raw: s}
		}
	}
	return NullDate{Raw: s}
}

// String formats the date as DD/MM/YYYY, or returns the raw text when
// invalid.
func (n NullDate) String() string {
	if !n.Valid {
		return n.Raw
	}
	return n.Time.Format(DateLayout)
}

// Cell is the text written to the record table: the cell as it was read,
// or DD/MM/YYYY for dates that came from the form.
func (n NullDate) Cell() string {
	if n.Raw != "" {
		return n.Raw
	}
	return n.String()
}

// Before orders valid dates chronologically and invalid dates after all
// valid ones.
func (n NullDate) Before(o NullDate) bool {
	switch {
	case n.Valid && o.Valid:
		return n.Time.Before(o.Time)
	case n.Valid:
		return true
	default:
		return false
	}
}

// LoanEntry is one row of the record table.
type LoanEntry struct {
	Start   NullDate
	End     NullDate
	Name    string
	Company string
	Item    string
}

// Period renders "start - end" as shown on the receipt.
func (e LoanEntry) Period() string {
	return e.Start.String() + " - " + e.End.String()
}

// FormState is the transient state behind the form. It is owned by the
// form controller and never persisted.
type FormState struct {
	Start   DateTriple
	End     DateTriple
	Name    string
	Company string
	Item    string

	// Linked mirrors every start-date change onto the end date.
	Linked bool
}
