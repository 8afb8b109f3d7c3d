package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// Reminder is a reminder event read back from a calendar file.
type Reminder struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	RRule       string
	Trigger     string
}

// ParseReminder reads the first VEVENT of a reminder file.
func ParseReminder(body []byte) (Reminder, error) {
	if len(body) == 0 {
		return Reminder{}, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return Reminder{}, err
	}

	events := cal.Events()
	if len(events) == 0 {
		return Reminder{}, errors.New("ics: no event in calendar")
	}
	return parseVEvent(events[0])
}

func parseVEvent(ve *ical.VEvent) (Reminder, error) {
	var out Reminder

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}

	start, err := propertyTime(ve.GetProperty(ical.ComponentPropertyDtStart))
	if err != nil {
		return out, err
	}
	end, err := propertyTime(ve.GetProperty(ical.ComponentPropertyDtEnd))
	if err != nil {
		return out, err
	}
	out.Start = start
	out.End = end

	for _, a := range ve.Alarms() {
		if p := a.GetProperty(ical.ComponentPropertyTrigger); p != nil {
			out.Trigger = p.Value
			break
		}
	}

	return out, nil
}

// propertyTime honors a TZID parameter and falls back to parseICSTime.
func propertyTime(p *ical.IANAProperty) (time.Time, error) {
	if p == nil {
		return time.Time{}, errors.New("missing DTSTART/DTEND")
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		loc, err := time.LoadLocation(tzs[0])
		if err != nil {
			return time.Time{}, err
		}
		return time.ParseInLocation(localLayout, strings.TrimSpace(p.Value), loc)
	}
	return parseICSTime(p.Value)
}

// parseICSTime parses a basic ICS date/date-time string. Floating times are
// read in time.Local.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation(localLayout, v, time.Local)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, time.Local)
}
