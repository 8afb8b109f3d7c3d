// Package form holds the state behind the loan form and keeps its date
// dropdowns consistent while the user edits them.
package form

import (
	"errors"
	"time"

	"loanbook/internal/dates"
	"loanbook/internal/model"
)

var (
	ErrInvalidYear = errors.New("year outside supported range")
	ErrInvalidDay  = errors.New("day must be between 1 and 31")
)

// Controller owns a single FormState. It is not safe for concurrent use;
// callers serialize access.
type Controller struct {
	years dates.YearRange
	state model.FormState
}

// NewController returns a controller with both dates set to 1 January of the
// first supported year and start/end linked.
func NewController(years dates.YearRange) *Controller {
	initial := model.DateTriple{Day: 1, Month: dates.Months[0], Year: years.First}
	return &Controller{
		years: years,
		state: model.FormState{
			Start:  initial,
			End:    initial,
			Linked: true,
		},
	}
}

// State returns a copy of the current form state.
func (c *Controller) State() model.FormState {
	return c.state
}

// Years returns the supported year range.
func (c *Controller) Years() dates.YearRange {
	return c.years
}

// StartDays lists the days selectable for the current start month/year.
func (c *Controller) StartDays() []int {
	return dates.ValidDays(c.state.Start.Month, c.state.Start.Year)
}

// EndDays lists the days selectable for the current end month/year.
func (c *Controller) EndDays() []int {
	return dates.ValidDays(c.state.End.Month, c.state.End.Year)
}

func (c *Controller) SetStartMonth(m time.Month) error {
	if m < time.January || m > time.December {
		return dates.ErrInvalidMonth
	}
	c.state.Start.Month = m
	c.startChanged()
	return nil
}

func (c *Controller) SetStartYear(y int) error {
	if !c.years.Contains(y) {
		return ErrInvalidYear
	}
	c.state.Start.Year = y
	c.startChanged()
	return nil
}

func (c *Controller) SetStartDay(d int) error {
	if d < 1 || d > 31 {
		return ErrInvalidDay
	}
	c.state.Start.Day = d
	c.startChanged()
	return nil
}

func (c *Controller) SetEndMonth(m time.Month) error {
	if m < time.January || m > time.December {
		return dates.ErrInvalidMonth
	}
	c.state.End.Month = m
	c.state.End = reconcile(c.state.End)
	return nil
}

func (c *Controller) SetEndYear(y int) error {
	if !c.years.Contains(y) {
		return ErrInvalidYear
	}
	c.state.End.Year = y
	c.state.End = reconcile(c.state.End)
	return nil
}

func (c *Controller) SetEndDay(d int) error {
	if d < 1 || d > 31 {
		return ErrInvalidDay
	}
	c.state.End.Day = d
	c.state.End = reconcile(c.state.End)
	return nil
}

func (c *Controller) SetName(s string)    { c.state.Name = s }
func (c *Controller) SetCompany(s string) { c.state.Company = s }
func (c *Controller) SetItem(s string)    { c.state.Item = s }

// SetLinked toggles mirroring of start-date edits onto the end date.
// Re-linking does not copy immediately; the next start edit does.
func (c *Controller) SetLinked(linked bool) {
	c.state.Linked = linked
}

// startChanged reconciles the start triple and, while linked, overwrites the
// end triple with it. Any end-date edit made earlier is lost.
func (c *Controller) startChanged() {
	c.state.Start = reconcile(c.state.Start)
	if c.state.Linked {
		c.state.End = c.state.Start
	}
}

func reconcile(d model.DateTriple) model.DateTriple {
	d.Day = dates.Reconcile(d.Day, dates.ValidDays(d.Month, d.Year))
	return d
}
