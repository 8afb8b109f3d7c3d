package form

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanbook/internal/dates"
	"loanbook/internal/model"
)

func TestNewControllerDefaults(t *testing.T) {
	c := NewController(dates.DefaultYears)
	s := c.State()

	want := model.DateTriple{Day: 1, Month: time.January, Year: 2024}
	assert.Equal(t, want, s.Start)
	assert.Equal(t, want, s.End)
	assert.True(t, s.Linked)
	assert.Empty(t, s.Name)
	assert.Len(t, c.StartDays(), 31)
}

func TestStartChangeOverwritesEnd(t *testing.T) {
	c := NewController(dates.DefaultYears)

	require.NoError(t, c.SetEndDay(20))
	require.NoError(t, c.SetEndMonth(time.June))
	require.NoError(t, c.SetStartDay(5))

	s := c.State()
	assert.Equal(t, s.Start, s.End)
	assert.Equal(t, model.DateTriple{Day: 5, Month: time.January, Year: 2024}, s.End)
}

func TestEveryStartSetterSyncs(t *testing.T) {
	steps := []struct {
		name  string
		apply func(c *Controller) error
	}{
		{"day", func(c *Controller) error { return c.SetStartDay(17) }},
		{"month", func(c *Controller) error { return c.SetStartMonth(time.August) }},
		{"year", func(c *Controller) error { return c.SetStartYear(2027) }},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			c := NewController(dates.DefaultYears)
			require.NoError(t, c.SetEndYear(2030))
			require.NoError(t, st.apply(c))
			s := c.State()
			assert.Equal(t, s.Start, s.End)
		})
	}
}

func TestEndEditsDoNotPropagateBack(t *testing.T) {
	c := NewController(dates.DefaultYears)
	require.NoError(t, c.SetStartDay(1))
	require.NoError(t, c.SetStartMonth(time.March))
	require.NoError(t, c.SetStartYear(2025))

	require.NoError(t, c.SetEndDay(5))

	s := c.State()
	assert.Equal(t, "01/03/2025", s.Start.String())
	assert.Equal(t, "05/03/2025", s.End.String())
}

func TestMonthChangeReconcilesDay(t *testing.T) {
	c := NewController(dates.DefaultYears)
	require.NoError(t, c.SetStartYear(2025))
	require.NoError(t, c.SetStartDay(30))
	require.NoError(t, c.SetStartMonth(time.February))

	s := c.State()
	assert.Equal(t, 1, s.Start.Day)
	assert.Equal(t, 1, s.End.Day)
	assert.Len(t, c.StartDays(), 28)
}

func TestLeapYearChangeReconcilesEndOnly(t *testing.T) {
	c := NewController(dates.DefaultYears)
	require.NoError(t, c.SetStartMonth(time.February))
	require.NoError(t, c.SetStartDay(29)) // 2024 is a leap year

	require.NoError(t, c.SetEndYear(2025))

	s := c.State()
	assert.Equal(t, 29, s.Start.Day)
	assert.Equal(t, 2024, s.Start.Year)
	assert.Equal(t, 1, s.End.Day)
	assert.Equal(t, 2025, s.End.Year)
}

func TestDayBeyondMonthIsReconciled(t *testing.T) {
	c := NewController(dates.DefaultYears)
	require.NoError(t, c.SetStartMonth(time.April))
	require.NoError(t, c.SetStartDay(31))

	assert.Equal(t, 1, c.State().Start.Day)
}

func TestUnlinkedKeepsEnd(t *testing.T) {
	c := NewController(dates.DefaultYears)
	c.SetLinked(false)
	require.NoError(t, c.SetEndDay(9))
	require.NoError(t, c.SetStartDay(3))

	s := c.State()
	assert.Equal(t, 3, s.Start.Day)
	assert.Equal(t, 9, s.End.Day)
}

func TestInvalidInputs(t *testing.T) {
	c := NewController(dates.DefaultYears)

	assert.ErrorIs(t, c.SetStartYear(2023), ErrInvalidYear)
	assert.ErrorIs(t, c.SetEndYear(2031), ErrInvalidYear)
	assert.ErrorIs(t, c.SetStartDay(0), ErrInvalidDay)
	assert.ErrorIs(t, c.SetEndDay(32), ErrInvalidDay)
	assert.ErrorIs(t, c.SetStartMonth(13), dates.ErrInvalidMonth)

	assert.Equal(t, NewController(dates.DefaultYears).State(), c.State())
}

func TestStateIsACopy(t *testing.T) {
	c := NewController(dates.DefaultYears)
	s := c.State()
	s.Name = "mutated"
	s.Start.Day = 12

	assert.Empty(t, c.State().Name)
	assert.Equal(t, 1, c.State().Start.Day)
}

func TestTextFields(t *testing.T) {
	c := NewController(dates.DefaultYears)
	c.SetName("Alex")
	c.SetCompany("Acme")
	c.SetItem("Projector")

	s := c.State()
	assert.Equal(t, "Alex", s.Name)
	assert.Equal(t, "Acme", s.Company)
	assert.Equal(t, "Projector", s.Item)
}
