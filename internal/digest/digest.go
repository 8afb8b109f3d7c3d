// Package digest emails a daily summary of loans whose reminder falls today.
package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"loanbook/internal/ics"
	appLog "loanbook/internal/log"
	"loanbook/internal/model"
	"loanbook/internal/notify"
)

type (
	Loader interface {
		LoadOrEmpty() ([]model.LoanEntry, error)
	}
	Sender interface {
		Send(ctx context.Context, msg notify.Message) error
	}
)

// Job finds today's reminders and sends one summary email.
type Job struct {
	Loans    Loader
	Sender   Sender
	RRule    string
	Location *time.Location
	Now      func() time.Time
}

// Run sends the digest for the day containing now. It returns how many
// loans were listed; zero means no email was sent.
func (j *Job) Run(ctx context.Context) (int, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	loc := j.Location
	if loc == nil {
		loc = time.Local
	}

	today := now().In(loc)
	from := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1).Add(-time.Nanosecond)

	entries, err := j.Loans.LoadOrEmpty()
	if err != nil {
		return 0, fmt.Errorf("digest: load: %w", err)
	}

	occ, err := ics.DueBetween(entries, j.RRule, j.Location, from, to)
	if err != nil {
		return 0, fmt.Errorf("digest: expand: %w", err)
	}
	if len(occ) == 0 {
		appLog.Debug("digest: nothing due", "day", from.Format(model.DateLayout))
		return 0, nil
	}

	due := make([]model.LoanEntry, 0, len(occ))
	for _, o := range occ {
		due = append(due, o.Entry)
	}

	if err := j.Sender.Send(ctx, notify.DigestMessage(due)); err != nil {
		return 0, fmt.Errorf("digest: send: %w", err)
	}
	appLog.Info("digest sent", "day", from.Format(model.DateLayout), "loans", len(due))
	return len(due), nil
}

// Schedule starts a cron scheduler running job on expr. The returned
// scheduler must be stopped by the caller.
func Schedule(ctx context.Context, expr string, job *Job) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		if _, err := job.Run(ctx); err != nil {
			appLog.Error("digest run failed", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("digest: invalid schedule %q: %w", expr, err)
	}
	c.Start()
	appLog.Info("digest scheduled", "cron", expr)
	return c, nil
}
