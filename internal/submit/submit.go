// Package submit turns a filled-in form into a recorded loan: table row,
// receipt, reminder file and reminder email, in that order.
package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appLog "loanbook/internal/log"
	"loanbook/internal/model"
	"loanbook/internal/notify"
)

// Sentinel errors.
var (
	ErrValidation = errors.New("validation error")
	ErrDeclined   = errors.New("submission declined")
)

// ValidationError reports a required field left empty.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// MissingField builds the error for an empty required field.
func MissingField(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "field is required"}
}

// Step names a pipeline stage after validation.
type Step string

const (
	StepRecord   Step = "record"
	StepReceipt  Step = "receipt"
	StepReminder Step = "reminder"
	StepNotify   Step = "notify"
)

// StepError is a failure in one pipeline stage. Stages before it have
// already taken effect.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Collaborators.
type (
	Recorder interface {
		Append(entry model.LoanEntry) error
	}
	ReceiptWriter interface {
		Write(ctx context.Context, entry model.LoanEntry) (string, error)
	}
	ReminderWriter interface {
		Write(entry model.LoanEntry) (string, error)
	}
	Notifier interface {
		Send(ctx context.Context, msg notify.Message) error
	}
	// Confirmer asks the user a yes/no question.
	Confirmer interface {
		Confirm(prompt string) bool
	}
)

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// SameDatesPrompt is asked when start and end date are identical.
const SameDatesPrompt = "The Start and End date are the same. Do you want to continue?"

// Result describes what a submission produced.
type Result struct {
	Entry        model.LoanEntry
	ReceiptPath  string
	ReminderPath string
	Notified     bool
}

// Orchestrator runs the submission pipeline.
type Orchestrator struct {
	Records   Recorder
	Receipts  ReceiptWriter
	Reminders ReminderWriter
	Notifier  Notifier
}

// Submit validates state, asks for confirmation when the dates are equal,
// and then runs record, receipt, reminder and notify, stopping at the first
// failing step. A notify failure still returns the Result: the loan is on
// record even though the email did not go out.
func (o *Orchestrator) Submit(ctx context.Context, state model.FormState, confirm Confirmer) (Result, error) {
	entry, err := Prepare(state, confirm)
	if err != nil {
		return Result{}, err
	}

	res := Result{Entry: entry}

	if err := o.Records.Append(entry); err != nil {
		return res, fail(StepRecord, err)
	}

	res.ReceiptPath, err = o.Receipts.Write(ctx, entry)
	if err != nil {
		return res, fail(StepReceipt, err)
	}

	res.ReminderPath, err = o.Reminders.Write(entry)
	if err != nil {
		return res, fail(StepReminder, err)
	}

	if err := o.Notifier.Send(ctx, notify.LoanMessage(entry, res.ReminderPath)); err != nil {
		return res, fail(StepNotify, err)
	}
	res.Notified = true

	appLog.Info("loan submitted",
		"name", entry.Name,
		"item", entry.Item,
		"start", entry.Start.String(),
		"end", entry.End.String(),
		"receipt", res.ReceiptPath,
	)
	return res, nil
}

// Prepare runs the side-effect-free part of a submission: required fields,
// the equal-dates confirmation and company defaulting. Blank-only text
// counts as empty, but values are stored as entered.
func Prepare(state model.FormState, confirm Confirmer) (model.LoanEntry, error) {
	if strings.TrimSpace(state.Name) == "" {
		return model.LoanEntry{}, MissingField("name")
	}
	if strings.TrimSpace(state.Item) == "" {
		return model.LoanEntry{}, MissingField("item")
	}

	if state.Start.String() == state.End.String() {
		if confirm == nil || !confirm.Confirm(SameDatesPrompt) {
			appLog.Info("submission declined at same-date confirmation", "date", state.Start.String())
			return model.LoanEntry{}, ErrDeclined
		}
	}

	company := state.Company
	if strings.TrimSpace(company) == "" {
		company = model.CompanySentinel
	}

	return model.LoanEntry{
		Start:   model.DateOf(state.Start),
		End:     model.DateOf(state.End),
		Name:    state.Name,
		Company: company,
		Item:    state.Item,
	}, nil
}

func fail(step Step, err error) error {
	appLog.Error("submission step failed", err, "step", string(step))
	return &StepError{Step: step, Err: err}
}
