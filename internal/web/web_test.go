package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanbook/internal/config"
	"loanbook/internal/ics"
	"loanbook/internal/model"
	"loanbook/internal/submit"
)

type fakeLoans struct {
	entries []model.LoanEntry
	err     error
}

func (f *fakeLoans) LoadOrEmpty() ([]model.LoanEntry, error) { return f.entries, f.err }

// fakeSubmitter runs the real validation and then fails with err, if set.
type fakeSubmitter struct {
	err    error
	states []model.FormState
}

func (f *fakeSubmitter) Submit(_ context.Context, state model.FormState, confirm submit.Confirmer) (submit.Result, error) {
	entry, err := submit.Prepare(state, confirm)
	if err != nil {
		return submit.Result{}, err
	}
	f.states = append(f.states, state)
	res := submit.Result{Entry: entry, ReceiptPath: "data/receipt.pdf", ReminderPath: "appointment.ics"}
	if f.err != nil {
		return res, f.err
	}
	res.Notified = true
	return res, nil
}

func newTestServer(t *testing.T, sub *fakeSubmitter) (*Server, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Reminder.Path = filepath.Join(t.TempDir(), "appointment.ics")
	cfg.Mail.To = "desk@example.com"
	return NewServer(cfg, &fakeLoans{}, sub), cfg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeForm(t *testing.T, rec *httptest.ResponseRecorder) formResponse {
	t.Helper()
	var resp formResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeSubmitter{})
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestFormInitialState(t *testing.T) {
	s, _ := newTestServer(t, &fakeSubmitter{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/form", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeForm(t, rec)
	assert.Equal(t, "01/01/2024", resp.Start.Text)
	assert.Equal(t, "01/01/2024", resp.End.Text)
	assert.True(t, resp.Linked)
	assert.Len(t, resp.Start.Days, 31)
	assert.Len(t, resp.Months, 12)
	assert.Equal(t, "January", resp.Months[0])
	assert.Equal(t, []int{2024, 2025, 2026, 2027, 2028, 2029, 2030}, resp.Years)
}

func TestFormChangesReconcileAndLink(t *testing.T) {
	s, _ := newTestServer(t, &fakeSubmitter{})
	h := s.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/form", `{"field":"start.day","value":"31"}`).Code)
	rec := do(t, h, http.MethodPost, "/api/form", `{"field":"start.month","value":"February"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeForm(t, rec)
	assert.Equal(t, "29/02/2024", resp.Start.Text)
	assert.Equal(t, "29/02/2024", resp.End.Text)
	assert.Len(t, resp.Start.Days, 29)

	// End edits never touch start.
	rec = do(t, h, http.MethodPost, "/api/form", `{"field":"end.year","value":"2025"}`)
	resp = decodeForm(t, rec)
	assert.Equal(t, "29/02/2024", resp.Start.Text)
	assert.Equal(t, "28/02/2025", resp.End.Text)

	// Unlinked: start moves alone.
	do(t, h, http.MethodPost, "/api/form", `{"field":"linked","value":"false"}`)
	rec = do(t, h, http.MethodPost, "/api/form", `{"field":"start.month","value":"Mar"}`)
	resp = decodeForm(t, rec)
	assert.Equal(t, "29/03/2024", resp.Start.Text)
	assert.Equal(t, "28/02/2025", resp.End.Text)
}

func TestFormRejectsBadChanges(t *testing.T) {
	s, _ := newTestServer(t, &fakeSubmitter{})
	h := s.Handler()

	for _, body := range []string{
		`{"field":"start.year","value":"1999"}`,
		`{"field":"start.month","value":"Smarch"}`,
		`{"field":"end.day","value":"x"}`,
		`{"field":"colour","value":"red"}`,
		`not json`,
	} {
		rec := do(t, h, http.MethodPost, "/api/form", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := do(t, h, http.MethodDelete, "/api/form", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func fillForm(t *testing.T, h http.Handler) {
	t.Helper()
	for _, body := range []string{
		`{"field":"linked","value":"false"}`,
		`{"field":"end.day","value":"5"}`,
		`{"field":"name","value":"Alex"}`,
		`{"field":"item","value":"Camera"}`,
	} {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/form", body).Code)
	}
}

func TestSubmitSuccess(t *testing.T) {
	sub := &fakeSubmitter{}
	s, _ := newTestServer(t, sub)
	h := s.Handler()
	fillForm(t, h)

	rec := do(t, h, http.MethodPost, "/api/submit", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "01/01/2024", resp.Start)
	assert.Equal(t, "05/01/2024", resp.End)
	assert.Equal(t, "NONE", resp.Company)
	assert.True(t, resp.Notified)
	assert.Contains(t, resp.Message, "desk@example.com")
	require.Len(t, sub.states, 1)
}

func TestSubmitErrors(t *testing.T) {
	t.Run("missing name", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeSubmitter{})
		rec := do(t, s.Handler(), http.MethodPost, "/api/submit", `{"confirm":true}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp submitErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "name", resp.Field)
		assert.Equal(t, "The Name field is required.", resp.Error)
	})

	t.Run("same dates need confirmation", func(t *testing.T) {
		sub := &fakeSubmitter{}
		s, _ := newTestServer(t, sub)
		h := s.Handler()
		do(t, h, http.MethodPost, "/api/form", `{"field":"name","value":"Alex"}`)
		do(t, h, http.MethodPost, "/api/form", `{"field":"item","value":"Camera"}`)

		rec := do(t, h, http.MethodPost, "/api/submit", `{"confirm":false}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		var resp submitErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.NeedsConfirmation)
		assert.Equal(t, submit.SameDatesPrompt, resp.Error)
		assert.Empty(t, sub.states)

		rec = do(t, h, http.MethodPost, "/api/submit", `{"confirm":true}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, sub.states, 1)
	})

	t.Run("pipeline step failed", func(t *testing.T) {
		sub := &fakeSubmitter{err: &submit.StepError{Step: submit.StepReceipt, Err: errors.New("no chrome")}}
		s, _ := newTestServer(t, sub)
		h := s.Handler()
		fillForm(t, h)

		rec := do(t, h, http.MethodPost, "/api/submit", `{}`)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		var resp submitErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "receipt", resp.Step)
		assert.True(t, resp.Saved)
	})

	t.Run("email failed", func(t *testing.T) {
		sub := &fakeSubmitter{err: &submit.StepError{Step: submit.StepNotify, Err: errors.New("smtp down")}}
		s, _ := newTestServer(t, sub)
		h := s.Handler()
		fillForm(t, h)

		rec := do(t, h, http.MethodPost, "/api/submit", `{}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)
		var resp submitErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "notify", resp.Step)
		assert.True(t, resp.Saved)
		assert.Contains(t, resp.Error, "smtp down")
	})
}

func TestLoans(t *testing.T) {
	cfg := config.DefaultConfig()
	loans := &fakeLoans{entries: []model.LoanEntry{{
		Start:   model.ParseDate("01/03/2025"),
		End:     model.ParseDate("05/03/2025"),
		Name:    "Alex",
		Company: "NONE",
		Item:    "Camera",
	}}}
	s := NewServer(cfg, loans, &fakeSubmitter{})

	rec := do(t, s.Handler(), http.MethodGet, "/api/loans", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []loanDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, loanDTO{Start: "01/03/2025", End: "05/03/2025", Name: "Alex", Company: "NONE", Item: "Camera"}, got[0])

	rec = do(t, s.Handler(), http.MethodPost, "/api/loans", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET", rec.Header().Get("Allow"))

	loans.err = errors.New("disk")
	rec = do(t, s.Handler(), http.MethodGet, "/api/loans", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReminder(t *testing.T) {
	s, cfg := newTestServer(t, &fakeSubmitter{})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/reminder", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	w := &ics.Writer{Path: cfg.Reminder.Path, Opts: ics.Options{Now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}}
	_, err := w.Write(model.LoanEntry{
		Start:   model.ParseDate("01/03/2025"),
		End:     model.ParseDate("05/03/2025"),
		Name:    "Alex",
		Company: "NONE",
		Item:    "Camera",
	})
	require.NoError(t, err)

	rec = do(t, h, http.MethodGet, "/api/reminder", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp reminderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Loan: Camera, from Alex (NONE) ends today.", resp.Summary)
	assert.Equal(t, 7, resp.Start.Hour())

	require.NoError(t, os.WriteFile(cfg.Reminder.Path, []byte("garbage"), 0o644))
	rec = do(t, h, http.MethodGet, "/api/reminder", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStaticAndAPIFallback(t *testing.T) {
	s, _ := newTestServer(t, &fakeSubmitter{})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Loan Book")

	rec = do(t, h, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	h := NewServer(cfg, &fakeLoans{}, &fakeSubmitter{}).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	rec := do(t, h, http.MethodGet, "/api/form", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/form", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
