package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"loanbook/internal/config"
	"loanbook/internal/dates"
	"loanbook/internal/form"
	"loanbook/internal/ics"
	appLog "loanbook/internal/log"
	"loanbook/internal/model"
	"loanbook/internal/submit"
)

// Loans lists the record table.
type Loans interface {
	LoadOrEmpty() ([]model.LoanEntry, error)
}

// Submitter runs the submission pipeline.
type Submitter interface {
	Submit(ctx context.Context, state model.FormState, confirm submit.Confirmer) (submit.Result, error)
}

// Server serves the loan form and its JSON API. One mutex serializes every
// form edit and submission: the app has a single interactive user and the
// record table has no other locking.
type Server struct {
	cfg   *config.Config
	mux   *http.ServeMux
	loans Loans
	sub   Submitter

	mu   sync.Mutex
	form *form.Controller
}

//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, loans Loans, sub Submitter) *Server {
	s := &Server{
		cfg:   cfg,
		mux:   http.NewServeMux(),
		loans: loans,
		sub:   sub,
		form:  form.NewController(dates.YearRange{First: cfg.FirstYear, Last: cfg.LastYear}),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="loanbook", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/form", s.handleForm)
	s.mux.HandleFunc("/api/submit", s.handleSubmit)
	s.mux.HandleFunc("/api/loans", s.handleLoans)
	s.mux.HandleFunc("/api/reminder", s.handleReminder)
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded form page. /api/* never falls back
// to HTML.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// tripleDTO is one row of date dropdowns with its selectable days.
type tripleDTO struct {
	Day   int    `json:"day"`
	Month string `json:"month"`
	Year  int    `json:"year"`
	Days  []int  `json:"days"`
	Text  string `json:"text"`
}

type formResponse struct {
	Start   tripleDTO `json:"start"`
	End     tripleDTO `json:"end"`
	Name    string    `json:"name"`
	Company string    `json:"company"`
	Item    string    `json:"item"`
	Linked  bool      `json:"linked"`
	Months  []string  `json:"months"`
	Years   []int     `json:"years"`
}

type formChange struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// handleForm returns the form state (GET) or applies one field change
// (POST {"field": "start.month", "value": "February"}).
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		resp := s.formSnapshot()
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var change formChange
		if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		s.mu.Lock()
		err := s.applyChange(change)
		resp := s.formSnapshot()
		s.mu.Unlock()

		if err != nil {
			appLog.Warn("form change rejected", "field", change.Field, "value", change.Value, "err", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

var errUnknownField = errors.New("unknown form field")

func (s *Server) applyChange(c formChange) error {
	switch c.Field {
	case "start.day", "end.day":
		d, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil {
			return form.ErrInvalidDay
		}
		if c.Field == "start.day" {
			return s.form.SetStartDay(d)
		}
		return s.form.SetEndDay(d)

	case "start.month", "end.month":
		m, err := dates.ParseMonth(c.Value)
		if err != nil {
			return err
		}
		if c.Field == "start.month" {
			return s.form.SetStartMonth(m)
		}
		return s.form.SetEndMonth(m)

	case "start.year", "end.year":
		y, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil {
			return form.ErrInvalidYear
		}
		if c.Field == "start.year" {
			return s.form.SetStartYear(y)
		}
		return s.form.SetEndYear(y)

	case "name":
		s.form.SetName(c.Value)
	case "company":
		s.form.SetCompany(c.Value)
	case "item":
		s.form.SetItem(c.Value)
	case "linked":
		linked, err := strconv.ParseBool(c.Value)
		if err != nil {
			return err
		}
		s.form.SetLinked(linked)
	default:
		return errUnknownField
	}
	return nil
}

// formSnapshot must be called with s.mu held.
func (s *Server) formSnapshot() formResponse {
	st := s.form.State()
	months := make([]string, 0, len(dates.Months))
	for _, m := range dates.Months {
		months = append(months, m.String())
	}
	return formResponse{
		Start:   toTripleDTO(st.Start, s.form.StartDays()),
		End:     toTripleDTO(st.End, s.form.EndDays()),
		Name:    st.Name,
		Company: st.Company,
		Item:    st.Item,
		Linked:  st.Linked,
		Months:  months,
		Years:   s.form.Years().Years(),
	}
}

func toTripleDTO(d model.DateTriple, days []int) tripleDTO {
	return tripleDTO{Day: d.Day, Month: d.Month.String(), Year: d.Year, Days: days, Text: d.String()}
}

type submitRequest struct {
	Confirm bool `json:"confirm"`
}

type submitResponse struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Name     string `json:"name"`
	Company  string `json:"company"`
	Item     string `json:"item"`
	Receipt  string `json:"receipt"`
	Reminder string `json:"reminder"`
	Notified bool   `json:"notified"`
	Message  string `json:"message"`
}

type submitErrorResponse struct {
	Error             string `json:"error"`
	Field             string `json:"field,omitempty"`
	Step              string `json:"step,omitempty"`
	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
	Saved             bool   `json:"saved,omitempty"`
}

// handleSubmit runs the pipeline on the current form state.
//
// POST /api/submit {"confirm": false}
//   - 200: everything done
//   - 400: required field missing
//   - 409: start and end date equal and not confirmed
//   - 500: record/receipt/reminder step failed
//   - 502: loan saved but the email failed
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req submitRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	confirmer := submit.ConfirmFunc(func(string) bool { return req.Confirm })
	res, err := s.sub.Submit(r.Context(), s.form.State(), confirmer)
	if err != nil {
		s.writeSubmitError(w, res, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubmitResponse(res, "Loan recorded and reminder sent to "+s.cfg.Mail.To+"."))
}

func (s *Server) writeSubmitError(w http.ResponseWriter, res submit.Result, err error) {
	var verr *submit.ValidationError
	var serr *submit.StepError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, submitErrorResponse{
			Error: requiredMessage(verr.Field),
			Field: verr.Field,
		})

	case errors.Is(err, submit.ErrDeclined):
		writeJSON(w, http.StatusConflict, submitErrorResponse{
			Error:             submit.SameDatesPrompt,
			NeedsConfirmation: true,
		})

	case errors.As(err, &serr) && serr.Step == submit.StepNotify:
		writeJSON(w, http.StatusBadGateway, submitErrorResponse{
			Error: "Loan recorded, but failed to send email. " + serr.Err.Error(),
			Step:  string(serr.Step),
			Saved: true,
		})

	case errors.As(err, &serr):
		writeJSON(w, http.StatusInternalServerError, submitErrorResponse{
			Error: "Failed at " + string(serr.Step) + ": " + serr.Err.Error(),
			Step:  string(serr.Step),
			Saved: serr.Step != submit.StepRecord,
		})

	default:
		appLog.Error("submit failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func requiredMessage(field string) string {
	switch field {
	case "name":
		return "The Name field is required."
	case "item":
		return "The Item Loaned field is required."
	default:
		return "The " + field + " field is required."
	}
}

func toSubmitResponse(res submit.Result, msg string) submitResponse {
	return submitResponse{
		Start:    res.Entry.Start.String(),
		End:      res.Entry.End.String(),
		Name:     res.Entry.Name,
		Company:  res.Entry.Company,
		Item:     res.Entry.Item,
		Receipt:  res.ReceiptPath,
		Reminder: res.ReminderPath,
		Notified: res.Notified,
		Message:  msg,
	}
}

type loanDTO struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Name    string `json:"name"`
	Company string `json:"company"`
	Item    string `json:"item"`
}

// handleLoans returns the record table in stored order.
func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.Lock()
	entries, err := s.loans.LoadOrEmpty()
	s.mu.Unlock()
	if err != nil {
		appLog.Error("api loans: load failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read loan table")
		return
	}

	dtos := make([]loanDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, loanDTO{
			Start:   e.Start.String(),
			End:     e.End.String(),
			Name:    e.Name,
			Company: e.Company,
			Item:    e.Item,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

type reminderResponse struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	RRule       string    `json:"rrule,omitempty"`
}

// handleReminder shows the pending reminder file, if any.
func (s *Server) handleReminder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, err := os.ReadFile(s.cfg.Reminder.Path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "no pending reminder")
			return
		}
		appLog.Error("api reminder: read failed", err, "path", s.cfg.Reminder.Path)
		writeError(w, http.StatusInternalServerError, "failed to read reminder")
		return
	}

	rem, err := ics.ParseReminder(body)
	if err != nil {
		appLog.Error("api reminder: parse failed", err, "path", s.cfg.Reminder.Path)
		writeError(w, http.StatusInternalServerError, "failed to parse reminder")
		return
	}

	writeJSON(w, http.StatusOK, reminderResponse{
		Summary:     rem.Summary,
		Description: rem.Description,
		Start:       rem.Start,
		End:         rem.End,
		RRule:       rem.RRule,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
