// Package workflow owns the booking run: authentication, patient
// resolution, slot discovery, confirmation and booking. The presentation
// layer issues commands and receives View snapshots; it never touches the
// workflow's fields.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/example/vaxsched/internal/application/discovery"
	"github.com/example/vaxsched/internal/domain/booking"
	"github.com/example/vaxsched/internal/journal"
	"github.com/example/vaxsched/internal/metrics"
	"github.com/example/vaxsched/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MsgOTPPrompt       = "Enter the 6-digit code sent to you"
	MsgSelectPatient   = "Select the patient to book for"
	MsgSearchCancelled = "Search cancelled"
	MsgBookingFailed   = "Unable to book your slot, it may have been taken. Search again."
	MsgBooked          = "Your appointment is booked"
)

// Journal records the run. *journal.Repo satisfies it.
type Journal interface {
	Start(ctx context.Context, run journal.Run) (uuid.UUID, error)
	RecordAttempt(ctx context.Context, runID uuid.UUID, a journal.Attempt) error
	Finish(ctx context.Context, runID uuid.UUID, status journal.Status, lastErr *string) error
}

// Deps are the collaborators of a Workflow. Only Client is required.
type Deps struct {
	Client    booking.RemoteClient
	Sessions  session.Store
	Scheduler *discovery.Scheduler
	Journal   Journal
	Renderer  Renderer
	Logger    *zap.Logger
	Metrics   *metrics.SearchMetrics
}

type Options struct {
	Country booking.Country
	Cities  []string
	Window  booking.Window
}

type Workflow struct {
	client    booking.RemoteClient
	sessions  session.Store
	scheduler *discovery.Scheduler
	journal   Journal
	renderer  Renderer
	log       *zap.Logger
	metrics   *metrics.SearchMetrics

	mu      sync.Mutex
	country booking.Country
	cities  []string
	window  booking.Window

	state         State
	authenticated bool
	patients      []booking.Patient
	patient       *booking.Patient
	sweep         int
	status        StatusLog
	appt          *booking.Appointment
	form          booking.Form
	message       string
	cancelSearch  context.CancelFunc

	runID   uuid.UUID
	runOpen bool
}

func New(deps Deps, opts Options) (*Workflow, error) {
	if deps.Client == nil {
		return nil, errors.New("workflow: remote client is required")
	}
	if opts.Country.Code == "" {
		return nil, errors.New("workflow: country is required")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sched := deps.Scheduler
	if sched == nil {
		sched = &discovery.Scheduler{}
	}
	if sched.Client == nil {
		sched.Client = deps.Client
	}
	if sched.Logger == nil {
		sched.Logger = log
	}
	if sched.Metrics == nil {
		sched.Metrics = deps.Metrics
	}
	window := opts.Window
	if window.Start.IsZero() {
		window = booking.DefaultWindow(time.Now())
	}
	return &Workflow{
		client:    deps.Client,
		sessions:  deps.Sessions,
		scheduler: sched,
		journal:   deps.Journal,
		renderer:  deps.Renderer,
		log:       log,
		metrics:   deps.Metrics,
		country:   opts.Country,
		cities:    cleanCities(opts.Cities),
		window:    window,
		state:     StateUnauthenticated,
	}, nil
}

// View returns the current snapshot.
func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// update applies fn under the lock and renders the resulting snapshot
// after releasing it.
func (w *Workflow) update(fn func()) {
	w.mu.Lock()
	fn()
	v := w.snapshot()
	w.mu.Unlock()
	if w.renderer != nil {
		w.renderer.Render(v)
	}
}

// Setup records the date window and the cities to search. It is accepted
// before login and whenever no search is in flight.
func (w *Workflow) Setup(window booking.Window, cities []string) error {
	invalid := window.Validate()
	cleaned := cleanCities(cities)
	if invalid == nil && len(cleaned) == 0 {
		invalid = errors.New("at least one city is required")
	}
	var err error
	w.update(func() {
		switch w.state {
		case StateUnauthenticated, StateAwaitingOTP, StateSelectingPatient, StateReady:
		default:
			err = fmt.Errorf("%w: setup while %s", booking.ErrWrongState, w.state)
			return
		}
		if invalid != nil {
			err = invalid
			w.message = invalid.Error()
			return
		}
		w.window = window
		w.cities = cleaned
		w.message = ""
	})
	return err
}

func (w *Workflow) SubmitCredentials(ctx context.Context, creds booking.Credentials) error {
	var err error
	w.update(func() {
		if w.state != StateUnauthenticated {
			err = fmt.Errorf("%w: login while %s", booking.ErrWrongState, w.state)
			return
		}
		if strings.TrimSpace(creds.Identifier) == "" || creds.Secret == "" {
			err = errors.New("identifier and password are required")
			w.message = "Please enter your identifier and password"
			return
		}
		w.state = StateAuthenticating
		w.message = ""
	})
	if err != nil {
		return err
	}

	prior := w.loadSession(ctx)
	outcome, err := w.client.Login(ctx, creds, prior)
	if err != nil {
		w.metrics.ObserveLogin(loginLabel(err))
		return w.authFailed(ctx, err, StateUnauthenticated)
	}
	w.metrics.ObserveLogin(outcome.String())
	w.log.Info("login", zap.String("outcome", outcome.String()), zap.Bool("resumed", prior != nil))

	if outcome == booking.LoginOTPRequired {
		w.update(func() {
			w.state = StateAwaitingOTP
			w.message = MsgOTPPrompt
		})
		return nil
	}
	return w.onAuthenticated(ctx)
}

// SubmitOTP checks the code format before any remote call. A refused code
// leaves the workflow waiting for another one.
func (w *Workflow) SubmitOTP(ctx context.Context, code string) error {
	var err error
	w.update(func() {
		if w.state != StateAwaitingOTP {
			err = fmt.Errorf("%w: otp while %s", booking.ErrWrongState, w.state)
			return
		}
		if err = booking.ValidateOTP(code); err != nil {
			w.message = "The code must be exactly 6 digits"
			return
		}
		w.state = StateAuthenticating
		w.message = ""
	})
	if err != nil {
		return err
	}

	if err := w.client.VerifyOTP(ctx, code); err != nil {
		w.metrics.ObserveLogin(loginLabel(err))
		if errors.Is(err, booking.ErrInvalidOTP) {
			w.update(func() {
				w.state = StateAwaitingOTP
				w.message = "Invalid code, try again"
			})
			return err
		}
		return w.authFailed(ctx, err, StateAwaitingOTP)
	}
	w.metrics.ObserveLogin("otp_verified")
	return w.onAuthenticated(ctx)
}

func (w *Workflow) onAuthenticated(ctx context.Context) error {
	w.mu.Lock()
	w.authenticated = true
	w.mu.Unlock()
	w.persistSession(ctx)

	patients, err := w.client.ListPatients(ctx)
	if err != nil {
		return w.authFailed(ctx, fmt.Errorf("list patients: %w", err), StateUnauthenticated)
	}

	w.update(func() {
		w.patients = slices.Clone(patients)
		w.patient = nil
		switch len(patients) {
		case 0:
			w.state = StateFailed
			w.message = "No patient is registered on this account"
			err = booking.ErrNoPatients
		case 1:
			p := patients[0]
			w.patient = &p
			w.state = StateReady
			w.message = ""
		default:
			w.state = StateSelectingPatient
			w.message = MsgSelectPatient
		}
	})
	if err != nil {
		w.failRun(ctx, err.Error())
	}
	return err
}

// authFailed maps a login-phase error to the next state: blocks are
// terminal, anything else goes back to fallback with the reason shown.
func (w *Workflow) authFailed(ctx context.Context, err error, fallback State) error {
	if errors.Is(err, booking.ErrBlocked) {
		w.block(ctx, err)
		return err
	}
	w.log.Warn("authentication step failed", zap.Error(err))
	if errors.Is(err, booking.ErrRejected) {
		w.clearSession(ctx)
	}
	w.update(func() {
		w.state = fallback
		switch {
		case errors.Is(err, booking.ErrRejected):
			w.message = "Invalid credentials: " + err.Error()
		default:
			w.message = err.Error()
		}
	})
	return err
}

func (w *Workflow) SelectPatient(id string) error {
	var err error
	w.update(func() {
		if w.state != StateSelectingPatient && w.state != StateReady {
			err = fmt.Errorf("%w: select patient while %s", booking.ErrWrongState, w.state)
			return
		}
		i := slices.IndexFunc(w.patients, func(p booking.Patient) bool { return p.ID == id })
		if i < 0 {
			err = fmt.Errorf("unknown patient %q", id)
			w.message = "Unknown patient"
			return
		}
		p := w.patients[i]
		w.patient = &p
		w.state = StateReady
		w.message = ""
	})
	return err
}

// Search runs the discovery scheduler until it finds a slot, ctx or
// CancelSearch stops it, or the platform blocks us. On a hit the workflow
// moves to Confirming.
func (w *Workflow) Search(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		err error
		q   discovery.Query
	)
	w.update(func() {
		if w.state != StateReady {
			err = fmt.Errorf("%w: search while %s", booking.ErrWrongState, w.state)
			return
		}
		if w.patient == nil {
			err = fmt.Errorf("%w: no patient selected", booking.ErrWrongState)
			return
		}
		if len(w.cities) == 0 {
			err = errors.New("no city to search")
			w.message = "Choose at least one city"
			return
		}
		w.state = StateSearching
		w.cancelSearch = cancel
		w.sweep = 0
		w.status.Reset()
		w.appt = nil
		w.form = booking.Form{}
		w.message = ""
		q = discovery.Query{
			Cities:  slices.Clone(w.cities),
			Motives: slices.Clone(w.country.Motives),
			Window:  w.window,
			Patient: *w.patient,
		}
	})
	if err != nil {
		return err
	}

	w.startRun(ctx, q)

	appt, err := w.scheduler.Run(sctx, q, w.observe)
	if err != nil {
		if errors.Is(err, booking.ErrBlocked) {
			w.block(ctx, err)
			return err
		}
		w.update(func() {
			w.cancelSearch = nil
			w.state = StateReady
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				w.message = MsgSearchCancelled
			case errors.Is(err, discovery.ErrSearchExhausted):
				w.message = "No slot found before the search time limit"
			default:
				w.message = err.Error()
			}
		})
		return err
	}

	w.update(func() {
		w.cancelSearch = nil
		w.appt = &appt
		w.form = booking.NewForm(appt.Fields, w.country.FixedAnswers)
		w.state = StateConfirming
	})
	return nil
}

// CancelSearch stops a running Search. Safe to call from any goroutine.
func (w *Workflow) CancelSearch() {
	w.mu.Lock()
	cancel := w.cancelSearch
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *Workflow) observe(ev discovery.Event) {
	w.update(func() {
		switch ev.Kind {
		case discovery.EventSweep:
			w.sweep = ev.Sweep
		case discovery.EventChecking:
			w.status.Push(fmt.Sprintf("Center %s (%s)...", ev.Center.Name, ev.Center.City))
		case discovery.EventNotFound:
			w.status.Append("not found")
		case discovery.EventFound:
			w.status.Append("found!")
		}
	})
}

// Confirmation returns the discovered appointment and its form.
func (w *Workflow) Confirmation() (booking.Appointment, booking.Form, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateConfirming || w.appt == nil {
		return booking.Appointment{}, booking.Form{}, fmt.Errorf("%w: nothing to confirm while %s", booking.ErrWrongState, w.state)
	}
	return copyAppointment(*w.appt), copyForm(w.form), nil
}

// Book submits the appointment with the form answers merged with
// overrides. Success is terminal. A failure discards the appointment and
// returns to Ready; the same appointment is never resubmitted.
func (w *Workflow) Book(ctx context.Context, overrides booking.Answers) error {
	var (
		err     error
		appt    booking.Appointment
		patient booking.Patient
		answers booking.Answers
	)
	w.update(func() {
		if w.state != StateConfirming {
			err = fmt.Errorf("%w: book while %s", booking.ErrWrongState, w.state)
			return
		}
		if w.patient == nil || w.appt == nil || len(w.appt.Slots) == 0 {
			err = fmt.Errorf("%w: booking needs a patient and a slot", booking.ErrWrongState)
			return
		}
		answers, err = w.form.Answers(overrides)
		if err != nil {
			w.message = err.Error()
			return
		}
		appt = copyAppointment(*w.appt)
		patient = *w.patient
		w.state = StateBooking
		w.message = ""
	})
	if err != nil {
		return err
	}

	berr := w.client.Book(ctx, appt, patient, answers)
	w.metrics.ObserveBooking(berr == nil)
	w.recordAttempt(ctx, appt, berr)

	if berr != nil && errors.Is(berr, booking.ErrBlocked) {
		w.block(ctx, berr)
		return berr
	}
	if berr != nil {
		w.log.Warn("booking failed", zap.String("center", appt.Center.Name), zap.Error(berr))
		w.update(func() {
			w.appt = nil
			w.form = booking.Form{}
			w.state = StateReady
			w.message = MsgBookingFailed
		})
		if errors.Is(berr, booking.ErrBookingFailed) {
			return berr
		}
		return fmt.Errorf("%w: %w", booking.ErrBookingFailed, berr)
	}

	w.log.Info("appointment booked",
		zap.String("center", appt.Center.Name),
		zap.Time("slot", appt.Slots[0]))
	w.update(func() {
		w.state = StateBooked
		w.runOpen = false
		w.message = MsgBooked
	})
	return nil
}

// SearchAgain drops the offered appointment and goes back to Ready.
func (w *Workflow) SearchAgain() error {
	var err error
	w.update(func() {
		if w.state != StateConfirming {
			err = fmt.Errorf("%w: search again while %s", booking.ErrWrongState, w.state)
			return
		}
		w.appt = nil
		w.form = booking.Form{}
		w.state = StateReady
		w.message = ""
	})
	return err
}

// Close stops any search, saves the session for the next run and closes
// the journal entry of an unfinished run.
func (w *Workflow) Close(ctx context.Context) {
	w.CancelSearch()

	w.mu.Lock()
	authed := w.authenticated
	runID, open := w.runID, w.runOpen
	w.runOpen = false
	w.mu.Unlock()

	if authed {
		w.persistSession(ctx)
	}
	if open {
		w.finishRun(ctx, runID, journal.StatusAbandoned, "")
	}
}

func (w *Workflow) block(ctx context.Context, err error) {
	msg := err.Error()
	var be *booking.BlockedError
	if errors.As(err, &be) && be.Message != "" {
		msg = be.Message
	}
	w.log.Error("blocked by the platform", zap.String("message", msg))

	var (
		runID uuid.UUID
		open  bool
	)
	w.update(func() {
		w.cancelSearch = nil
		w.state = StateBlocked
		w.message = msg
		runID, open = w.runID, w.runOpen
		w.runOpen = false
	})
	if open {
		w.finishRun(ctx, runID, journal.StatusBlocked, msg)
	}
}

func (w *Workflow) loadSession(ctx context.Context) []byte {
	if w.sessions == nil {
		return nil
	}
	blob, err := w.sessions.Load(ctx)
	if err != nil {
		w.log.Warn("could not load saved session, logging in from scratch", zap.Error(err))
		return nil
	}
	return blob
}

func (w *Workflow) persistSession(ctx context.Context) {
	if w.sessions == nil {
		return
	}
	blob, err := w.client.ExportSessionState(ctx)
	if err != nil {
		w.log.Warn("could not export session", zap.Error(err))
		return
	}
	if len(blob) == 0 {
		return
	}
	if err := w.sessions.Save(ctx, blob); err != nil {
		w.log.Warn("could not save session", zap.Error(err))
	}
}

func (w *Workflow) clearSession(ctx context.Context) {
	if w.sessions == nil {
		return
	}
	if err := w.sessions.Clear(ctx); err != nil {
		w.log.Warn("could not clear rejected session", zap.Error(err))
	}
}

// failRun journals a run that ended before any search could start.
func (w *Workflow) failRun(ctx context.Context, detail string) {
	if w.journal == nil {
		return
	}
	w.mu.Lock()
	run := journal.Run{
		Country:     w.country.Code,
		Cities:      slices.Clone(w.cities),
		WindowStart: w.window.Start,
		WindowEnd:   w.window.End,
		Status:      journal.StatusSearching,
	}
	w.mu.Unlock()
	id, err := w.journal.Start(ctx, run)
	if err != nil {
		w.log.Warn("journal: could not start run", zap.Error(err))
		return
	}
	w.update(func() { w.runID = id })
	w.finishRun(ctx, id, journal.StatusFailed, detail)
}

func (w *Workflow) startRun(ctx context.Context, q discovery.Query) {
	if w.journal == nil {
		return
	}
	w.mu.Lock()
	open := w.runOpen
	w.mu.Unlock()
	if open {
		return
	}

	id, err := w.journal.Start(ctx, journal.Run{
		Country:     w.country.Code,
		Cities:      q.Cities,
		WindowStart: q.Window.Start,
		WindowEnd:   q.Window.End,
		PatientID:   q.Patient.ID,
		Status:      journal.StatusSearching,
	})
	if err != nil {
		w.log.Warn("journal: could not start run", zap.Error(err))
		return
	}
	w.update(func() {
		w.runID = id
		w.runOpen = true
	})
}

func (w *Workflow) recordAttempt(ctx context.Context, appt booking.Appointment, berr error) {
	w.mu.Lock()
	runID, open := w.runID, w.runOpen
	w.mu.Unlock()
	if w.journal == nil || !open {
		return
	}
	a := journal.Attempt{
		CenterName: appt.Center.Name,
		SlotAt:     appt.Slots[0],
		Success:    berr == nil,
	}
	if berr != nil {
		a.Detail = berr.Error()
	}
	if err := w.journal.RecordAttempt(ctx, runID, a); err != nil {
		w.log.Warn("journal: could not record attempt", zap.Error(err))
	}
}

func (w *Workflow) finishRun(ctx context.Context, runID uuid.UUID, status journal.Status, detail string) {
	if w.journal == nil {
		return
	}
	var lastErr *string
	if detail != "" {
		lastErr = &detail
	}
	if err := w.journal.Finish(ctx, runID, status, lastErr); err != nil {
		w.log.Warn("journal: could not finish run", zap.Error(err))
	}
}

func loginLabel(err error) string {
	switch {
	case errors.Is(err, booking.ErrBlocked):
		return "blocked"
	case errors.Is(err, booking.ErrRejected):
		return "rejected"
	case errors.Is(err, booking.ErrInvalidOTP):
		return "otp_invalid"
	default:
		return "error"
	}
}

func cleanCities(cities []string) []string {
	var out []string
	for _, c := range cities {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
