package workflow

import (
	"maps"
	"slices"

	"github.com/example/vaxsched/internal/domain/booking"
	"github.com/google/uuid"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAwaitingOTP
	StateSelectingPatient
	StateReady
	StateSearching
	StateConfirming
	StateBooking
	StateBooked
	StateBlocked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAwaitingOTP:
		return "awaiting_otp"
	case StateSelectingPatient:
		return "selecting_patient"
	case StateReady:
		return "ready"
	case StateSearching:
		return "searching"
	case StateConfirming:
		return "confirming"
	case StateBooking:
		return "booking"
	case StateBooked:
		return "booked"
	case StateBlocked:
		return "blocked"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run is over.
func (s State) Terminal() bool {
	return s == StateBooked || s == StateBlocked || s == StateFailed
}

// View is a snapshot of the workflow handed to the Renderer. It shares no
// memory with the workflow.
type View struct {
	State       State
	CountryCode string
	CountryName string
	PlatformURL string
	Cities      []string
	Window      booking.Window

	Patients []booking.Patient
	Patient  *booking.Patient

	Sweep  int
	Status [StatusLines]string

	Appointment *booking.Appointment
	Form        booking.Form

	// Message is the last user-facing error or notice, empty when none.
	Message string
	RunID   uuid.UUID
}

type Renderer interface {
	Render(View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

func (f RendererFunc) Render(v View) { f(v) }

func (w *Workflow) snapshot() View {
	v := View{
		State:       w.state,
		CountryCode: w.country.Code,
		CountryName: w.country.Name,
		PlatformURL: w.country.PlatformURL,
		Cities:      slices.Clone(w.cities),
		Window:      w.window,
		Patients:    slices.Clone(w.patients),
		Sweep:       w.sweep,
		Status:      w.status.Lines(),
		Message:     w.message,
		RunID:       w.runID,
	}
	if w.patient != nil {
		p := *w.patient
		v.Patient = &p
	}
	if w.appt != nil {
		a := copyAppointment(*w.appt)
		v.Appointment = &a
		v.Form = copyForm(w.form)
	}
	return v
}

func copyAppointment(a booking.Appointment) booking.Appointment {
	a.Slots = slices.Clone(a.Slots)
	a.Fields = copyFields(a.Fields)
	return a
}

func copyFields(fs []booking.CustomField) []booking.CustomField {
	if fs == nil {
		return nil
	}
	out := make([]booking.CustomField, len(fs))
	for i, f := range fs {
		f.Options = slices.Clone(f.Options)
		out[i] = f
	}
	return out
}

func copyForm(f booking.Form) booking.Form {
	return booking.Form{
		Fields:   copyFields(f.Fields),
		Fixed:    maps.Clone(f.Fixed),
		Prefill:  maps.Clone(f.Prefill),
		Required: copyFields(f.Required),
	}
}
