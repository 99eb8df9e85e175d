package booking

import "context"

type LoginOutcome int

const (
	LoginAuthenticated LoginOutcome = iota + 1
	LoginOTPRequired
)

func (o LoginOutcome) String() string {
	switch o {
	case LoginAuthenticated:
		return "authenticated"
	case LoginOTPRequired:
		return "otp_required"
	default:
		return "unknown"
	}
}

// RemoteClient is the contract the orchestrator expects from whatever
// drives the remote platform. Rejections and blocks come back as errors:
// ErrRejected, ErrInvalidOTP, ErrBookingFailed and *BlockedError.
type RemoteClient interface {
	// Login may reuse state to skip a full authentication.
	Login(ctx context.Context, creds Credentials, state []byte) (LoginOutcome, error)
	VerifyOTP(ctx context.Context, code string) error
	ListPatients(ctx context.Context) ([]Patient, error)
	ListCenters(ctx context.Context, cities []string, motives []Motive) ([]Center, error)
	// FindAppointments returns an empty slice when the center has nothing.
	FindAppointments(ctx context.Context, center Center, motives []Motive, window Window, patient Patient) ([]Appointment, error)
	Book(ctx context.Context, appt Appointment, patient Patient, answers Answers) error
	ExportSessionState(ctx context.Context) ([]byte, error)
}
