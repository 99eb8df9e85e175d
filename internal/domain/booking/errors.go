package booking

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRejected means the platform refused the credentials.
	ErrRejected = errors.New("invalid credentials")
	// ErrInvalidOTP means the submitted passcode was refused upstream.
	ErrInvalidOTP = errors.New("invalid auth code")
	// ErrMalformedOTP means the passcode is not 6 digits; no remote call was made.
	ErrMalformedOTP = errors.New("auth code must be exactly 6 digits")
	// ErrBookingFailed means the slot could not be booked, usually because
	// someone else took it first.
	ErrBookingFailed = errors.New("unable to book the slot")
	// ErrNoPatients means the account has no patient to book for.
	ErrNoPatients = errors.New("no patient on this account")
	// ErrBlocked is matched by every *BlockedError.
	ErrBlocked = errors.New("blocked by the platform")
	// ErrWrongState is returned for commands issued in a state that does
	// not accept them.
	ErrWrongState = errors.New("operation not allowed in current state")
)

// BlockedError carries the platform's anti-automation message verbatim.
type BlockedError struct {
	Message string
}

func (e *BlockedError) Error() string {
	if e.Message == "" {
		return ErrBlocked.Error()
	}
	return e.Message
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// MissingFieldsError lists custom fields that still have no answer.
type MissingFieldsError struct {
	IDs []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing answers for: %s", strings.Join(e.IDs, ", "))
}
