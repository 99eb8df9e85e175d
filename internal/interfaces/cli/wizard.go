package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/vaxsched/internal/application/workflow"
	"github.com/example/vaxsched/internal/domain/booking"
)

// ErrQuit is returned by Run when the user leaves before booking.
var ErrQuit = errors.New("quit")

// Workflow is the command surface the wizard drives.
type Workflow interface {
	View() workflow.View
	SubmitCredentials(ctx context.Context, creds booking.Credentials) error
	SubmitOTP(ctx context.Context, code string) error
	SelectPatient(id string) error
	Setup(window booking.Window, cities []string) error
	Search(ctx context.Context) error
	Confirmation() (booking.Appointment, booking.Form, error)
	Book(ctx context.Context, overrides booking.Answers) error
	SearchAgain() error
}

// Wizard walks the user through login, search and booking, one prompt per
// workflow state.
type Wizard struct {
	WF   Workflow
	Term *Terminal
}

func (w *Wizard) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := w.WF.View()
		var err error
		switch v.State {
		case workflow.StateUnauthenticated:
			err = w.login(ctx)
		case workflow.StateAwaitingOTP:
			err = w.otp(ctx)
		case workflow.StateSelectingPatient:
			err = w.choosePatient(v)
		case workflow.StateReady:
			err = w.search(ctx, v)
		case workflow.StateConfirming:
			err = w.confirm(ctx)
		case workflow.StateBooked:
			return nil
		case workflow.StateBlocked:
			return &booking.BlockedError{Message: v.Message}
		case workflow.StateFailed:
			return errors.New(v.Message)
		default:
			return fmt.Errorf("unexpected state %s", v.State)
		}
		if err != nil {
			return err
		}
	}
}

// shown discards command errors: the workflow has already rendered them
// as a message and moved to the state the loop continues from.
func shown(error) error { return nil }

func (w *Wizard) login(ctx context.Context) error {
	id, err := w.Term.ReadLine("Email or phone: ")
	if err != nil {
		return quitOnEOF(err)
	}
	secret, err := w.Term.ReadSecret("Password: ")
	if err != nil {
		return quitOnEOF(err)
	}
	return shown(w.WF.SubmitCredentials(ctx, booking.Credentials{Identifier: id, Secret: secret}))
}

func (w *Wizard) otp(ctx context.Context) error {
	code, err := w.Term.ReadLine("Code: ")
	if err != nil {
		return quitOnEOF(err)
	}
	return shown(w.WF.SubmitOTP(ctx, code))
}

func (w *Wizard) choosePatient(v workflow.View) error {
	ans, err := w.Term.ReadLine(fmt.Sprintf("Patient [1-%d]: ", len(v.Patients)))
	if err != nil {
		return quitOnEOF(err)
	}
	n, err := strconv.Atoi(ans)
	if err != nil || n < 1 || n > len(v.Patients) {
		return nil
	}
	return shown(w.WF.SelectPatient(v.Patients[n-1].ID))
}

func (w *Wizard) search(ctx context.Context, v workflow.View) error {
	ans, err := w.Term.ReadLine("Press Enter to search, [c]hange dates or cities, [q]uit: ")
	if err != nil {
		return quitOnEOF(err)
	}
	switch strings.ToLower(ans) {
	case "q":
		return ErrQuit
	case "c":
		return w.setup(v)
	}
	return shown(w.WF.Search(ctx))
}

// setup asks for a new date window and city list; an empty answer keeps
// the current value.
func (w *Wizard) setup(v workflow.View) error {
	from, err := w.askDefault("From (DD/MM/YYYY)", v.Window.Start.Format(booking.DateLayout))
	if err != nil {
		return err
	}
	to, err := w.askDefault("To (DD/MM/YYYY)", v.Window.End.Format(booking.DateLayout))
	if err != nil {
		return err
	}
	cities, err := w.askDefault("Cities", strings.Join(v.Cities, ", "))
	if err != nil {
		return err
	}
	window, err := booking.ParseWindow(from, to, w.Term.loc)
	if err != nil {
		w.Term.Notice(err.Error())
		return nil
	}
	return shown(w.WF.Setup(window, strings.Split(cities, ",")))
}

func (w *Wizard) askDefault(label, def string) (string, error) {
	ans, err := w.Term.ReadLine(fmt.Sprintf("%s [%s]: ", label, def))
	if err != nil {
		return "", quitOnEOF(err)
	}
	if ans == "" {
		return def, nil
	}
	return ans, nil
}

func (w *Wizard) confirm(ctx context.Context) error {
	_, form, err := w.WF.Confirmation()
	if err != nil {
		return shown(err)
	}
	overrides := booking.Answers{}
	for _, f := range form.Required {
		ans, err := w.askField(f)
		if err != nil {
			return err
		}
		overrides[f.ID] = ans
	}

	ans, err := w.Term.ReadLine("Book this slot? [Y]es / [s]earch again / [q]uit: ")
	if err != nil {
		return quitOnEOF(err)
	}
	switch strings.ToLower(ans) {
	case "", "y", "yes":
		return shown(w.WF.Book(ctx, overrides))
	case "s":
		return shown(w.WF.SearchAgain())
	case "q":
		return ErrQuit
	default:
		return nil
	}
}

func (w *Wizard) askField(f booking.CustomField) (string, error) {
	for {
		if len(f.Options) == 0 {
			ans, err := w.Term.ReadLine(f.Label + ": ")
			if err != nil {
				return "", quitOnEOF(err)
			}
			if ans != "" {
				return ans, nil
			}
			continue
		}
		prompt := fmt.Sprintf("%s (%s): ", f.Label, strings.Join(f.Options, "/"))
		ans, err := w.Term.ReadLine(prompt)
		if err != nil {
			return "", quitOnEOF(err)
		}
		for _, o := range f.Options {
			if strings.EqualFold(o, ans) {
				return o, nil
			}
		}
	}
}

func quitOnEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrQuit
	}
	return err
}
