package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/example/vaxsched/internal/application/workflow"
	"github.com/example/vaxsched/internal/domain/booking"
	"golang.org/x/term"
)

const slotLayout = "Mon 02/01/2006 15:04"

// Terminal renders workflow views as lines on out and reads answers from
// in. Render is safe to call from the search goroutine.
type Terminal struct {
	in  *bufio.Reader
	fd  int
	tty bool

	mu      sync.Mutex
	out     io.Writer
	prev    workflow.View
	seen    bool
	partial bool
	loc     *time.Location
	// restore puts the tty back while a secret is being read.
	restore func() error
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{in: bufio.NewReader(in), out: out, fd: -1, loc: time.Local}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
		t.tty = true
	}
	return t
}

var _ workflow.Renderer = (*Terminal)(nil)

func (t *Terminal) Render(v workflow.View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.prev, t.seen
	t.prev, t.seen = v, true

	if !seen || prev.State != v.State {
		t.endLine()
		t.screen(v)
	}
	if v.Message != "" && (v.Message != prev.Message || prev.State != v.State) {
		t.endLine()
		fmt.Fprintf(t.out, "! %s\n", v.Message)
	}
	if v.State == workflow.StateSearching {
		if v.Sweep != prev.Sweep && v.Sweep > 0 {
			t.endLine()
			fmt.Fprintf(t.out, "-- sweep %d --\n", v.Sweep)
		}
		if v.Status != prev.Status {
			t.status(newestLine(prev.Status), newestLine(v.Status))
		}
	}
}

// status prints the newest status line. A line that only grew since the
// last render is finished in place.
func (t *Terminal) status(old, line string) {
	if line == "" {
		return
	}
	if t.partial && old != "" && len(line) > len(old) && strings.HasPrefix(line, old) {
		fmt.Fprintln(t.out, line[len(old):])
		t.partial = false
		return
	}
	t.endLine()
	fmt.Fprintf(t.out, "  %s", line)
	t.partial = true
}

func (t *Terminal) endLine() {
	if t.partial {
		fmt.Fprintln(t.out)
		t.partial = false
	}
}

func (t *Terminal) screen(v workflow.View) {
	switch v.State {
	case workflow.StateAuthenticating:
		fmt.Fprintf(t.out, "Signing in to %s...\n", v.PlatformURL)
	case workflow.StateSelectingPatient:
		fmt.Fprintln(t.out, "Patients on this account:")
		for i, p := range v.Patients {
			fmt.Fprintf(t.out, "  %d) %s\n", i+1, p.DisplayName())
		}
	case workflow.StateReady:
		if v.Patient != nil {
			fmt.Fprintf(t.out, "Booking for %s, %s, between %s.\n",
				v.Patient.DisplayName(), strings.Join(v.Cities, ", "), v.Window)
		}
	case workflow.StateSearching:
		fmt.Fprintln(t.out, "Searching for a slot (Ctrl-C to stop)...")
	case workflow.StateConfirming:
		if v.Appointment != nil {
			fmt.Fprintln(t.out, "Slot found!")
			t.appointment(*v.Appointment)
		}
	case workflow.StateBooking:
		fmt.Fprintln(t.out, "Booking...")
	case workflow.StateBooked:
		fmt.Fprintln(t.out, "Appointment booked:")
		if v.Appointment != nil {
			t.appointment(*v.Appointment)
		}
		fmt.Fprintf(t.out, "Check your appointments on %s\n", v.PlatformURL)
	case workflow.StateBlocked:
		fmt.Fprintln(t.out, "The platform blocked this session. Wait before trying again.")
	}
}

func (t *Terminal) appointment(a booking.Appointment) {
	fmt.Fprintf(t.out, "  Center:  %s\n", a.Center.Name)
	if a.Address != "" {
		fmt.Fprintf(t.out, "  Address: %s, %s %s\n", a.Address, a.ZipCode, a.City)
	}
	if label := a.VaccineLabel(); label != "" {
		fmt.Fprintf(t.out, "  Vaccine: %s\n", label)
	}
	for i, s := range a.Slots {
		fmt.Fprintf(t.out, "  Slot %d:  %s\n", i+1, s.In(t.loc).Format(slotLayout))
	}
	if a.MapURL != "" {
		fmt.Fprintf(t.out, "  Map:     %s\n", a.MapURL)
	}
}

// Notice prints a message that did not come from the workflow.
func (t *Terminal) Notice(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endLine()
	fmt.Fprintf(t.out, "! %s\n", msg)
}

// ReadLine prints prompt and returns the trimmed answer.
func (t *Terminal) ReadLine(prompt string) (string, error) {
	t.mu.Lock()
	t.endLine()
	fmt.Fprint(t.out, prompt)
	t.mu.Unlock()

	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadSecret reads without echo when in is a terminal.
func (t *Terminal) ReadSecret(prompt string) (string, error) {
	if !t.tty {
		return t.ReadLine(prompt)
	}
	st, err := term.GetState(t.fd)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.endLine()
	fmt.Fprint(t.out, prompt)
	t.restore = func() error { return term.Restore(t.fd, st) }
	t.mu.Unlock()

	b, err := term.ReadPassword(t.fd)
	t.mu.Lock()
	t.restore = nil
	t.mu.Unlock()
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Restore puts the tty back to its normal mode if a secret prompt is
// pending. Call it before exiting from a signal handler.
func (t *Terminal) Restore() error {
	t.mu.Lock()
	restore := t.restore
	t.restore = nil
	t.mu.Unlock()
	if restore == nil {
		return nil
	}
	return restore()
}

func newestLine(lines [workflow.StatusLines]string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] != "" {
			return lines[i]
		}
	}
	return ""
}
