package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/example/vaxsched/internal/application/discovery"
	"github.com/example/vaxsched/internal/application/workflow"
	"github.com/example/vaxsched/internal/domain/booking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	today  = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	center = booking.Center{ID: "c1", Name: "Centre Pasteur", City: "paris"}
)

type stubClient struct {
	outcome  booking.LoginOutcome
	patients []booking.Patient
	appt     booking.Appointment
	otp      []string
	answers  booking.Answers
}

func (s *stubClient) Login(context.Context, booking.Credentials, []byte) (booking.LoginOutcome, error) {
	return s.outcome, nil
}

func (s *stubClient) VerifyOTP(_ context.Context, code string) error {
	s.otp = append(s.otp, code)
	if code != "123456" {
		return booking.ErrInvalidOTP
	}
	return nil
}

func (s *stubClient) ListPatients(context.Context) ([]booking.Patient, error) {
	return s.patients, nil
}

func (s *stubClient) ListCenters(context.Context, []string, []booking.Motive) ([]booking.Center, error) {
	return []booking.Center{center}, nil
}

func (s *stubClient) FindAppointments(context.Context, booking.Center, []booking.Motive, booking.Window, booking.Patient) ([]booking.Appointment, error) {
	return []booking.Appointment{s.appt}, nil
}

func (s *stubClient) Book(_ context.Context, _ booking.Appointment, _ booking.Patient, a booking.Answers) error {
	s.answers = a
	return nil
}

func (s *stubClient) ExportSessionState(context.Context) ([]byte, error) { return nil, nil }

func runWizard(t *testing.T, client *stubClient, input string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(input), &out)
	term.loc = time.UTC

	country, err := booking.LookupCountry("fr")
	require.NoError(t, err)
	wf, err := workflow.New(workflow.Deps{
		Client:    client,
		Scheduler: &discovery.Scheduler{Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() }},
		Renderer:  term,
	}, workflow.Options{Country: country, Cities: []string{"paris"}, Window: booking.DefaultWindow(today)})
	require.NoError(t, err)

	err = (&Wizard{WF: wf, Term: term}).Run(context.Background())
	return out.String(), err
}

func TestWizardBooksEndToEnd(t *testing.T) {
	client := &stubClient{
		outcome:  booking.LoginOTPRequired,
		patients: []booking.Patient{{ID: "p1", FirstName: "Alice"}, {ID: "p2", FirstName: "Bob"}},
		appt: booking.Appointment{
			Center:  center,
			Vaccine: "pfizer.*third",
			Slots:   []time.Time{today.Add(34 * time.Hour)},
			Address: "25 rue du Docteur Roux",
			ZipCode: "75015",
			City:    "Paris",
			Fields: []booking.CustomField{
				{ID: "cov19", Label: "Had covid?", Options: []string{"Oui", "Non"}},
				{ID: "job", Label: "Profession"},
			},
		},
	}
	input := strings.Join([]string{
		"me@example.com", "pw", // login
		"12345",  // malformed
		"123456", // accepted
		"2",      // Bob
		"",       // start search
		"nurse",  // Profession
		"y",
	}, "\n") + "\n"

	out, err := runWizard(t, client, input)
	require.NoError(t, err)

	assert.Equal(t, []string{"123456"}, client.otp, "malformed code is never sent")
	assert.Equal(t, booking.Answers{"cov19": "Non", "job": "nurse"}, client.answers)
	assert.Contains(t, out, "2) Bob")
	assert.Contains(t, out, "  Center Centre Pasteur (paris)... found!\n")
	assert.Contains(t, out, "Slot 1:  Tue 20/10/2026 10:00")
	assert.Contains(t, out, "Vaccine: pfizer third")
	assert.Contains(t, out, "Appointment booked:")
	assert.Contains(t, out, "https://www.doctolib.fr")
	assert.NotContains(t, out, "Had covid?", "fixed answers are never asked")
}

func TestWizardChangesDatesAndCities(t *testing.T) {
	client := &stubClient{outcome: booking.LoginAuthenticated, patients: []booking.Patient{{ID: "p1", FirstName: "Alice"}}}
	input := strings.Join([]string{
		"me@example.com", "pw",
		"c", "01/11/2026", "", "Lyon, paris",
		"c", "31/02/2026", "", "",
	}, "\n") + "\n"

	out, err := runWizard(t, client, input)
	assert.ErrorIs(t, err, ErrQuit)
	assert.Contains(t, out, "From (DD/MM/YYYY) [19/10/2026]: ")
	assert.Contains(t, out, "From (DD/MM/YYYY) [01/11/2026]: ")
	assert.Contains(t, out, "To (DD/MM/YYYY) [18/11/2026]: ")
	assert.Contains(t, out, "Cities [lyon, paris]: ")
	assert.Contains(t, out, `! invalid start date "31/02/2026"`)
}

func TestWizardQuitOnEOF(t *testing.T) {
	client := &stubClient{outcome: booking.LoginAuthenticated, patients: []booking.Patient{{ID: "p1"}}}
	_, err := runWizard(t, client, "me@example.com\npw\n")
	assert.ErrorIs(t, err, ErrQuit)
}

func TestWizardNoPatients(t *testing.T) {
	client := &stubClient{outcome: booking.LoginAuthenticated, patients: []booking.Patient{}}
	out, err := runWizard(t, client, "me@example.com\npw\n")
	require.Error(t, err)
	assert.Contains(t, out, "No patient is registered")
}

func TestRenderPrintsNewestStatusLine(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(""), &out)

	v := workflow.View{State: workflow.StateSearching, Sweep: 1}
	term.Render(v)
	v.Status[0] = "Center A (paris)..."
	term.Render(v)
	v.Status[0] = "Center A (paris)... not found"
	term.Render(v)
	term.Render(v)
	v.Status[1] = "Center B (lyon)..."
	term.Render(v)
	v.State = workflow.StateReady
	v.Message = workflow.MsgSearchCancelled
	term.Render(v)

	assert.Equal(t, strings.Join([]string{
		"Searching for a slot (Ctrl-C to stop)...",
		"-- sweep 1 --",
		"  Center A (paris)... not found",
		"  Center B (lyon)...",
		"! " + workflow.MsgSearchCancelled,
	}, "\n")+"\n", out.String())
}

func TestRestoreRunsPendingOnce(t *testing.T) {
	term := NewTerminal(strings.NewReader(""), io.Discard)
	require.NoError(t, term.Restore(), "nothing pending")

	calls := 0
	term.restore = func() error { calls++; return nil }
	require.NoError(t, term.Restore())
	require.NoError(t, term.Restore())
	assert.Equal(t, 1, calls)
}
