// Package remote talks to the platform automation bridge: a service that
// performs the authenticated browser interactions with the appointment
// platform and exposes them as a small JSON API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/example/vaxsched/internal/domain/booking"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sessionHeader  = "X-Session-Token"
	defaultTimeout = 30 * time.Second
	userAgent      = "vaxsched/1.0"
)

// Client implements booking.RemoteClient over HTTP.
type Client struct {
	base    *url.URL
	country string

	hc      *http.Client
	jar     *scopedJar
	limiter *rate.Limiter
	logger  *zap.Logger

	mu    sync.Mutex
	token string
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client; its Jar is replaced by the
// client's own so the session can be exported.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRateLimit caps outgoing requests per second, on top of the
// scheduler's own pauses.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func New(baseURL, country string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q needs scheme and host", baseURL)
	}
	jar, err := newScopedJar()
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:    u,
		country: country,
		hc:      &http.Client{Timeout: defaultTimeout},
		jar:     jar,
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.hc
	hc.Jar = jar
	c.hc = &hc
	return c, nil
}

var _ booking.RemoteClient = (*Client)(nil)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) Login(ctx context.Context, creds booking.Credentials, state []byte) (booking.LoginOutcome, error) {
	if len(state) > 0 {
		if err := c.restore(state); err != nil {
			c.logger.Warn("ignoring unreadable session state", zap.Error(err))
		}
	}

	status, body, err := c.do(ctx, http.MethodPost, "login", nil, loginRequest{Identifier: creds.Identifier, Secret: creds.Secret})
	if err != nil {
		return 0, err
	}
	if err := blockedErr(status, body); err != nil {
		return 0, err
	}
	switch {
	case status == http.StatusUnauthorized:
		c.forget()
		if msg := message(body); msg != "" {
			return 0, fmt.Errorf("%w: %s", booking.ErrRejected, msg)
		}
		return 0, booking.ErrRejected
	case status >= 400:
		return 0, httpErr("login", status, body)
	}

	var r statusResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return 0, fmt.Errorf("remote: decode login response: %w", err)
	}
	switch r.Status {
	case "authenticated":
		return booking.LoginAuthenticated, nil
	case "otp_required":
		return booking.LoginOTPRequired, nil
	default:
		return 0, fmt.Errorf("remote: unexpected login status %q", r.Status)
	}
}

func (c *Client) VerifyOTP(ctx context.Context, code string) error {
	status, body, err := c.do(ctx, http.MethodPost, "otp", nil, map[string]string{"code": code})
	if err != nil {
		return err
	}
	if err := blockedErr(status, body); err != nil {
		return err
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusUnprocessableEntity:
		return booking.ErrInvalidOTP
	case status >= 400:
		return httpErr("otp", status, body)
	}
	return nil
}

func (c *Client) ListPatients(ctx context.Context) ([]booking.Patient, error) {
	var out []booking.Patient
	if err := c.getJSON(ctx, "patients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListCenters(ctx context.Context, cities []string, motives []booking.Motive) ([]booking.Center, error) {
	q := url.Values{}
	for _, city := range cities {
		q.Add("city", city)
	}
	for _, m := range motives {
		q.Add("motive", m.Code)
	}
	var out []booking.Center
	if err := c.getJSON(ctx, "centers", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type appointmentsRequest struct {
	CenterID  string   `json:"center_id"`
	Motives   []string `json:"motives"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	PatientID string   `json:"patient_id"`
}

func (c *Client) FindAppointments(ctx context.Context, center booking.Center, motives []booking.Motive, window booking.Window, patient booking.Patient) ([]booking.Appointment, error) {
	req := appointmentsRequest{
		CenterID:  center.ID,
		Motives:   motiveCodes(motives),
		Start:     window.Start.Format("2006-01-02"),
		End:       window.End.Format("2006-01-02"),
		PatientID: patient.ID,
	}
	status, body, err := c.do(ctx, http.MethodPost, "appointments", nil, req)
	if err != nil {
		return nil, err
	}
	if err := blockedErr(status, body); err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return nil, nil
	}
	if status >= 400 {
		return nil, httpErr("appointments", status, body)
	}
	var out []booking.Appointment
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("remote: decode appointments: %w", err)
	}
	for i := range out {
		if out[i].Center.ID == "" {
			out[i].Center = center
		}
	}
	return out, nil
}

type bookRequest struct {
	CenterID  string            `json:"center_id"`
	Vaccine   string            `json:"vaccine"`
	Slots     []time.Time       `json:"slots"`
	PatientID string            `json:"patient_id"`
	Answers   map[string]string `json:"custom_fields"`
}

func (c *Client) Book(ctx context.Context, appt booking.Appointment, patient booking.Patient, answers booking.Answers) error {
	req := bookRequest{
		CenterID:  appt.Center.ID,
		Vaccine:   appt.Vaccine,
		Slots:     appt.Slots,
		PatientID: patient.ID,
		Answers:   answers,
	}
	status, body, err := c.do(ctx, http.MethodPost, "bookings", nil, req)
	if err != nil {
		return err
	}
	if err := blockedErr(status, body); err != nil {
		return err
	}
	switch {
	case status == http.StatusConflict || status == http.StatusGone || status == http.StatusUnprocessableEntity:
		if msg := message(body); msg != "" {
			return fmt.Errorf("%w: %s", booking.ErrBookingFailed, msg)
		}
		return booking.ErrBookingFailed
	case status >= 400:
		return fmt.Errorf("%w: %v", booking.ErrBookingFailed, httpErr("book", status, body))
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	status, body, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	if err := blockedErr(status, body); err != nil {
		return err
	}
	if status >= 400 {
		return httpErr(path, status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("remote: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("remote: marshal %s: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}

	u := c.endpoint(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("remote: create %s request: %w", path, err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("user-agent", userAgent)
	if payload != nil {
		req.Header.Set("content-type", "application/json")
	}
	if tok := c.sessionToken(); tok != "" {
		req.Header.Set(sessionHeader, tok)
	}

	start := time.Now()
	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if tok := res.Header.Get(sessionHeader); tok != "" {
		c.setSessionToken(tok)
	}
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("remote: read %s response: %w", path, err)
	}
	c.logger.Debug("remote call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", res.StatusCode),
		zap.Duration("took", time.Since(start)))
	return res.StatusCode, b, nil
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/api/" + url.PathEscape(c.country) + "/" + path
	return &u
}

func (c *Client) sessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setSessionToken(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
}

// blockedErr maps the bridge's anti-automation responses to *BlockedError.
func blockedErr(status int, body []byte) error {
	if status != http.StatusForbidden && status != http.StatusTooManyRequests {
		return nil
	}
	msg := message(body)
	if msg == "" {
		msg = "the platform blocked automated access, try again later"
	}
	return &booking.BlockedError{Message: msg}
}

func message(body []byte) string {
	var r statusResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return ""
	}
	return r.Message
}

func httpErr(op string, status int, body []byte) error {
	if msg := message(body); msg != "" {
		return fmt.Errorf("remote: %s failed: %s (status=%d)", op, msg, status)
	}
	return fmt.Errorf("remote: %s failed (status=%d)", op, status)
}

func motiveCodes(ms []booking.Motive) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Code)
	}
	return out
}
