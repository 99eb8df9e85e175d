package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/example/vaxsched/internal/domain/booking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "fr", WithRateLimit(0, 0))
	require.NoError(t, err)
	return c
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("localhost", "fr")
	assert.Error(t, err)
}

func TestLoginOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    booking.LoginOutcome
		wantErr error
	}{
		{"authenticated", http.StatusOK, `{"status":"authenticated"}`, booking.LoginAuthenticated, nil},
		{"otp", http.StatusOK, `{"status":"otp_required"}`, booking.LoginOTPRequired, nil},
		{"rejected", http.StatusUnauthorized, `{"message":"bad password"}`, 0, booking.ErrRejected},
		{"blocked", http.StatusForbidden, `{"message":"captcha"}`, 0, booking.ErrBlocked},
		{"throttled", http.StatusTooManyRequests, ``, 0, booking.ErrBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/fr/login", r.URL.Path)
				assert.Equal(t, http.MethodPost, r.Method)
				var body loginRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "me@example.com", body.Identifier)
				assert.Equal(t, "pw", body.Secret)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))

			got, err := c.Login(context.Background(), booking.Credentials{Identifier: "me@example.com", Secret: "pw"}, nil)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBlockedMessageSurfaces(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Too many attempts"}`))
	}))
	_, err := c.ListPatients(context.Background())
	var blocked *booking.BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, "Too many attempts", blocked.Message)
}

func TestVerifyOTP(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["code"] == "123456" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	require.NoError(t, c.VerifyOTP(context.Background(), "123456"))
	assert.ErrorIs(t, c.VerifyOTP(context.Background(), "000000"), booking.ErrInvalidOTP)
}

func TestListCentersQuery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/fr/centers", r.URL.Path)
		assert.Equal(t, []string{"paris", "lyon"}, r.URL.Query()["city"])
		assert.Equal(t, []string{"pfizer_third"}, r.URL.Query()["motive"])
		_, _ = w.Write([]byte(`[{"id":"c1","name":"Centre A","city":"paris"}]`))
	}))
	got, err := c.ListCenters(context.Background(), []string{"paris", "lyon"}, []booking.Motive{{Code: "pfizer_third"}})
	require.NoError(t, err)
	assert.Equal(t, []booking.Center{{ID: "c1", Name: "Centre A", City: "paris"}}, got)
}

func TestFindAppointments(t *testing.T) {
	center := booking.Center{ID: "c1", Name: "Centre A", City: "paris"}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req appointmentsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "c1", req.CenterID)
		assert.Equal(t, "2021-12-01", req.Start)
		assert.Equal(t, "2021-12-31", req.End)
		assert.Equal(t, "p1", req.PatientID)
		_, _ = w.Write([]byte(`[{"vaccine":"Pfizer.*BioNTech","slots":["2021-12-02T10:00:00Z"],"address":"1 rue X"}]`))
	}))

	w, err := booking.NewWindow(
		time.Date(2021, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	got, err := c.FindAppointments(context.Background(), center, nil, w, booking.Patient{ID: "p1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, center, got[0].Center, "center is filled in when the bridge omits it")
	assert.Equal(t, "1 rue X", got[0].Address)
	require.Len(t, got[0].Slots, 1)
	assert.True(t, got[0].Slots[0].Equal(time.Date(2021, 12, 2, 10, 0, 0, 0, time.UTC)))
}

func TestFindAppointmentsNone(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	got, err := c.FindAppointments(context.Background(), booking.Center{ID: "c1"}, nil, booking.Window{}, booking.Patient{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBook(t *testing.T) {
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/fr/bookings", r.URL.Path)
		var req bookRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Answers["cov19"] != "Non" {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"slot taken"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	appt := booking.Appointment{Center: booking.Center{ID: "c1"}}
	require.NoError(t, c.Book(context.Background(), appt, booking.Patient{ID: "p1"}, booking.Answers{"cov19": "Non"}))

	err := c.Book(context.Background(), appt, booking.Patient{ID: "p1"}, booking.Answers{})
	require.ErrorIs(t, err, booking.ErrBookingFailed)
	assert.Contains(t, err.Error(), "slot taken")
	assert.Equal(t, 2, calls)
}

func TestSessionStateRoundTrip(t *testing.T) {
	var lastToken, lastCookie string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastToken = r.Header.Get(sessionHeader)
		if ck, err := r.Cookie("sid"); err == nil {
			lastCookie = ck.Value
		}
		if r.URL.Path == "/api/fr/login" && lastToken == "" {
			w.Header().Add("Set-Cookie", "sid=abc")
			w.Header().Set(sessionHeader, "tok-1")
		}
		_, _ = w.Write([]byte(`{"status":"authenticated"}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	first, err := New(srv.URL, "fr", WithRateLimit(0, 0))
	require.NoError(t, err)
	_, err = first.Login(context.Background(), booking.Credentials{Identifier: "a", Secret: "b"}, nil)
	require.NoError(t, err)

	blob, err := first.ExportSessionState(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(blob), "tok-1")
	assert.Contains(t, string(blob), `"path":"/api/fr"`)

	second, err := New(srv.URL, "fr", WithRateLimit(0, 0))
	require.NoError(t, err)
	_, err = second.Login(context.Background(), booking.Credentials{Identifier: "a", Secret: "b"}, blob)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", lastToken)
	assert.Equal(t, "abc", lastCookie)
}

func TestRejectedLoginDropsSession(t *testing.T) {
	var lastCookie string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastCookie = ""
		if ck, err := r.Cookie("sid"); err == nil {
			lastCookie = ck.Value
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	blob := []byte(`{"cookies":[{"name":"sid","value":"stale","path":"/api/fr"}],"token":"tok-old"}`)

	_, err := c.Login(context.Background(), booking.Credentials{Identifier: "a", Secret: "b"}, blob)
	require.ErrorIs(t, err, booking.ErrRejected)
	assert.Equal(t, "stale", lastCookie)

	state, err := c.ExportSessionState(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"cookies":null}`, string(state))

	_, err = c.Login(context.Background(), booking.Credentials{Identifier: "a", Secret: "c"}, nil)
	require.ErrorIs(t, err, booking.ErrRejected)
	assert.Empty(t, lastCookie)
}

func TestCookiePath(t *testing.T) {
	u, err := url.Parse("http://bridge/api/fr/login")
	require.NoError(t, err)
	assert.Equal(t, "/api/fr", cookiePath(u, &http.Cookie{Name: "a"}))
	assert.Equal(t, "/", cookiePath(u, &http.Cookie{Name: "a", Path: "/"}))
	assert.Equal(t, "/api", cookiePath(u, &http.Cookie{Name: "a", Path: "/api"}))

	root, err := url.Parse("http://bridge/login")
	require.NoError(t, err)
	assert.Equal(t, "/", cookiePath(root, &http.Cookie{Name: "a"}))
}

func TestLoginIgnoresGarbageState(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"authenticated"}`))
	}))
	got, err := c.Login(context.Background(), booking.Credentials{Identifier: "a", Secret: "b"}, []byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, booking.LoginAuthenticated, got)
}
