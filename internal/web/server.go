// Package web serves the read-only status endpoints of a running booking
// session: health, prometheus metrics and the workflow's current view.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/example/vaxsched/internal/application/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Server struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// View returns the snapshot served on /status when set.
	View func() workflow.View
}

type statusData struct {
	State    string     `json:"state"`
	Country  string     `json:"country"`
	Cities   []string   `json:"cities"`
	From     string     `json:"from"`
	To       string     `json:"to"`
	Patient  string     `json:"patient,omitempty"`
	Sweep    int        `json:"sweep"`
	Status   []string   `json:"status"`
	Center   string     `json:"center,omitempty"`
	Slot     *time.Time `json:"slot,omitempty"`
	Message  string     `json:"message,omitempty"`
	RunID    string     `json:"run_id,omitempty"`
	Terminal bool       `json:"terminal"`
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	if s.View != nil {
		mux.HandleFunc("/status", s.handleStatus)
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v := s.View()
	data := statusData{
		State:    v.State.String(),
		Country:  v.CountryCode,
		Cities:   v.Cities,
		From:     v.Window.Start.Format("2006-01-02"),
		To:       v.Window.End.Format("2006-01-02"),
		Sweep:    v.Sweep,
		Message:  v.Message,
		Terminal: v.State.Terminal(),
	}
	if v.Patient != nil {
		data.Patient = v.Patient.DisplayName()
	}
	for _, line := range v.Status {
		if line != "" {
			data.Status = append(data.Status, line)
		}
	}
	if v.Appointment != nil {
		data.Center = v.Appointment.Center.Name
		if len(v.Appointment.Slots) > 0 {
			slot := v.Appointment.Slots[0]
			data.Slot = &slot
		}
	}
	if v.RunID != uuid.Nil {
		data.RunID = v.RunID.String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encode error: "+err.Error(), http.StatusInternalServerError)
	}
}

// Start serves h on addr until ctx is done.
func Start(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("status server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
