package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/vaxsched/internal/domain/booking"
	"github.com/example/vaxsched/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultCenterDelay = 1 * time.Second
	DefaultSweepDelay  = 5 * time.Second
)

// ErrSearchExhausted is returned when MaxDuration elapses without a match.
var ErrSearchExhausted = errors.New("search time limit reached without finding a slot")

// Finder is the part of the remote client the scheduler needs.
type Finder interface {
	ListCenters(ctx context.Context, cities []string, motives []booking.Motive) ([]booking.Center, error)
	FindAppointments(ctx context.Context, center booking.Center, motives []booking.Motive, window booking.Window, patient booking.Patient) ([]booking.Appointment, error)
}

type Query struct {
	Cities  []string
	Motives []booking.Motive
	Window  booking.Window
	Patient booking.Patient
}

type EventKind int

const (
	EventSweep EventKind = iota + 1
	EventChecking
	EventNotFound
	EventFound
)

// Event is reported to the Observer, in order, from the Run goroutine.
type Event struct {
	Kind   EventKind
	Sweep  int
	Center booking.Center
}

type Observer func(Event)

// Scheduler sweeps the region's centers until one offers a slot inside
// the window. It has no attempt limit unless MaxDuration is set.
type Scheduler struct {
	Client Finder

	CenterDelay time.Duration
	SweepDelay  time.Duration
	MaxDuration time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer select.
	Sleep   func(ctx context.Context, d time.Duration) error
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.SearchMetrics
}

// Run blocks until a slot is found, ctx is cancelled, the platform blocks
// us, or MaxDuration elapses.
func (s *Scheduler) Run(ctx context.Context, q Query, observe Observer) (booking.Appointment, error) {
	if s.Client == nil {
		return booking.Appointment{}, fmt.Errorf("discovery: client is nil")
	}
	if err := q.Window.Validate(); err != nil {
		return booking.Appointment{}, fmt.Errorf("discovery: %w", err)
	}
	if observe == nil {
		observe = func(Event) {}
	}
	log := s.logger()
	now := s.now()
	deadline := time.Time{}
	if s.MaxDuration > 0 {
		deadline = now().Add(s.MaxDuration)
	}

	for sweep := 1; ; sweep++ {
		if err := ctx.Err(); err != nil {
			return booking.Appointment{}, err
		}
		if !deadline.IsZero() && !now().Before(deadline) {
			return booking.Appointment{}, ErrSearchExhausted
		}

		s.Metrics.ObserveSweep()
		observe(Event{Kind: EventSweep, Sweep: sweep})

		appt, found, err := s.sweep(ctx, sweep, q, observe)
		if err != nil {
			return booking.Appointment{}, err
		}
		if found {
			return appt, nil
		}

		log.Debug("sweep finished without a slot", zap.Int("sweep", sweep), zap.Duration("pause", s.sweepDelay()))
		if err := s.sleep(ctx, s.sweepDelay()); err != nil {
			return booking.Appointment{}, err
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, sweep int, q Query, observe Observer) (booking.Appointment, bool, error) {
	log := s.logger()

	centers, err := s.Client.ListCenters(ctx, q.Cities, q.Motives)
	if err != nil {
		if fatal := fatalErr(ctx, err); fatal != nil {
			return booking.Appointment{}, false, fatal
		}
		log.Warn("listing centers failed, retrying next sweep", zap.Int("sweep", sweep), zap.Error(err))
		return booking.Appointment{}, false, nil
	}

	for _, c := range centers {
		if err := ctx.Err(); err != nil {
			return booking.Appointment{}, false, err
		}
		observe(Event{Kind: EventChecking, Sweep: sweep, Center: c})

		appts, err := s.Client.FindAppointments(ctx, c, q.Motives, q.Window, q.Patient)
		if err != nil {
			if fatal := fatalErr(ctx, err); fatal != nil {
				if errors.Is(fatal, booking.ErrBlocked) {
					s.Metrics.ObserveCenterQuery("blocked")
				}
				return booking.Appointment{}, false, fatal
			}
			s.Metrics.ObserveCenterQuery("error")
			log.Warn("appointment query failed", zap.String("center", c.Name), zap.Error(err))
			appts = nil
		}

		for _, a := range appts {
			if narrowed, ok := a.InWindow(q.Window); ok {
				s.Metrics.ObserveCenterQuery("found")
				observe(Event{Kind: EventFound, Sweep: sweep, Center: c})
				log.Info("slot found",
					zap.String("center", c.Name),
					zap.String("city", c.City),
					zap.Time("first_slot", narrowed.Slots[0]),
					zap.Int("sweep", sweep))
				return narrowed, true, nil
			}
		}

		if err == nil {
			s.Metrics.ObserveCenterQuery("not_found")
		}
		observe(Event{Kind: EventNotFound, Sweep: sweep, Center: c})
		if err := s.sleep(ctx, s.centerDelay()); err != nil {
			return booking.Appointment{}, false, err
		}
	}
	return booking.Appointment{}, false, nil
}

// fatalErr returns the error that must stop the loop, or nil when err is
// transient.
func fatalErr(ctx context.Context, err error) error {
	if errors.Is(err, booking.ErrBlocked) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Scheduler) centerDelay() time.Duration {
	if s.CenterDelay > 0 {
		return s.CenterDelay
	}
	return DefaultCenterDelay
}

func (s *Scheduler) sweepDelay() time.Duration {
	if s.SweepDelay > 0 {
		return s.SweepDelay
	}
	return DefaultSweepDelay
}

func (s *Scheduler) now() func() time.Time {
	if s.Now != nil {
		return s.Now
	}
	return time.Now
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
