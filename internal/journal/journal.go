package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/vaxsched/internal/db"
	"github.com/google/uuid"
)

type Status string

const (
	StatusSearching Status = "searching"
	StatusBooked    Status = "booked"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
	StatusAbandoned Status = "abandoned"
)

// Run is one workflow run: a search that ends booked, blocked, failed or
// abandoned.
type Run struct {
	ID          uuid.UUID
	Country     string
	Cities      []string
	WindowStart time.Time
	WindowEnd   time.Time
	PatientID   string

	Status     Status
	CenterName *string
	SlotAt     *time.Time
	LastError  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Attempt struct {
	CenterName string
	SlotAt     time.Time
	Success    bool
	Detail     string
}

func (r Run) Validate() error {
	if r.Country == "" {
		return fmt.Errorf("country required")
	}
	if r.WindowStart.IsZero() || r.WindowEnd.IsZero() {
		return fmt.Errorf("window required")
	}
	if r.WindowEnd.Before(r.WindowStart) {
		return fmt.Errorf("window_end must not be before window_start")
	}
	return nil
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// Start inserts r with status searching and returns its id.
func (r *Repo) Start(ctx context.Context, run Run) (uuid.UUID, error) {
	if err := run.Validate(); err != nil {
		return uuid.Nil, err
	}
	id := run.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	err := r.db.Exec(ctx, `
INSERT INTO search_runs(id,country,cities,window_start,window_end,patient_id,status)
VALUES ($1,$2,$3,$4,$5,$6,'searching')`,
		id, run.Country, joinCities(run.Cities), run.WindowStart, run.WindowEnd, run.PatientID,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("journal: start run: %w", err)
	}
	return id, nil
}

// RecordAttempt logs one booking attempt; a successful one also marks the
// run booked.
func (r *Repo) RecordAttempt(ctx context.Context, runID uuid.UUID, a Attempt) error {
	if err := r.db.Exec(ctx, `INSERT INTO booking_attempts(run_id, center_name, slot_at, success, detail) VALUES ($1,$2,$3,$4,$5)`,
		runID, a.CenterName, a.SlotAt, a.Success, a.Detail); err != nil {
		return fmt.Errorf("journal: record attempt: %w", err)
	}
	if a.Success {
		return r.db.Exec(ctx, `UPDATE search_runs SET status='booked', center_name=$2, slot_at=$3, last_error=NULL, updated_at=now() WHERE id=$1`,
			runID, a.CenterName, a.SlotAt)
	}
	return r.db.Exec(ctx, `UPDATE search_runs SET last_error=$2, updated_at=now() WHERE id=$1`, runID, a.Detail)
}

func (r *Repo) Finish(ctx context.Context, runID uuid.UUID, status Status, lastErr *string) error {
	if err := r.db.Exec(ctx, `UPDATE search_runs SET status=$2, last_error=COALESCE($3, last_error), updated_at=now() WHERE id=$1`,
		runID, string(status), lastErr); err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	return nil
}

const runColumns = `id,country,cities,window_start,window_end,patient_id,status,center_name,slot_at,last_error,created_at,updated_at`

func (r *Repo) List(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `SELECT `+runColumns+` FROM search_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	run, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM search_runs WHERE id=$1`, id))
	if err != nil {
		return Run{}, db.WrapNotFound(err)
	}
	return run, nil
}

func scanRun(row db.Row) (Run, error) {
	var run Run
	var cities, status string
	if err := row.Scan(&run.ID, &run.Country, &cities, &run.WindowStart, &run.WindowEnd, &run.PatientID,
		&status, &run.CenterName, &run.SlotAt, &run.LastError, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return Run{}, err
	}
	run.Cities = splitCities(cities)
	run.Status = Status(status)
	return run, nil
}

func joinCities(cities []string) string {
	var cleaned []string
	for _, c := range cities {
		c = strings.TrimSpace(c)
		if c != "" {
			cleaned = append(cleaned, c)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitCities(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
