package session

import (
	"context"
	"fmt"

	"github.com/example/vaxsched/internal/db"
)

// PGStore keeps the blob in the session_state table (see migrations).
type PGStore struct {
	db *db.DB
}

func NewPGStore(d *db.DB) *PGStore { return &PGStore{db: d} }

func (s *PGStore) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(ctx, `SELECT blob FROM session_state WHERE key=$1`, Key).Scan(&blob)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: postgres load: %w", err)
	}
	return blob, nil
}

func (s *PGStore) Save(ctx context.Context, blob []byte) error {
	if len(blob) == 0 {
		return ErrEmpty
	}
	err := s.db.Exec(ctx, `
INSERT INTO session_state(key, blob, updated_at) VALUES ($1,$2,now())
ON CONFLICT (key) DO UPDATE SET blob=EXCLUDED.blob, updated_at=now()`, Key, blob)
	if err != nil {
		return fmt.Errorf("session: postgres save: %w", err)
	}
	return nil
}

func (s *PGStore) Clear(ctx context.Context) error {
	if err := s.db.Exec(ctx, `DELETE FROM session_state WHERE key=$1`, Key); err != nil {
		return fmt.Errorf("session: postgres clear: %w", err)
	}
	return nil
}
