// Package session persists the remote platform's opaque session blob so a
// later run can skip the passcode step. A missing record is not an error:
// Load returns nil, nil.
package session

import (
	"context"
	"errors"
)

// Key is the single record key every backend stores the blob under.
const Key = "state"

var ErrEmpty = errors.New("session: refusing to save an empty blob")

type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
	Clear(ctx context.Context) error
}
