package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const (
	sealName   = "vaxsched_session"
	sealMaxAge = 30 * 24 * time.Hour
)

// DeriveKeys expands a passphrase into a 64-byte HMAC key and a 32-byte
// AES key.
func DeriveKeys(secret string) (hashKey, blockKey []byte, err error) {
	if secret == "" {
		return nil, nil, errors.New("session: empty secret")
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("vaxsched session state v1"))
	hashKey = make([]byte, 64)
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(r, hashKey); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(r, blockKey); err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}

// Sealed authenticates and encrypts the blob before handing it to the
// underlying store. Sealed blobs older than 30 days fail to open.
type Sealed struct {
	inner Store
	sc    *securecookie.SecureCookie
}

func NewSealed(inner Store, hashKey, blockKey []byte) *Sealed {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.NopEncoder{})
	sc.MaxAge(int(sealMaxAge.Seconds()))
	sc.MaxLength(0)
	return &Sealed{inner: inner, sc: sc}
}

func (s *Sealed) Load(ctx context.Context) ([]byte, error) {
	raw, err := s.inner.Load(ctx)
	if err != nil || raw == nil {
		return nil, err
	}
	var blob []byte
	if err := s.sc.Decode(sealName, string(raw), &blob); err != nil {
		return nil, fmt.Errorf("session: unseal: %w", err)
	}
	return blob, nil
}

func (s *Sealed) Save(ctx context.Context, blob []byte) error {
	if len(blob) == 0 {
		return ErrEmpty
	}
	encoded, err := s.sc.Encode(sealName, blob)
	if err != nil {
		return fmt.Errorf("session: seal: %w", err)
	}
	return s.inner.Save(ctx, []byte(encoded))
}

func (s *Sealed) Clear(ctx context.Context) error { return s.inner.Clear(ctx) }
