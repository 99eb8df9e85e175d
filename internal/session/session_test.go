package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/example/vaxsched/internal/db"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct{ blob []byte }

func (m *memStore) Load(context.Context) ([]byte, error) { return m.blob, nil }
func (m *memStore) Save(_ context.Context, b []byte) error { m.blob = b; return nil }
func (m *memStore) Clear(context.Context) error { m.blob = nil; return nil }

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	s := NewFileStore(dir)

	blob, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob, "first run has no session")

	require.NoError(t, s.Save(ctx, []byte(`{"cookies":[]}`)))
	blob, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"cookies":[]}`, string(blob))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.ErrorIs(t, s.Save(ctx, nil), ErrEmpty)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx), "clearing twice is fine")
	blob, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(rdb, "")

	blob, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, s.Save(ctx, []byte("opaque")))
	got, err := mr.Get("vaxsched:session:state")
	require.NoError(t, err)
	assert.Equal(t, "opaque", got)

	blob, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque"), blob)

	require.NoError(t, s.Clear(ctx))
	assert.False(t, mr.Exists("vaxsched:session:state"))
}

func TestPGStore(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewPGStore(db.New(mock))

	mock.ExpectQuery("SELECT blob FROM session_state").WithArgs(Key).WillReturnError(pgx.ErrNoRows)
	blob, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob)

	mock.ExpectExec("INSERT INTO session_state").WithArgs(Key, []byte("opaque")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Save(ctx, []byte("opaque")))

	mock.ExpectQuery("SELECT blob FROM session_state").WithArgs(Key).
		WillReturnRows(pgxmock.NewRows([]string{"blob"}).AddRow([]byte("opaque")))
	blob, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque"), blob)

	mock.ExpectExec("DELETE FROM session_state").WithArgs(Key).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, s.Clear(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSealedRoundTrip(t *testing.T) {
	ctx := context.Background()
	hashKey, blockKey, err := DeriveKeys("correct horse battery staple")
	require.NoError(t, err)
	assert.Len(t, hashKey, 64)
	assert.Len(t, blockKey, 32)

	inner := &memStore{}
	s := NewSealed(inner, hashKey, blockKey)

	require.NoError(t, s.Save(ctx, []byte(`{"token":"abc"}`)))
	assert.NotContains(t, string(inner.blob), "abc", "blob is encrypted at rest")

	blob, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"abc"}`, string(blob))

	other, otherBlock, err := DeriveKeys("another secret")
	require.NoError(t, err)
	_, err = NewSealed(inner, other, otherBlock).Load(ctx)
	assert.Error(t, err, "a different secret cannot open the blob")

	inner.blob = nil
	blob, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestDeriveKeysDeterministic(t *testing.T) {
	h1, b1, err := DeriveKeys("s3cret")
	require.NoError(t, err)
	h2, b2, err := DeriveKeys("s3cret")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, b1, b2)

	_, _, err = DeriveKeys("")
	assert.Error(t, err)
}
