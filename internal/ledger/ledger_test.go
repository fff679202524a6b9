package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLedgerMissingIsNeverRestarted(t *testing.T) {
	l := NewFileLedger(filepath.Join(t.TempDir(), "restart-stamp"))

	got, ok, err := l.LastRestart(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, got.IsZero())
}

func TestFileLedgerRecordThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart-stamp")
	l := NewFileLedger(path)
	stamp := time.Date(2026, 7, 10, 1, 10, 0, 0, time.UTC)

	require.NoError(t, l.RecordRestart(context.Background(), stamp))

	got, ok, err := l.LastRestart(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, stamp.Equal(got), "got %v want %v", got, stamp)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-10T01:10:00Z\n", string(content))
}

func TestFileLedgerOverwrites(t *testing.T) {
	l := NewFileLedger(filepath.Join(t.TempDir(), "restart-stamp"))
	first := time.Date(2026, 7, 9, 1, 30, 0, 0, time.UTC)
	second := time.Date(2026, 7, 10, 2, 0, 0, 0, time.UTC)

	require.NoError(t, l.RecordRestart(context.Background(), first))
	require.NoError(t, l.RecordRestart(context.Background(), second))

	got, ok, err := l.LastRestart(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, second.Equal(got))
}

func TestFileLedgerUnreadable(t *testing.T) {
	dir := t.TempDir()

	t.Run("path is a directory", func(t *testing.T) {
		_, _, err := NewFileLedger(dir).LastRestart(context.Background())
		assert.True(t, errors.Is(err, ErrUnreadable), "got %v", err)
	})

	t.Run("parent is a file", func(t *testing.T) {
		parent := filepath.Join(dir, "not-a-dir")
		require.NoError(t, os.WriteFile(parent, nil, 0o644))

		_, ok, err := NewFileLedger(filepath.Join(parent, "restart-stamp")).LastRestart(context.Background())
		assert.False(t, ok)
		assert.True(t, errors.Is(err, ErrUnreadable), "got %v", err)
	})
}

// fakeRedis implements the two commands the ledger issues.
type fakeRedis struct {
	redis.Cmdable
	values map[string]string
	getErr error
	setErr error
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.values[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func TestRedisLedger(t *testing.T) {
	ctx := context.Background()
	fake := &fakeRedis{values: map[string]string{}}
	l := NewRedisLedger(fake, "kf2")

	assert.Equal(t, "idlereboot:last_restart:kf2", l.Key())

	_, ok, err := l.LastRestart(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	stamp := time.Date(2026, 7, 10, 1, 10, 0, 123, time.FixedZone("EDT", -4*3600))
	require.NoError(t, l.RecordRestart(ctx, stamp))
	assert.Equal(t, "2026-07-10T05:10:00.000000123Z", fake.values[l.Key()])

	got, ok, err := l.LastRestart(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, stamp.Equal(got))
}

func TestRedisLedgerErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("connection error is unreadable", func(t *testing.T) {
		l := NewRedisLedger(&fakeRedis{getErr: errors.New("dial tcp: refused")}, "kf2")
		_, _, err := l.LastRestart(ctx)
		assert.True(t, errors.Is(err, ErrUnreadable), "got %v", err)
	})

	t.Run("garbage value is unreadable", func(t *testing.T) {
		fake := &fakeRedis{values: map[string]string{LastRestartKey("kf2"): "yesterday"}}
		_, _, err := NewRedisLedger(fake, "kf2").LastRestart(ctx)
		assert.True(t, errors.Is(err, ErrUnreadable), "got %v", err)
	})

	t.Run("write error", func(t *testing.T) {
		l := NewRedisLedger(&fakeRedis{setErr: errors.New("READONLY")}, "kf2")
		assert.Error(t, l.RecordRestart(ctx, time.Now()))
	})
}
