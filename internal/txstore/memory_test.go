package txstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, opts Options) Store {
		return NewMemoryStore(opts)
	}, func(s Store, d time.Duration) {
		m := s.(*MemoryStore)
		prev := m.now
		m.now = func() time.Time { return prev().Add(d) }
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.TTL = time.Hour
	opts.SlotTTL = time.Minute
	opts.MaxConcurrentUploads = 1

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(opts)
	s.now = func() time.Time { return now }

	_, err := s.Create(ctx, "tx", "h", 20_000_000, ChunkedUpload("p"))
	require.NoError(t, err)

	ok, err := s.TryAcquireSlot(ctx, "tx")
	require.NoError(t, err)
	require.True(t, ok)

	// 崩溃的客户端没有释放槽位，过期后自动恢复
	now = now.Add(2 * time.Minute)
	ok, err = s.TryAcquireSlot(ctx, "tx")
	require.NoError(t, err)
	assert.True(t, ok)

	// 写分片会续期事务
	now = now.Add(50 * time.Minute)
	require.NoError(t, s.SetChunk(ctx, "tx", 0))
	now = now.Add(50 * time.Minute)
	_, err = s.Get(ctx, "tx")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = s.Get(ctx, "tx")
	assert.ErrorIs(t, err, ErrNotFound)
}
