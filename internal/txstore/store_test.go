package txstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-terrace/blob-service/internal/sampler"
)

const testChunk = 5 << 20

func testOptions() Options {
	opts := DefaultOptions()
	opts.ChunkSize = testChunk
	return opts
}

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		size uint64
		want uint64
	}{
		{0, 0},
		{1, 1},
		{testChunk - 1, 1},
		{testChunk, 1},
		{testChunk + 1, 2},
		{20_000_000, 4},
		{4 * testChunk, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalChunks(tt.size, testChunk), "size %d", tt.size)
	}
}

func TestMetaCodecRoundTrip(t *testing.T) {
	meta := newMeta(testOptions(), "tx", "ab", 12, VerifyRanges([]sampler.VerifyRange{{Start: 1, End: 5}}), time.Now())

	data, err := encodeMeta(meta)
	require.NoError(t, err)
	again, err := encodeMeta(meta)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")

	got, err := decodeMeta(data)
	require.NoError(t, err)
	assert.True(t, meta.CreatedAt.Equal(got.CreatedAt))
	got.CreatedAt = meta.CreatedAt
	assert.Equal(t, meta, got)
}

// runStoreSuite 所有后端共用的契约测试。advance 让后端的时钟前进 d
func runStoreSuite(t *testing.T, newStore func(t *testing.T, opts Options) Store, advance func(s Store, d time.Duration)) {
	ctx := context.Background()

	t.Run("chunks live as long as the transaction", func(t *testing.T) {
		opts := testOptions()
		opts.TTL = 3 * time.Second
		s := newStore(t, opts)
		id := uuid.NewString()
		_, err := s.Create(ctx, id, "h", 20_000_000, ChunkedUpload("p"))
		require.NoError(t, err)

		require.NoError(t, s.SetChunk(ctx, id, 0))
		advance(s, 2*time.Second)
		require.NoError(t, s.SetChunk(ctx, id, 1))
		// 已超过分片 0 写入时的 TTL，但事务刚被续期
		advance(s, 2*time.Second)

		_, err = s.Get(ctx, id)
		require.NoError(t, err)
		set, err := s.IsChunkSet(ctx, id, 0)
		require.NoError(t, err)
		assert.True(t, set)
		n, err := s.CountSetChunks(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)
		missing, err := s.MissingChunks(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []uint64{2, 3}, missing)

		advance(s, 2*time.Second)
		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		set, err = s.IsChunkSet(ctx, id, 0)
		require.NoError(t, err)
		assert.False(t, set)
	})

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t, testOptions())
		id := uuid.NewString()

		meta, err := s.Create(ctx, id, "hash", 20_000_000, ChunkedUpload("/tmp/x"))
		require.NoError(t, err)
		assert.Equal(t, uint64(4), meta.TotalChunks)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "hash", got.Hash)
		assert.Equal(t, uint64(20_000_000), got.Size)
		assert.Equal(t, uint64(4), got.TotalChunks)
		assert.Equal(t, ChunkedUpload("/tmp/x"), got.Mode)
	})

	t.Run("verify mode keeps ranges", func(t *testing.T) {
		s := newStore(t, testOptions())
		id := uuid.NewString()
		ranges := []sampler.VerifyRange{{Start: 0, End: 10}, {Start: 20, End: 30}}

		_, err := s.Create(ctx, id, "hash", 100, VerifyRanges(ranges))
		require.NoError(t, err)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ModeVerifyRanges, got.Mode.Kind)
		assert.Equal(t, ranges, got.Mode.Ranges)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := newStore(t, testOptions())
		_, err := s.Create(ctx, "same", "h", 1, WholeFileUpload("p"))
		require.NoError(t, err)
		_, err = s.Create(ctx, "same", "h", 1, WholeFileUpload("p"))
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("unknown id", func(t *testing.T) {
		s := newStore(t, testOptions())
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, _, err = s.FirstUnsetChunk(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.MissingChunks(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, s.SetChunk(ctx, "missing", 0), ErrNotFound)
		assert.NoError(t, s.Delete(ctx, "missing"))
	})

	t.Run("chunk bitmap", func(t *testing.T) {
		s := newStore(t, testOptions())
		id := uuid.NewString()
		_, err := s.Create(ctx, id, "h", 20_000_000, ChunkedUpload("p"))
		require.NoError(t, err)

		first, ok, err := s.FirstUnsetChunk(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(0), first)

		require.NoError(t, s.SetChunk(ctx, id, 0))
		require.NoError(t, s.SetChunk(ctx, id, 2))
		// 重复标记是幂等的
		require.NoError(t, s.SetChunk(ctx, id, 2))

		set, err := s.IsChunkSet(ctx, id, 2)
		require.NoError(t, err)
		assert.True(t, set)
		set, err = s.IsChunkSet(ctx, id, 1)
		require.NoError(t, err)
		assert.False(t, set)

		n, err := s.CountSetChunks(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)

		first, ok, err = s.FirstUnsetChunk(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(1), first)

		missing, err := s.MissingChunks(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 3}, missing)

		require.NoError(t, s.SetChunk(ctx, id, 1))
		require.NoError(t, s.SetChunk(ctx, id, 3))

		_, ok, err = s.FirstUnsetChunk(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		missing, err = s.MissingChunks(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("zero size has nothing missing", func(t *testing.T) {
		s := newStore(t, testOptions())
		id := uuid.NewString()
		meta, err := s.Create(ctx, id, "h", 0, WholeFileUpload("p"))
		require.NoError(t, err)
		assert.Equal(t, uint64(0), meta.TotalChunks)

		_, ok, err := s.FirstUnsetChunk(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete removes everything", func(t *testing.T) {
		s := newStore(t, testOptions())
		id := uuid.NewString()
		_, err := s.Create(ctx, id, "h", 20_000_000, ChunkedUpload("p"))
		require.NoError(t, err)
		require.NoError(t, s.SetChunk(ctx, id, 0))
		ok, err := s.TryAcquireSlot(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.Delete(ctx, id))

		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		n, err := s.CountSetChunks(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), n)
		assert.ErrorIs(t, s.SetChunk(ctx, id, 1), ErrNotFound)
	})

	t.Run("take is claimed once", func(t *testing.T) {
		s := newStore(t, testOptions())
		id := uuid.NewString()
		_, err := s.Create(ctx, id, "h", 2000, VerifyRanges([]sampler.VerifyRange{{Start: 0, End: 2000}}))
		require.NoError(t, err)

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			claims int
		)
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				meta, err := s.Take(ctx, id)
				if err != nil {
					assert.ErrorIs(t, err, ErrNotFound)
					return
				}
				assert.Equal(t, id, meta.ID)
				mu.Lock()
				claims++
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, claims)
		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("slots are bounded", func(t *testing.T) {
		opts := testOptions()
		opts.MaxConcurrentUploads = 3
		s := newStore(t, opts)
		id := uuid.NewString()
		_, err := s.Create(ctx, id, "h", 20_000_000, ChunkedUpload("p"))
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			ok, err := s.TryAcquireSlot(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok, "acquire %d", i)
		}
		ok, err := s.TryAcquireSlot(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		// 被拒绝的获取不占用槽位
		require.NoError(t, s.ReleaseSlot(ctx, id))
		ok, err = s.TryAcquireSlot(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.TryAcquireSlot(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release clamps at zero", func(t *testing.T) {
		opts := testOptions()
		opts.MaxConcurrentUploads = 1
		s := newStore(t, opts)
		id := uuid.NewString()
		_, err := s.Create(ctx, id, "h", 20_000_000, ChunkedUpload("p"))
		require.NoError(t, err)

		require.NoError(t, s.ReleaseSlot(ctx, id))
		require.NoError(t, s.ReleaseSlot(ctx, id))

		ok, err := s.TryAcquireSlot(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.TryAcquireSlot(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, "double release must not create extra capacity")
	})

	t.Run("concurrent acquire never exceeds limit", func(t *testing.T) {
		opts := testOptions()
		opts.MaxConcurrentUploads = 5
		s := newStore(t, opts)
		id := uuid.NewString()
		_, err := s.Create(ctx, id, "h", 20_000_000, ChunkedUpload("p"))
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			granted  int
			rejected int
		)
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.TryAcquireSlot(ctx, id)
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				if ok {
					granted++
				} else {
					rejected++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, granted)
		assert.Equal(t, 7, rejected)
	})
}
