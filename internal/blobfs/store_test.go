package blobfs

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-terrace/blob-service/internal/digest"
	"terminal-terrace/blob-service/internal/sampler"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(afero.NewMemMapFs(), "/data", 2)
	require.NoError(t, err)
	return s
}

func newOsStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(afero.NewOsFs(), t.TempDir(), 2)
	require.NoError(t, err)
	return s
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestContentPath(t *testing.T) {
	hash := "abcdef" + strings.Repeat("0", 58)
	assert.Equal(t, "blobs/ab/cd/"+hash+"-1024", ContentPath(hash, 1024))
}

func TestNewCreatesLayout(t *testing.T) {
	s := newMemStore(t)
	for _, dir := range []string{"/data/tmp", "/data/blobs"} {
		ok, err := afero.DirExists(s.Fs(), dir)
		require.NoError(t, err)
		assert.True(t, ok, dir)
	}
	assert.Equal(t, "/data/tmp/tx-1", s.TempPath("tx-1"))
}

func TestChunkedWriteAndHash(t *testing.T) {
	for name, newStore := range map[string]func(*testing.T) *Store{
		"memmap": newMemStore,
		"os":     newOsStore,
	} {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			data := payload(10_000)
			p := s.TempPath("tx")

			require.NoError(t, s.Preallocate(p, uint64(len(data))))
			// 乱序写入
			require.NoError(t, s.WriteAt(p, 4096, data[4096:8192]))
			require.NoError(t, s.WriteAt(p, 8192, data[8192:]))
			require.NoError(t, s.WriteAt(p, 0, data[:4096]))

			sum, err := s.HashFile(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, digest.Sum(data), sum)
		})
	}
}

func TestHashFileEmpty(t *testing.T) {
	s := newOsStore(t)
	p := s.TempPath("empty")
	require.NoError(t, s.Preallocate(p, 0))

	sum, err := s.HashFile(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, digest.Sum(nil), sum)
}

func TestHashFileCancelled(t *testing.T) {
	s, err := New(afero.NewMemMapFs(), "/data", 1)
	require.NoError(t, err)
	p := s.TempPath("tx")
	require.NoError(t, s.Preallocate(p, 1))

	// 占满信号量后，已取消的 ctx 拿不到哈希槽
	require.NoError(t, s.hashSem.Acquire(context.Background(), 1))
	defer s.hashSem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.HashFile(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteAtAfterRemove(t *testing.T) {
	s := newMemStore(t)
	p := s.TempPath("tx")
	require.NoError(t, s.Preallocate(p, 10))
	require.NoError(t, s.Remove(p))
	require.NoError(t, s.Remove(p), "removing twice is fine")

	err := s.WriteAt(p, 0, []byte("x"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestHashRanges(t *testing.T) {
	s := newMemStore(t)
	data := payload(5000)
	p := s.TempPath("tx")
	require.NoError(t, s.Preallocate(p, uint64(len(data))))
	require.NoError(t, s.WriteFile(p, data))

	ranges := []sampler.VerifyRange{{Start: 0, End: 100}, {Start: 2000, End: 2500}, {Start: 4900, End: 5000}}
	var concat []byte
	for _, r := range ranges {
		concat = append(concat, data[r.Start:r.End]...)
	}

	sum, err := s.HashRanges(p, ranges)
	require.NoError(t, err)
	assert.Equal(t, digest.Sum(concat), sum)

	_, err = s.HashRanges(p, []sampler.VerifyRange{{Start: 4000, End: 6000}})
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestPromote(t *testing.T) {
	s := newMemStore(t)
	data := []byte("hello blob")
	hash := digest.SumHex(data)
	p := s.TempPath("tx")
	require.NoError(t, s.Preallocate(p, uint64(len(data))))
	require.NoError(t, s.WriteFile(p, data))

	rel, err := s.Promote(p, hash, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, ContentPath(hash, uint64(len(data))), rel)

	exists, err := afero.Exists(s.Fs(), p)
	require.NoError(t, err)
	assert.False(t, exists, "temp file is moved, not copied")

	f, err := s.Open(rel)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, path.Join("/data", rel), s.Abs(rel))
}

func TestSniffMime(t *testing.T) {
	s := newMemStore(t)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	p := s.TempPath("img")
	require.NoError(t, s.Preallocate(p, uint64(len(png))))
	require.NoError(t, s.WriteFile(p, png))

	mime, err := s.SniffMime(p)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
}

func TestListTemp(t *testing.T) {
	s := newMemStore(t)
	require.NoError(t, s.Preallocate(s.TempPath("a"), 3))
	require.NoError(t, s.Preallocate(s.TempPath("b"), 0))

	files, err := s.ListTemp()
	require.NoError(t, err)
	require.Len(t, files, 2)

	ids := []string{files[0].TxID, files[1].TxID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	for _, f := range files {
		assert.Equal(t, s.TempPath(f.TxID), f.Path)
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	err := io.ErrClosedPipe
	assert.Equal(t, err, classify(err))
}
