package blobstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "blobstore-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := New(dir, 2)
	require.NoError(t, err)
	return s
}

func TestStageAppendReadScratch(t *testing.T) {
	s := newTestStore(t)

	path, err := s.StageScratch("session1")
	require.NoError(t, err)

	require.NoError(t, s.AppendAt(path, 0, []byte("hello")))
	require.NoError(t, s.AppendAt(path, 5, []byte("world")))

	size, err := s.ScratchSize(path)
	require.NoError(t, err)
	require.EqualValues(t, 10, size)

	data, err := s.ReadScratch(path)
	require.NoError(t, err)
	require.Equal(t, "helloworld", string(data))

	require.NoError(t, s.DeleteScratch("session1"))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestPublishIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	id := "abcd1234-0000-0000-0000-000000000000"

	err := s.Publish(id, id+".jpg", id+".webp", []byte("original"), []byte("optimized"), true)
	require.NoError(t, err)
	require.True(t, s.OriginalExists(id, id+".jpg"))
	require.True(t, s.OptimizedExists(id, id+".webp"))

	// republishing with different bytes must not change the file (idempotent no-op)
	err = s.Publish(id, id+".jpg", id+".webp", []byte("different-bytes"), []byte("different"), true)
	require.NoError(t, err)

	rc, _, err := ServePath(s.OriginalPath(id, id+".jpg"))
	require.NoError(t, err)
	defer rc.Close()
	data := make([]byte, 8)
	n, _ := rc.Read(data)
	require.Equal(t, "original", string(data[:n]))
}

func TestDeleteIgnoresMissing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Delete("nope", "nope.jpg", "nope.webp"))
}

func TestCleanupOrphanedScratch(t *testing.T) {
	s := newTestStore(t)

	_, err := s.StageScratch("orphan")
	require.NoError(t, err)
	_, err = s.StageScratch("live")
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.tempRoot, "orphan"), old, old))

	cleaned, err := s.CleanupOrphanedScratch(time.Hour, map[string]bool{"live": true})
	require.NoError(t, err)
	require.Equal(t, 1, cleaned)

	_, err = os.Stat(filepath.Join(s.tempRoot, "orphan"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.tempRoot, "live"))
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	id := "ffffffff-0000-0000-0000-000000000000"
	require.NoError(t, s.Publish(id, id+".jpg", id+".webp", []byte("12345"), []byte("123"), true))

	stats, err := s.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 5, stats.OriginalsSize)
	require.EqualValues(t, 3, stats.OptimizedSize)
	require.Equal(t, 1, stats.OriginalsCount)
	require.Equal(t, 1, stats.OptimizedCount)
}
