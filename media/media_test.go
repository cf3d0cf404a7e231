package media

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rexpump/media-upload-server-public/metastore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "media-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	meta, err := metastore.Open(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	return NewStore(meta)
}

func sampleMedia(id, hash string) Media {
	now := time.Now().UTC().Truncate(time.Second)
	return Media{
		ID: id, OriginalFilename: "cat.png", OriginalMimeType: "image/png",
		OptimizedMimeType: "image/webp", MediaType: TypeImage,
		OriginalSize: 1024, OptimizedSize: 512, Width: 64, Height: 64,
		ContentHash: hash, HasOriginal: true, CreatedAt: now, LastAccessedAt: now,
	}
}

func TestInsertGetFindByHash(t *testing.T) {
	store := newTestStore(t)
	m := sampleMedia("id-1", "hash-1")

	require.NoError(t, store.Insert(m))

	got, err := store.Get("id-1")
	require.NoError(t, err)
	require.Equal(t, m.ContentHash, got.ContentHash)

	found, ok, err := store.FindByHash("hash-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "id-1", found.ID)

	_, ok, err = store.FindByHash("no-such-hash")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteRemovesHashIndex(t *testing.T) {
	store := newTestStore(t)
	m := sampleMedia("id-2", "hash-2")
	require.NoError(t, store.Insert(m))

	require.NoError(t, store.Delete("id-2"))

	_, err := store.Get("id-2")
	require.Error(t, err)
	_, ok, err := store.FindByHash("hash-2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Delete("id-2"))
}

func TestTouchLastAccessed(t *testing.T) {
	store := newTestStore(t)
	m := sampleMedia("id-3", "hash-3")
	require.NoError(t, store.Insert(m))

	later := m.LastAccessedAt.Add(time.Hour)
	require.NoError(t, store.TouchLastAccessed("id-3", later))

	got, err := store.Get("id-3")
	require.NoError(t, err)
	require.True(t, got.LastAccessedAt.Equal(later))
}

func TestCount(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Insert(sampleMedia("id-4", "hash-4")))
	require.NoError(t, store.Insert(sampleMedia("id-5", "hash-5")))

	n, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestStorageFilenames(t *testing.T) {
	m := sampleMedia("id-6", "hash-6")
	require.Equal(t, "id-6.png", m.OriginalStorageFilename())
	require.Equal(t, "id-6.webp", m.OptimizedStorageFilename())
}
