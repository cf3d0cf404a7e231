package metastore

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "metastore-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetPutDelete(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.Get(NamespaceMedia, []byte("abc"))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Put(NamespaceMedia, []byte("abc"), []byte("hello")))

	val, found, err := s.Get(NamespaceMedia, []byte("abc"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello", string(val))

	require.NoError(t, s.Delete(NamespaceMedia, []byte("abc")))
	_, found, err = s.Get(NamespaceMedia, []byte("abc"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestBatchWriteAtomicAcrossNamespaces(t *testing.T) {
	s := openTestStore(t)

	err := s.BatchWrite([]Mutation{
		Set(NamespaceMedia, []byte("id1"), []byte("media-record")),
		Set(NamespaceHashIndex, []byte("hash1"), []byte("id1")),
	})
	require.NoError(t, err)

	v1, ok, err := s.Get(NamespaceMedia, []byte("id1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "media-record", string(v1))

	v2, ok, err := s.Get(NamespaceHashIndex, []byte("hash1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "id1", string(v2))
}

func TestScanOrderedByKey(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(NamespaceUploadSessions, []byte(id), []byte(id)))
	}

	var seen []string
	err := s.Scan(NamespaceUploadSessions, nil, func(e Entry) (bool, error) {
		seen = append(seen, string(e.Key))
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestScanEarlyStop(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(NamespaceUploadSessions, []byte(id), []byte(id)))
	}

	var seen []string
	err := s.Scan(NamespaceUploadSessions, nil, func(e Entry) (bool, error) {
		seen = append(seen, string(e.Key))
		return string(e.Key) != "b", nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, seen)
}
