package serving

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rexpump/media-upload-server-public/blobstore"
	"github.com/rexpump/media-upload-server-public/media"
	"github.com/rexpump/media-upload-server-public/metastore"
)

func newTestHandler(t *testing.T) (*Handler, *media.Store, *blobstore.Store) {
	t.Helper()
	dir, err := os.MkdirTemp("", "serving-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	meta, err := metastore.Open(dir+"/db", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	medias := media.NewStore(meta)
	blobs, err := blobstore.New(dir+"/blobs", 2)
	require.NoError(t, err)

	return New(medias, blobs, time.Hour, zerolog.Nop()), medias, blobs
}

func seedMedia(t *testing.T, medias *media.Store, blobs *blobstore.Store, hasOriginal bool) media.Media {
	t.Helper()
	m := media.Media{
		ID: media.NewID(), OriginalFilename: "cat.png", OriginalMimeType: "image/png",
		OptimizedMimeType: "image/webp", MediaType: media.TypeImage,
		ContentHash: "deadbeef", HasOriginal: hasOriginal,
		CreatedAt: time.Now(), LastAccessedAt: time.Now(),
	}
	require.NoError(t, blobs.Publish(m.ID, m.OriginalStorageFilename(), m.OptimizedStorageFilename(),
		[]byte("original-bytes"), []byte("optimized-bytes"), hasOriginal))
	require.NoError(t, medias.Insert(m))
	return m
}

func TestServeOptimized(t *testing.T) {
	h, medias, blobs := newTestHandler(t)
	m := seedMedia(t, medias, blobs, true)

	req := httptest.NewRequest(http.MethodGet, "/m/"+m.ID, nil)
	w := httptest.NewRecorder()
	h.ServeOptimized(w, req, m.ID)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "optimized-bytes", w.Body.String())
	require.Equal(t, "image/webp", w.Header().Get("Content-Type"))
	require.Contains(t, w.Header().Get("Cache-Control"), "immutable")
}

func TestConditionalGetReturns304(t *testing.T) {
	h, medias, blobs := newTestHandler(t)
	m := seedMedia(t, medias, blobs, true)

	req := httptest.NewRequest(http.MethodGet, "/m/"+m.ID, nil)
	w := httptest.NewRecorder()
	h.ServeOptimized(w, req, m.ID)
	etag := w.Header().Get("ETag")

	req2 := httptest.NewRequest(http.MethodGet, "/m/"+m.ID, nil)
	req2.Header.Set("If-None-Match", etag)
	w2 := httptest.NewRecorder()
	h.ServeOptimized(w2, req2, m.ID)

	require.Equal(t, http.StatusNotModified, w2.Code)
	require.Empty(t, w2.Body.String())
}

func TestServeOriginalMissingWhenNotKept(t *testing.T) {
	h, medias, blobs := newTestHandler(t)
	m := seedMedia(t, medias, blobs, false)

	req := httptest.NewRequest(http.MethodGet, "/m/"+m.ID+"/original", nil)
	w := httptest.NewRecorder()
	h.ServeOriginal(w, req, m.ID)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeUnknownIDIs404(t *testing.T) {
	h, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/m/unknown", nil)
	w := httptest.NewRecorder()
	h.ServeOptimized(w, req, "unknown")
	require.Equal(t, http.StatusNotFound, w.Code)
}
