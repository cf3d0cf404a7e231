package upload

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/blobstore"
	"github.com/rexpump/media-upload-server-public/imagepipe"
	"github.com/rexpump/media-upload-server-public/media"
	"github.com/rexpump/media-upload-server-public/metastore"
)

func redPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	red := color.RGBA{R: 255, A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, red)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "upload-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	meta, err := metastore.Open(dir+"/db", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	blobs, err := blobstore.New(dir+"/blobs", 2)
	require.NoError(t, err)

	cfg := Config{
		MaxSimpleUploadSize: 10 << 20, MaxChunkedUploadSize: 10 << 20,
		ChunkSize:      5 << 20,
		SessionTimeout: time.Hour,
		AllowedImageTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		MaxImageDimension: 2048, StripExif: true,
		OutputFormat: "webp", OutputQuality: 85, KeepOriginals: true,
	}
	return NewEngine(cfg, NewSessionStore(meta), media.NewStore(meta), blobs, imagepipe.NewPool(2), zerolog.Nop())
}

func TestSimpleUploadDedup(t *testing.T) {
	e := newTestEngine(t)
	data := redPNG(t, 100, 100)

	m1, err := e.Simple(bytes.NewReader(data), "red.png")
	require.NoError(t, err)
	require.Equal(t, "image/webp", m1.OptimizedMimeType)
	require.Equal(t, 100, m1.Width)

	m2, err := e.Simple(bytes.NewReader(data), "red-again.png")
	require.NoError(t, err)
	require.Equal(t, m1.ID, m2.ID)

	n, err := e.medias.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSimpleUploadTooLarge(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.MaxSimpleUploadSize = 10
	data := redPNG(t, 100, 100)

	_, err := e.Simple(bytes.NewReader(data), "red.png")
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindPayloadTooLarge, ae.Kind)
}

func TestChunkedUploadHappyPath(t *testing.T) {
	e := newTestEngine(t)
	data := redPNG(t, 50, 50)

	session, err := e.Init("red.png", "image/png", int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, session.Status)

	chunkSize := int64(len(data)) / 2
	_, err = e.Chunk(session.ID, ChunkRange{Start: 0, End: chunkSize - 1, Total: int64(len(data))}, data[:chunkSize])
	require.NoError(t, err)

	s, err := e.Chunk(session.ID, ChunkRange{Start: chunkSize, End: int64(len(data)) - 1, Total: int64(len(data))}, data[chunkSize:])
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, s.Status)

	m, final, err := e.Complete(session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, m.ID, final.MediaID)
}

func TestChunkOutOfOrderRejected(t *testing.T) {
	e := newTestEngine(t)
	data := redPNG(t, 50, 50)
	total := int64(len(data))

	session, err := e.Init("red.png", "image/png", total)
	require.NoError(t, err)

	_, err = e.Chunk(session.ID, ChunkRange{Start: 0, End: 4, Total: total}, data[:5])
	require.NoError(t, err)

	// resubmitting the same range is out-of-order since received_bytes has advanced
	_, err = e.Chunk(session.ID, ChunkRange{Start: 0, End: 4, Total: total}, data[:5])
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindValidation, ae.Kind)

	// session state is unchanged
	s, err := e.Status(session.ID)
	require.NoError(t, err)
	require.EqualValues(t, 5, s.ReceivedBytes)
}

func TestChunkTotalMismatchRejected(t *testing.T) {
	e := newTestEngine(t)
	session, err := e.Init("red.png", "image/png", 10)
	require.NoError(t, err)

	_, err = e.Chunk(session.ID, ChunkRange{Start: 0, End: 4, Total: 20}, make([]byte, 5))
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindValidation, ae.Kind)
}

func TestCompleteIncompleteSessionFails(t *testing.T) {
	e := newTestEngine(t)
	session, err := e.Init("red.png", "image/png", 100)
	require.NoError(t, err)

	_, _, err = e.Complete(session.ID)
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindUploadSessionError, ae.Kind)
}

func TestCompleteIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	data := redPNG(t, 50, 50)
	total := int64(len(data))

	session, err := e.Init("red.png", "image/png", total)
	require.NoError(t, err)
	_, err = e.Chunk(session.ID, ChunkRange{Start: 0, End: total - 1, Total: total}, data)
	require.NoError(t, err)

	m1, _, err := e.Complete(session.ID)
	require.NoError(t, err)
	m2, s2, err := e.Complete(session.ID)
	require.NoError(t, err)
	require.Equal(t, m1.ID, m2.ID)
	require.Equal(t, StatusCompleted, s2.Status)
}

func TestJanitorExpiresStaleSessions(t *testing.T) {
	e := newTestEngine(t)
	session, err := e.Init("red.png", "image/png", 100)
	require.NoError(t, err)

	previous := *session
	session.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, e.sessions.Update(previous, *session))

	j := NewJanitor(e, zerolog.Nop())
	res, err := j.Sweep()
	require.NoError(t, err)
	require.Equal(t, 1, res.SessionsExpired)

	s, err := e.Status(session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, s.Status)
}
