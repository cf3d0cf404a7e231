// Package serving implements §4.E: the optimized and original endpoints,
// conditional-GET caching, and the asynchronous last-accessed bookkeeping.
// Grounded on original_source's handlers/serve.rs, translated into plain
// net/http handlers the way the teacher's khatru/blossom package does it.
package serving

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/blobstore"
	"github.com/rexpump/media-upload-server-public/media"
)

type Handler struct {
	medias      *media.Store
	blobs       *blobstore.Store
	cacheMaxAge time.Duration
	log         zerolog.Logger
}

func New(medias *media.Store, blobs *blobstore.Store, cacheMaxAge time.Duration, log zerolog.Logger) *Handler {
	return &Handler{medias: medias, blobs: blobs, cacheMaxAge: cacheMaxAge, log: log}
}

// sanitizeFilename keeps only alphanumerics, '.', '-', '_', mirroring
// serve.rs's sanitize_filename, used for Content-Disposition.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

func (h *Handler) writeCacheHeaders(w http.ResponseWriter, etag, mimeType string) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", int(h.cacheMaxAge.Seconds())))
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

func ifNoneMatchSatisfied(r *http.Request, etag string) bool {
	inm := r.Header.Get("If-None-Match")
	if inm == "" {
		return false
	}
	for _, candidate := range strings.Split(inm, ",") {
		if strings.TrimSpace(candidate) == etag {
			return true
		}
	}
	return false
}

// ServeOptimized handles GET /m/{id} (§4.E, the "optimized" endpoint).
func (h *Handler) ServeOptimized(w http.ResponseWriter, r *http.Request, id string) {
	m, err := h.medias.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	etag := m.ETag("w")
	if ifNoneMatchSatisfied(r, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	path := h.blobs.OptimizedPath(m.ID, m.OptimizedStorageFilename())
	rc, size, err := blobstore.ServePath(path)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	h.writeCacheHeaders(w, etag, m.OptimizedMimeType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.WriteHeader(http.StatusOK)
	copyBody(w, rc)

	go h.touchLastAccessed(m.ID)
}

// ServeOriginal handles GET /m/{id}/original (§4.E, the "original"
// endpoint). Returns 404 when keep_originals was false at ingest.
func (h *Handler) ServeOriginal(w http.ResponseWriter, r *http.Request, id string) {
	m, err := h.medias.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !m.HasOriginal {
		writeError(w, apperr.NotFound("original was not retained for this media"))
		return
	}

	etag := m.ETag("o")
	if ifNoneMatchSatisfied(r, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	path := h.blobs.OriginalPath(m.ID, m.OriginalStorageFilename())
	rc, size, err := blobstore.ServePath(path)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	h.writeCacheHeaders(w, etag, m.OriginalMimeType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, sanitizeFilename(m.OriginalFilename)))
	w.WriteHeader(http.StatusOK)
	copyBody(w, rc)

	go h.touchLastAccessed(m.ID)
}

func (h *Handler) touchLastAccessed(id string) {
	if err := h.medias.TouchLastAccessed(id, time.Now()); err != nil {
		h.log.Warn().Err(err).Str("media_id", id).Msg("failed to update last_accessed_at")
	}
}

func copyBody(w http.ResponseWriter, rc interface{ Read([]byte) (int, error) }) {
	buf := make([]byte, 64*1024)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// writeError is a small shim so this package can report errors without
// importing httpapi (which imports serving). httpapi's other handlers use
// its own writeError helper; this path streams bytes
// directly so it renders its own minimal error body.
func writeError(w http.ResponseWriter, err error) {
	e := apperr.Wrap(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode())
	fmt.Fprintf(w, `{"error":%q,"message":%q,"status":%d}`, e.Kind, e.Message, e.StatusCode())
}
