package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/upload"
)

type uploadResponse struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	OriginalURL  string `json:"original_url,omitempty"`
	MediaType    string `json:"media_type"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// handleUpload implements POST /api/upload of spec.md §6.
func (s *AppState) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, s.logErr, apperr.Validation("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	m, err := s.Engine.Simple(file, header.Filename)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}

	resp := uploadResponse{
		ID: m.ID, URL: s.mediaURL(r, m.ID), MediaType: string(m.MediaType),
		MimeType: m.OptimizedMimeType, Size: m.OptimizedSize, Width: m.Width, Height: m.Height,
	}
	if m.HasOriginal {
		resp.OriginalURL = s.originalURL(r, m.ID)
	}
	writeJSON(w, http.StatusCreated, resp)
}

type initRequest struct {
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	TotalSize int64  `json:"total_size"`
}

// handleUploadInit implements POST /api/upload/init.
func (s *AppState) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logErr, apperr.Validation("invalid JSON body"))
		return
	}

	session, err := s.Engine.Init(req.Filename, req.MimeType, req.TotalSize)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	writeJSON(w, http.StatusCreated, session.Projection())
}

// contentRangeRe matches "bytes <start>-<end>/<total>"; a literal "*" in any
// field is rejected by not matching at all, per spec.md §6.
var contentRangeRe = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

func parseContentRange(header string) (upload.ChunkRange, error) {
	m := contentRangeRe.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return upload.ChunkRange{}, apperr.Validation("Content-Range must be of the form \"bytes start-end/total\"")
	}
	start, _ := strconv.ParseInt(m[1], 10, 64)
	end, _ := strconv.ParseInt(m[2], 10, 64)
	total, _ := strconv.ParseInt(m[3], 10, 64)
	if end < start {
		return upload.ChunkRange{}, apperr.Validation("Content-Range end must not precede start")
	}
	return upload.ChunkRange{Start: start, End: end, Total: total}, nil
}

// handleUploadChunk implements PATCH /api/upload/{session_id}/chunk.
func (s *AppState) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	rng, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, s.logErr, apperr.Validation(fmt.Sprintf("failed to read chunk body: %v", err)))
		return
	}

	session, err := s.Engine.Chunk(sessionID, rng, data)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Projection())
}

// handleUploadComplete implements POST /api/upload/{session_id}/complete.
func (s *AppState) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	m, _, err := s.Engine.Complete(sessionID)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}

	resp := uploadResponse{
		ID: m.ID, URL: s.mediaURL(r, m.ID), MediaType: string(m.MediaType),
		MimeType: m.OptimizedMimeType, Size: m.OptimizedSize, Width: m.Width, Height: m.Height,
	}
	if m.HasOriginal {
		resp.OriginalURL = s.originalURL(r, m.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUploadStatus implements GET /api/upload/{session_id}/status.
func (s *AppState) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	session, err := s.Engine.Status(sessionID)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Projection())
}

func (s *AppState) logErr(err error, status int) {
	ev := s.Log.Info()
	if status >= 500 {
		ev = s.Log.Error()
	}
	ev.Err(err).Int("status", status).Msg("request failed")
}
