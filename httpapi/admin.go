package httpapi

import "net/http"

// handleAdminStats implements GET /admin/stats (admin.rs::get_stats).
func (s *AppState) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gatherStats()
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type cleanupResponse struct {
	SessionsExpired      int `json:"sessions_cleaned"`
	ScratchDirsRemoved   int `json:"files_cleaned"`
	OrphanedDirsRemoved  int `json:"orphaned_dirs_cleaned"`
}

// handleAdminCleanup implements POST /admin/cleanup (admin.rs::cleanup_sessions):
// manually triggers the janitor sweep.
func (s *AppState) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := s.Janitor.Sweep()
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{
		SessionsExpired: result.SessionsExpired,
		ScratchDirsRemoved: result.ScratchDirsRemoved,
		OrphanedDirsRemoved: result.OrphanedDirsRemoved,
	})
}

type mediaInfoResponse struct {
	ID                string `json:"id"`
	OriginalFilename  string `json:"original_filename"`
	MediaType         string `json:"media_type"`
	OriginalMimeType  string `json:"original_mime_type"`
	OptimizedMimeType string `json:"optimized_mime_type"`
	OriginalSize      int64  `json:"original_size"`
	OptimizedSize     int64  `json:"optimized_size"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	HasOriginal       bool   `json:"has_original"`
	URL               string `json:"url"`
	OriginalURL       string `json:"original_url,omitempty"`
}

// handleAdminGetMedia implements GET /admin/media/{id} (admin.rs::get_media_info).
func (s *AppState) handleAdminGetMedia(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.Medias.Get(id)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	resp := mediaInfoResponse{
		ID: m.ID, OriginalFilename: m.OriginalFilename, MediaType: string(m.MediaType),
		OriginalMimeType: m.OriginalMimeType, OptimizedMimeType: m.OptimizedMimeType,
		OriginalSize: m.OriginalSize, OptimizedSize: m.OptimizedSize,
		Width: m.Width, Height: m.Height, HasOriginal: m.HasOriginal,
		URL: s.mediaURL(r, m.ID),
	}
	if m.HasOriginal {
		resp.OriginalURL = s.originalURL(r, m.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAdminDeleteMedia implements DELETE /admin/media/{id}
// (admin.rs::delete_media): removes both blobs and the record. Any
// token-metadata record referencing this id keeps its reference as a
// dangling id; resolveMetadataResponse reports no image URL for a missing
// media id at read time rather than failing.
func (s *AppState) handleAdminDeleteMedia(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.Medias.Get(id)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	if err := s.Blobs.Delete(m.ID, m.OriginalStorageFilename(), m.OptimizedStorageFilename()); err != nil {
		writeError(w, s.logErr, err)
		return
	}
	if err := s.Medias.Delete(id); err != nil {
		writeError(w, s.logErr, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
