// Package upload implements §4.D: the simple and chunked ingestion paths,
// the chunked-upload session state machine, and the background janitor.
// Grounded on original_source's UploadSession (models/upload_session.rs)
// and handlers/upload.rs, translated into the teacher's explicit-error
// idiom and resolved toward spec.md's stricter rules where the original
// diverged (see DESIGN.md).
package upload

import "time"

// Status is the upload session lifecycle state (§4.D's state machine).
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// CanAcceptChunks mirrors can_accept_chunks(): only in_progress sessions
// accept chunk appends.
func (s Status) CanAcceptChunks() bool { return s == StatusInProgress }

// IsTerminal mirrors is_terminal(): these four states never transition
// again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Session is the upload_sessions record of §3.
type Session struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	MimeType       string    `json:"mime_type"`
	TotalSize      int64     `json:"total_size"`
	ReceivedBytes  int64     `json:"received_bytes"`
	ChunkSize      int64     `json:"chunk_size"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ScratchPath    string    `json:"scratch_path"`
	MediaID        string    `json:"media_id,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

func newSession(id, filename, mimeType string, totalSize, chunkSize int64, scratchPath string, timeout time.Duration, now time.Time) Session {
	return Session{
		ID: id, Filename: filename, MimeType: mimeType,
		TotalSize: totalSize, ReceivedBytes: 0, ChunkSize: chunkSize,
		Status: StatusInProgress,
		CreatedAt: now, ExpiresAt: now.Add(timeout), LastActivityAt: now,
		ScratchPath: scratchPath,
	}
}

// IsComplete mirrors is_complete(): every byte has arrived.
func (s Session) IsComplete() bool { return s.ReceivedBytes >= s.TotalSize }

// IsExpired mirrors is_expired().
func (s Session) IsExpired(now time.Time) bool { return now.After(s.ExpiresAt) }

// NextOffset is the offset the client should resume from.
func (s Session) NextOffset() int64 { return s.ReceivedBytes }

// ProgressPercent mirrors progress_percent().
func (s Session) ProgressPercent() float64 {
	if s.TotalSize == 0 {
		return 0
	}
	return float64(s.ReceivedBytes) / float64(s.TotalSize) * 100
}

func (s *Session) addReceivedBytes(n int64, now time.Time, timeout time.Duration) {
	s.ReceivedBytes += n
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(timeout)
}

func (s *Session) markProcessing(now time.Time) {
	s.Status = StatusProcessing
	s.LastActivityAt = now
}

func (s *Session) markCompleted(mediaID string, now time.Time) {
	s.Status = StatusCompleted
	s.MediaID = mediaID
	s.LastActivityAt = now
}

func (s *Session) markFailed(reason string, now time.Time) {
	s.Status = StatusFailed
	s.ErrorMessage = reason
	s.LastActivityAt = now
}

func (s *Session) markExpired(now time.Time) {
	s.Status = StatusExpired
	s.LastActivityAt = now
}

// Projection is the client-facing view of a session, mirroring
// UploadSessionResponse::from_session.
type Projection struct {
	ID            string  `json:"id"`
	Status        Status  `json:"status"`
	ReceivedBytes int64   `json:"received_bytes"`
	TotalSize     int64   `json:"total_size"`
	Progress      float64 `json:"progress"`
	ChunkSize     int64   `json:"chunk_size"`
	NextOffset    int64   `json:"next_offset"`
	ExpiresAt     time.Time `json:"expires_at"`
	Error         string  `json:"error,omitempty"`
	MediaID       string  `json:"media_id,omitempty"`
}

func (s Session) Projection() Projection {
	return Projection{
		ID: s.ID, Status: s.Status, ReceivedBytes: s.ReceivedBytes,
		TotalSize: s.TotalSize, Progress: s.ProgressPercent(), ChunkSize: s.ChunkSize,
		NextOffset: s.NextOffset(), ExpiresAt: s.ExpiresAt,
		Error: s.ErrorMessage, MediaID: s.MediaID,
	}
}
