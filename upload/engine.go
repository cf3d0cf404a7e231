package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/blobstore"
	"github.com/rexpump/media-upload-server-public/imagepipe"
	"github.com/rexpump/media-upload-server-public/media"
	"github.com/rexpump/media-upload-server-public/metastore"
)

// Config bundles the limits the engine enforces, sourced from
// config.UploadConfig/ProcessingConfig.
type Config struct {
	MaxSimpleUploadSize  int64
	MaxChunkedUploadSize int64
	ChunkSize            int64
	SessionTimeout       time.Duration
	AllowedImageTypes    []string
	MaxImageDimension    int
	StripExif            bool
	OutputFormat         string
	OutputQuality        int
	KeepOriginals        bool
}

// Engine implements §4.D: the simple and chunked ingestion paths, both
// converging on the same finalization routine.
type Engine struct {
	cfg      Config
	sessions *SessionStore
	medias   *media.Store
	blobs    *blobstore.Store
	pipeline *imagepipe.Pool
	log      zerolog.Logger
}

func NewEngine(cfg Config, sessions *SessionStore, medias *media.Store, blobs *blobstore.Store, pipeline *imagepipe.Pool, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, sessions: sessions, medias: medias, blobs: blobs, pipeline: pipeline, log: log}
}

func (e *Engine) pipelineConfig() imagepipe.Config {
	return imagepipe.Config{
		AllowedMimeTypes: e.cfg.AllowedImageTypes,
		MaxDimension:     e.cfg.MaxImageDimension,
		StripExif:        e.cfg.StripExif,
		OutputFormat:      e.cfg.OutputFormat,
		OutputQuality:     e.cfg.OutputQuality,
	}
}

// Simple implements the simple upload procedure of §4.D: stream, hash,
// dedup, pipeline, publish, record.
func (e *Engine) Simple(reader io.Reader, filename string) (*media.Media, error) {
	hasher := sha256.New()
	limited := &limitedCountingReader{r: reader, limit: e.cfg.MaxSimpleUploadSize}
	data, err := io.ReadAll(io.TeeReader(limited, hasher))
	if err != nil {
		if limited.exceeded {
			return nil, apperr.PayloadTooLarge(fmt.Sprintf("upload exceeds maximum size of %d bytes", e.cfg.MaxSimpleUploadSize))
		}
		return nil, apperr.Internal(fmt.Errorf("reading upload body: %w", err))
	}
	if limited.exceeded {
		return nil, apperr.PayloadTooLarge(fmt.Sprintf("upload exceeds maximum size of %d bytes", e.cfg.MaxSimpleUploadSize))
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	return e.processAndStore(data, filename, hash)
}

// limitedCountingReader aborts with exceeded=true as soon as more than
// limit bytes have been read, mirroring the "abort with payload_too_large"
// step of the simple-upload procedure.
type limitedCountingReader struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (l *limitedCountingReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, io.EOF
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		l.exceeded = true
		return n, io.EOF
	}
	return n, err
}

// processAndStore is the dedup + pipeline + publish + record routine
// shared by simple upload and IngestBytes (tokenmeta's image fields).
// Chunked-upload completion (Complete) runs the same steps inline so it can
// fold the session update into the media+hash_index batch (§4.D).
func (e *Engine) processAndStore(data []byte, filename, hash string) (*media.Media, error) {
	if existing, found, err := e.medias.FindByHash(hash); err != nil {
		return nil, err
	} else if found {
		return existing, nil
	}

	result, err := e.pipeline.Run(func() (imagepipe.Result, error) {
		return imagepipe.Process(data, e.pipelineConfig())
	})
	if err != nil {
		return nil, err
	}

	id := media.NewID()
	now := time.Now()
	m := media.Media{
		ID:                id,
		OriginalFilename:  filename,
		OriginalMimeType:  result.OriginalMime,
		OptimizedMimeType: result.OptimizedMime,
		MediaType:         media.TypeImage,
		OriginalSize:      int64(len(result.OriginalBytes)),
		OptimizedSize:     int64(len(result.OptimizedBytes)),
		Width:             result.Width,
		Height:            result.Height,
		ContentHash:       hash,
		HasOriginal:       e.cfg.KeepOriginals,
		CreatedAt:         now,
		LastAccessedAt:    now,
	}

	if err := e.blobs.Publish(id, m.OriginalStorageFilename(), m.OptimizedStorageFilename(),
		result.OriginalBytes, result.OptimizedBytes, e.cfg.KeepOriginals); err != nil {
		return nil, err
	}

	// re-check the hash index right before the final record write: two
	// identical-content simple uploads may have raced past the first
	// FindByHash check together (§5's dedup-race ordering guarantee).
	if existing, found, err := e.medias.FindByHash(hash); err != nil {
		return nil, err
	} else if found {
		return existing, nil
	}

	if err := e.medias.Insert(m); err != nil {
		return nil, err
	}
	return &m, nil
}

// IngestBytes runs the same dedup+pipeline+publish+record routine as Simple
// but over an already-buffered payload, for callers (tokenmeta's linked
// token images) that receive the whole image in one request body rather
// than as a stream worth limiting incrementally.
func (e *Engine) IngestBytes(data []byte, filename string) (*media.Media, error) {
	if int64(len(data)) > e.cfg.MaxSimpleUploadSize {
		return nil, apperr.PayloadTooLarge(fmt.Sprintf("upload exceeds maximum size of %d bytes", e.cfg.MaxSimpleUploadSize))
	}
	hasher := sha256.Sum256(data)
	hash := hex.EncodeToString(hasher[:])
	return e.processAndStore(data, filename, hash)
}

// Init implements init(filename, mime_type, total_size) of §4.D.
func (e *Engine) Init(filename, mimeType string, totalSize int64) (*Session, error) {
	if totalSize > e.cfg.MaxChunkedUploadSize {
		return nil, apperr.PayloadTooLarge(fmt.Sprintf("total_size exceeds maximum of %d bytes", e.cfg.MaxChunkedUploadSize))
	}
	allowed := false
	for _, t := range e.cfg.AllowedImageTypes {
		if t == mimeType {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperr.Validation(fmt.Sprintf("mime_type %q is not allowed", mimeType))
	}

	id := media.NewID()
	scratchPath, err := e.blobs.StageScratch(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := newSession(id, filename, mimeType, totalSize, e.cfg.ChunkSize, scratchPath, e.cfg.SessionTimeout, now)
	if err := e.sessions.Insert(session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ChunkRange is a parsed Content-Range header (§6: "tolerates `bytes
// start-end/total` only; `*` for any field is rejected").
type ChunkRange struct {
	Start int64
	End   int64
	Total int64
}

// Chunk implements chunk(session_id, range_start, range_end, total, bytes)
// of §4.D, resolved toward spec.md's stricter out-of-order and
// total-mismatch validation rather than original_source's looser behavior
// (see SPEC_FULL.md §4 items 2-3).
func (e *Engine) Chunk(sessionID string, rng ChunkRange, data []byte) (*Session, error) {
	session, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	previous := *session

	if !session.Status.CanAcceptChunks() {
		return nil, apperr.UploadSessionError(fmt.Sprintf("session is %s, not accepting chunks", session.Status))
	}

	now := time.Now()
	if session.IsExpired(now) {
		session.markExpired(now)
		if err := e.sessions.Update(previous, *session); err != nil {
			return nil, err
		}
		return nil, apperr.UploadSessionError("session expired")
	}

	if rng.Total != session.TotalSize {
		return nil, apperr.Validation("total mismatch")
	}
	if rng.Start != session.ReceivedBytes {
		return nil, apperr.Validation("out of order chunk")
	}
	expectedLen := rng.End - rng.Start + 1
	if expectedLen != int64(len(data)) || expectedLen > session.ChunkSize*2 {
		return nil, apperr.Validation("chunk length does not match declared range")
	}

	if err := e.blobs.AppendAt(session.ScratchPath, rng.Start, data); err != nil {
		return nil, err
	}

	session.addReceivedBytes(int64(len(data)), now, e.cfg.SessionTimeout)

	if session.IsComplete() {
		session.markProcessing(now)
	}
	if err := e.sessions.Update(previous, *session); err != nil {
		return nil, err
	}
	return session, nil
}

// Complete implements complete(session_id) of §4.D.
func (e *Engine) Complete(sessionID string) (*media.Media, *Session, error) {
	session, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}

	switch session.Status {
	case StatusCompleted:
		m, err := e.medias.Get(session.MediaID)
		if err != nil {
			return nil, nil, err
		}
		return m, session, nil
	case StatusFailed, StatusExpired, StatusCancelled:
		return nil, nil, apperr.UploadSessionError(fmt.Sprintf("session is %s", session.Status))
	case StatusInProgress:
		if !session.IsComplete() {
			return nil, nil, apperr.UploadSessionError("incomplete")
		}
	}

	previous := *session
	now := time.Now()
	session.markProcessing(now)

	data, err := e.blobs.ReadScratch(session.ScratchPath)
	if err != nil {
		e.failSession(previous, *session, err)
		return nil, nil, err
	}

	hasher := sha256.Sum256(data)
	hash := hex.EncodeToString(hasher[:])

	if existing, found, err := e.medias.FindByHash(hash); err != nil {
		e.failSession(previous, *session, err)
		return nil, nil, err
	} else if found {
		session.markCompleted(existing.ID, now)
		if err := e.sessions.Update(previous, *session); err != nil {
			return nil, nil, err
		}
		e.blobs.DeleteScratch(session.ID)
		return existing, session, nil
	}

	result, err := e.pipeline.Run(func() (imagepipe.Result, error) {
		return imagepipe.Process(data, e.pipelineConfig())
	})
	if err != nil {
		e.failSession(previous, *session, err)
		return nil, nil, err
	}

	id := media.NewID()
	m := media.Media{
		ID:                id,
		OriginalFilename:  session.Filename,
		OriginalMimeType:  result.OriginalMime,
		OptimizedMimeType: result.OptimizedMime,
		MediaType:         media.TypeImage,
		OriginalSize:      int64(len(result.OriginalBytes)),
		OptimizedSize:     int64(len(result.OptimizedBytes)),
		Width:             result.Width,
		Height:            result.Height,
		ContentHash:       hash,
		HasOriginal:       e.cfg.KeepOriginals,
		CreatedAt:         now,
		LastAccessedAt:    now,
	}

	if err := e.blobs.Publish(id, m.OriginalStorageFilename(), m.OptimizedStorageFilename(),
		result.OriginalBytes, result.OptimizedBytes, e.cfg.KeepOriginals); err != nil {
		e.failSession(previous, *session, err)
		return nil, nil, err
	}

	// Finalization is exactly-once: the media+hash_index write and the
	// session's transition to completed land in the same batch (§4.D).
	mediaRaw, err := media.Encode(m)
	if err != nil {
		e.failSession(previous, *session, err)
		return nil, nil, err
	}
	session.markCompleted(id, now)
	extraOps := []metastore.Mutation{
		metastore.Set(metastore.NamespaceMedia, []byte(m.ID), mediaRaw),
		metastore.Set(metastore.NamespaceHashIndex, []byte(m.ContentHash), []byte(m.ID)),
	}
	if err := e.sessions.UpdateWithMutations(previous, *session, extraOps); err != nil {
		e.failSession(previous, *session, err)
		return nil, nil, err
	}

	e.blobs.DeleteScratch(session.ID)
	return &m, session, nil
}

func (e *Engine) failSession(previous, session Session, cause error) {
	session.markFailed(apperr.Wrap(cause).Message, time.Now())
	if err := e.sessions.Update(previous, session); err != nil {
		e.log.Error().Err(err).Str("session_id", session.ID).Msg("failed to persist failed upload session")
	}
}

// Status implements status(session_id) of §4.D.
func (e *Engine) Status(sessionID string) (*Session, error) {
	return e.sessions.Get(sessionID)
}
