// Package media defines the media entity (§3) and the store operations
// built over metastore that every other component (upload, serving,
// tokenmeta) shares: dedup lookup by content hash, lifetime CRUD, and
// last-accessed bookkeeping.
package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/metastore"
)

// Type is the media_type variant from §3. Only "image" is produced today;
// "video" is reserved by the variant per the spec's design note on dynamic
// dispatch over codecs.
type Type string

const (
	TypeImage Type = "image"
	TypeVideo Type = "video"
)

// Media is the immutable record describing an ingested file and pointing
// at its blobs (§3 "Media entity").
type Media struct {
	ID                string    `json:"id"`
	OriginalFilename  string    `json:"original_filename"`
	OriginalMimeType  string    `json:"original_mime_type"`
	OptimizedMimeType string    `json:"optimized_mime_type"`
	MediaType         Type      `json:"media_type"`
	OriginalSize      int64     `json:"original_size"`
	OptimizedSize     int64     `json:"optimized_size"`
	Width             int       `json:"width"`
	Height            int       `json:"height"`
	ContentHash       string    `json:"content_hash"`
	HasOriginal       bool      `json:"has_original"`
	CreatedAt         time.Time `json:"created_at"`
	LastAccessedAt    time.Time `json:"last_accessed_at"`
}

// NewID mints a fresh 128-bit identifier in canonical 8-4-4-4-12 hex form.
func NewID() string { return uuid.New().String() }

func extensionForMime(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}

// OriginalStorageFilename is the blob filename for this media's original,
// e.g. "3fae...-id.jpg".
func (m Media) OriginalStorageFilename() string {
	return m.ID + "." + extensionForMime(m.OriginalMimeType)
}

// OptimizedStorageFilename is the blob filename for this media's optimized
// variant.
func (m Media) OptimizedStorageFilename() string {
	return m.ID + "." + extensionForMime(m.OptimizedMimeType)
}

// ETag is the strong validator used by the serving path (§4.E item 2):
// content hash plus a variant tag so originals and optimized variants get
// distinct validators.
func (m Media) ETag(variant string) string {
	return fmt.Sprintf(`"%s-%s"`, m.ContentHash, variant)
}

// Store persists Media records and the content-hash dedup index over a
// metastore.Store.
type Store struct {
	meta *metastore.Store
}

func NewStore(meta *metastore.Store) *Store { return &Store{meta: meta} }

func (s *Store) Get(id string) (*Media, error) {
	raw, found, err := s.meta.Get(metastore.NamespaceMedia, []byte(id))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !found {
		return nil, apperr.NotFound("media not found")
	}
	var m Media
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Internal(fmt.Errorf("decoding media record %s: %w", id, err))
	}
	return &m, nil
}

// FindByHash implements the dedup lookup of §4.D: at most one media record
// per content hash.
func (s *Store) FindByHash(hash string) (*Media, bool, error) {
	raw, found, err := s.meta.Get(metastore.NamespaceHashIndex, []byte(hash))
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	if !found {
		return nil, false, nil
	}
	m, err := s.Get(string(raw))
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Encode serializes a Media record the same way the store does, for
// callers (like the upload engine's chunked finalization) that need to
// fold a media write into a larger atomic batch themselves.
func Encode(m Media) ([]byte, error) {
	raw, err := sonic.Marshal(m)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return raw, nil
}

// Insert atomically writes the media record and the hash_index entry in a
// single batched write, enforcing the media+hash_index invariant of §3.
func (s *Store) Insert(m Media) error {
	raw, err := sonic.Marshal(m)
	if err != nil {
		return apperr.Internal(err)
	}
	ops := []metastore.Mutation{
		metastore.Set(metastore.NamespaceMedia, []byte(m.ID), raw),
		metastore.Set(metastore.NamespaceHashIndex, []byte(m.ContentHash), []byte(m.ID)),
	}
	if err := s.meta.BatchWrite(ops); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Delete removes the media record. It does not know about blobs; callers
// (admin handlers, token-metadata reference cleanup) are responsible for
// deleting the blob files via blobstore first or alongside.
func (s *Store) Delete(id string) error {
	m, err := s.Get(id)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			return nil
		}
		return err
	}
	ops := []metastore.Mutation{
		metastore.Delete(metastore.NamespaceMedia, []byte(id)),
		metastore.Delete(metastore.NamespaceHashIndex, []byte(m.ContentHash)),
	}
	if err := s.meta.BatchWrite(ops); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// TouchLastAccessed is the best-effort, asynchronous bookkeeping update of
// §4.E item 4. Failures are logged by the caller, never surfaced.
func (s *Store) TouchLastAccessed(id string, at time.Time) error {
	m, err := s.Get(id)
	if err != nil {
		return err
	}
	m.LastAccessedAt = at
	raw, err := sonic.Marshal(*m)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.meta.Put(metastore.NamespaceMedia, []byte(id), raw); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Count returns the number of media records, used by the admin stats
// endpoint.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.meta.Scan(metastore.NamespaceMedia, nil, func(metastore.Entry) (bool, error) {
		n++
		return true, nil
	})
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}
