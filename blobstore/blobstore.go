// Package blobstore implements the filesystem layout and atomic publish
// semantics of §4.B: sharded original/optimized trees, per-session scratch
// files for chunked uploads, and aggregate stats. Grounded on
// original_source's StorageService (services/storage.rs), translated into
// the teacher's explicit-error-return idiom.
package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/internal/sharding"
)

const scratchFilename = "upload"

// Store roots a blob tree at dataDir, per §4.B's layout:
//
//	data_dir/originals/<shard>/<id>.<ext>
//	data_dir/optimized/<shard>/<id>.<ext>
//	data_dir/temp/<session_id>/upload
type Store struct {
	originalsRoot string
	optimizedRoot string
	tempRoot      string
	levels        int
}

func New(dataDir string, directoryLevels int) (*Store, error) {
	s := &Store{
		originalsRoot: filepath.Join(dataDir, "originals"),
		optimizedRoot: filepath.Join(dataDir, "optimized"),
		tempRoot:      filepath.Join(dataDir, "temp"),
		levels:        directoryLevels,
	}
	for _, dir := range []string{s.originalsRoot, s.optimizedRoot, s.tempRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating blob directory %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) originalPath(id, filename string) string {
	return filepath.Join(s.originalsRoot, sharding.Path(id, s.levels), filename)
}

func (s *Store) optimizedPath(id, filename string) string {
	return filepath.Join(s.optimizedRoot, sharding.Path(id, s.levels), filename)
}

func (s *Store) OriginalPath(id, filename string) string { return s.originalPath(id, filename) }
func (s *Store) OptimizedPath(id, filename string) string { return s.optimizedPath(id, filename) }

func (s *Store) scratchDir(sessionID string) string {
	return filepath.Join(s.tempRoot, sessionID)
}

// StageScratch creates temp/<session_id>/ and returns the path to the
// single append-only upload file for that session.
func (s *Store) StageScratch(sessionID string) (string, error) {
	dir := s.scratchDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Internal(fmt.Errorf("staging scratch dir %s: %w", dir, err))
	}
	path := filepath.Join(dir, scratchFilename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("creating scratch file %s: %w", path, err))
	}
	f.Close()
	return path, nil
}

// AppendAt writes data at the given positional offset in the session's
// scratch file. Chunk writes are allowed to rely on the OS page cache;
// durability is only required at finalization (§4.B).
func (s *Store) AppendAt(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Internal(fmt.Errorf("opening scratch file %s: %w", path, err))
	}
	defer f.Close()
	if _, err := f.WriteAt(data, offset); err != nil {
		return apperr.Internal(fmt.Errorf("appending to scratch file %s at %d: %w", path, offset, err))
	}
	return nil
}

// ScratchSize returns the current size of a session's scratch file.
func (s *Store) ScratchSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("statting scratch file %s: %w", path, err))
	}
	return fi.Size(), nil
}

// ReadScratch reads the whole assembled scratch file into memory. Callers
// only do this at finalization, bounded by max_chunked_upload_size.
func (s *Store) ReadScratch(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("reading scratch file %s: %w", path, err))
	}
	return data, nil
}

// DeleteScratch removes a session's entire temp directory.
func (s *Store) DeleteScratch(sessionID string) error {
	if err := os.RemoveAll(s.scratchDir(sessionID)); err != nil {
		return apperr.Internal(fmt.Errorf("deleting scratch dir for session %s: %w", sessionID, err))
	}
	return nil
}

// publishFile writes data to a temp file in dir's destination shard,
// fsyncs, then renames into place. It never overwrites an existing
// destination: an existing file is treated as a successful idempotent
// publish, per §4.B's dedup-race rule.
func publishFile(dest string, data []byte) error {
	if _, err := os.Stat(dest); err == nil {
		return nil // already published, idempotent no-op
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("statting destination %s: %w", dest, err)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating shard dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".publish-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, dest, err)
	}
	return nil
}

// Publish atomically places the optimized variant, and the original when
// keepOriginal is true, under id's shard. It is a no-op for any file whose
// destination already exists (§4.B's idempotent-publish rule).
func (s *Store) Publish(id, originalFilename, optimizedFilename string, originalBytes, optimizedBytes []byte, keepOriginal bool) error {
	if keepOriginal {
		if err := publishFile(s.originalPath(id, originalFilename), originalBytes); err != nil {
			return apperr.Internal(fmt.Errorf("publishing original for %s: %w", id, err))
		}
	}
	if err := publishFile(s.optimizedPath(id, optimizedFilename), optimizedBytes); err != nil {
		return apperr.Internal(fmt.Errorf("publishing optimized for %s: %w", id, err))
	}
	return nil
}

// Delete removes both blobs for id, ignoring missing-file errors.
func (s *Store) Delete(id, originalFilename, optimizedFilename string) error {
	for _, path := range []string{s.originalPath(id, originalFilename), s.optimizedPath(id, optimizedFilename)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return apperr.Internal(fmt.Errorf("deleting blob %s: %w", path, err))
		}
	}
	return nil
}

func (s *Store) OriginalExists(id, filename string) bool {
	_, err := os.Stat(s.originalPath(id, filename))
	return err == nil
}

func (s *Store) OptimizedExists(id, filename string) bool {
	_, err := os.Stat(s.optimizedPath(id, filename))
	return err == nil
}

// ServePath returns a reader for the blob at path along with its size, for
// the serving handlers to stream out.
func ServePath(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, apperr.NotFound("blob not found")
		}
		return nil, 0, apperr.Internal(fmt.Errorf("opening blob %s: %w", path, err))
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, apperr.Internal(fmt.Errorf("statting blob %s: %w", path, err))
	}
	return f, fi.Size(), nil
}

// Stats aggregates file counts and byte totals per tree via directory
// walk, mirroring storage.rs's get_stats/dir_size/file_count.
type Stats struct {
	OriginalsSize  int64 `json:"originals_size"`
	OptimizedSize  int64 `json:"optimized_size"`
	TempSize       int64 `json:"temp_size"`
	TotalSize      int64 `json:"total_size"`
	OriginalsCount int   `json:"originals_count"`
	OptimizedCount int   `json:"optimized_count"`
}

func dirStats(root string) (size int64, count int, err error) {
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		count++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, 0, err
	}
	return size, count, nil
}

func (s *Store) Stats() (Stats, error) {
	origSize, origCount, err := dirStats(s.originalsRoot)
	if err != nil {
		return Stats{}, apperr.Internal(err)
	}
	optSize, optCount, err := dirStats(s.optimizedRoot)
	if err != nil {
		return Stats{}, apperr.Internal(err)
	}
	tempSize, _, err := dirStats(s.tempRoot)
	if err != nil {
		return Stats{}, apperr.Internal(err)
	}
	return Stats{
		OriginalsSize: origSize, OptimizedSize: optSize, TempSize: tempSize,
		TotalSize: origSize + optSize + tempSize,
		OriginalsCount: origCount, OptimizedCount: optCount,
	}, nil
}

// CleanupOrphanedScratch removes temp/<session_id> directories whose mtime
// is older than maxAge and have no corresponding live session. Callers
// (the janitor) pass the set of session ids still known to the metadata
// store; anything else on disk older than maxAge is an orphan from a crash
// during init (§4.D's janitor spec, §7's crash-recovery sweep).
func (s *Store) CleanupOrphanedScratch(maxAge time.Duration, liveSessionIDs map[string]bool) (int, error) {
	entries, err := os.ReadDir(s.tempRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apperr.Internal(fmt.Errorf("reading temp root: %w", err))
	}

	cleaned := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if liveSessionIDs[id] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.tempRoot, id)); err == nil {
			cleaned++
		}
	}
	return cleaned, nil
}
