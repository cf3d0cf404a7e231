package upload

import (
	"time"

	"github.com/rs/zerolog"
)

// Janitor implements §4.D's background sweep: expire stale in_progress
// sessions and remove orphaned scratch directories, plus the startup
// crash-recovery sweep of §7.
type Janitor struct {
	engine *Engine
	log    zerolog.Logger
}

func NewJanitor(engine *Engine, log zerolog.Logger) *Janitor {
	return &Janitor{engine: engine, log: log}
}

// Result reports what one sweep did, mirroring CleanupResponse in
// original_source's admin.rs.
type Result struct {
	SessionsExpired     int
	ScratchDirsRemoved  int
	OrphanedDirsRemoved int
}

// Sweep runs one pass: expire overdue in_progress sessions and delete
// their scratch, then remove orphaned temp directories with no session
// record at all, older than 2x the session timeout (§4.D, §7).
func (j *Janitor) Sweep() (Result, error) {
	now := time.Now()
	var res Result

	expired, err := j.engine.sessions.ExpiredBefore(now)
	if err != nil {
		return res, err
	}
	for _, s := range expired {
		previous := s
		s.markExpired(now)
		if err := j.engine.sessions.Update(previous, s); err != nil {
			j.log.Error().Err(err).Str("session_id", s.ID).Msg("failed to mark session expired")
			continue
		}
		if err := j.engine.blobs.DeleteScratch(s.ID); err != nil {
			j.log.Warn().Err(err).Str("session_id", s.ID).Msg("failed to delete scratch for expired session")
		} else {
			res.ScratchDirsRemoved++
		}
		res.SessionsExpired++
	}

	liveIDs, err := j.engine.sessions.AllIDs()
	if err != nil {
		return res, err
	}
	orphanMaxAge := 2 * j.engine.cfg.SessionTimeout
	removed, err := j.engine.blobs.CleanupOrphanedScratch(orphanMaxAge, liveIDs)
	if err != nil {
		return res, err
	}
	res.OrphanedDirsRemoved = removed

	return res, nil
}

// RecoverCrashedSessions implements §7's startup crash recovery: any
// session left in "processing" could not have committed its completed
// transition, so it is not trustworthy to resume — it is marked failed
// (§9's Open Question, resolved as the spec suggests).
func (j *Janitor) RecoverCrashedSessions() (int, error) {
	stuck, err := j.engine.sessions.AllInStatus(StatusProcessing)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for _, s := range stuck {
		previous := s
		s.markFailed("interrupted by restart while processing", now)
		if err := j.engine.sessions.Update(previous, s); err != nil {
			j.log.Error().Err(err).Str("session_id", s.ID).Msg("failed to mark crashed session failed")
		}
	}
	return len(stuck), nil
}

// Run loops Sweep on interval until ctx-like stop channel closes. Wired
// from cmd/mediaserver as a background goroutine.
func (j *Janitor) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			res, err := j.Sweep()
			if err != nil {
				j.log.Error().Err(err).Msg("janitor sweep failed")
				continue
			}
			if res.SessionsExpired > 0 || res.OrphanedDirsRemoved > 0 {
				j.log.Info().
					Int("sessions_expired", res.SessionsExpired).
					Int("orphaned_dirs_removed", res.OrphanedDirsRemoved).
					Msg("janitor sweep completed")
			}
		}
	}
}
