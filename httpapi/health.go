package httpapi

import (
	"net/http"

	"github.com/rexpump/media-upload-server-public/metastore"
)

type statsResponse struct {
	MediaCount int               `json:"media_count"`
	Storage    storageStatsBody  `json:"storage"`
}

type storageStatsBody struct {
	OriginalsSize  int64 `json:"originals_size"`
	OptimizedSize  int64 `json:"optimized_size"`
	TempSize       int64 `json:"temp_size"`
	TotalSize      int64 `json:"total_size"`
	OriginalsCount int   `json:"originals_count"`
	OptimizedCount int   `json:"optimized_count"`
}

func (s *AppState) gatherStats() (statsResponse, error) {
	count, err := s.Medias.Count()
	if err != nil {
		return statsResponse{}, err
	}
	stats, err := s.Blobs.Stats()
	if err != nil {
		return statsResponse{}, err
	}
	return statsResponse{
		MediaCount: count,
		Storage: storageStatsBody{
			OriginalsSize: stats.OriginalsSize, OptimizedSize: stats.OptimizedSize,
			TempSize: stats.TempSize, TotalSize: stats.TotalSize,
			OriginalsCount: stats.OriginalsCount, OptimizedCount: stats.OptimizedCount,
		},
	}, nil
}

// handleHealthLive implements GET /health/live: a bare 200 once the process
// is up.
func (s *AppState) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// healthSentinelKey is a fixed key /health/ready probes with a cheap Get to
// confirm the metadata store is actually answering reads, mirroring
// original_source's health.rs.
var healthSentinelKey = []byte("__health_sentinel__")

// handleHealthReady implements GET /health/ready.
func (s *AppState) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.Meta.Get(metastore.NamespaceMedia, healthSentinelKey); err != nil {
		writeError(w, s.logErr, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleHealthStats implements GET /health/stats: the same payload as
// GET /admin/stats, exposed on the public router.
func (s *AppState) handleHealthStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gatherStats()
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
