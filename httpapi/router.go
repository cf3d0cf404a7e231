package httpapi

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// NewPublicRouter builds the route table for the public server (default
// port 3000): upload, serving, health, and the public rexpump read/write
// endpoints, wrapped in CORS, rate-limiting, and a bounded-connections
// semaphore, the way khatru/relay.go wraps its own serveMux.
func (s *AppState) NewPublicRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/upload/init", s.handleUploadInit)
	mux.HandleFunc("PATCH /api/upload/{session_id}/chunk", s.handleUploadChunk)
	mux.HandleFunc("POST /api/upload/{session_id}/complete", s.handleUploadComplete)
	mux.HandleFunc("GET /api/upload/{session_id}/status", s.handleUploadStatus)

	mux.HandleFunc("GET /m/{id}", s.handleServeOptimized)
	mux.HandleFunc("GET /m/{id}/original", s.handleServeOriginal)

	mux.HandleFunc("GET /health/live", s.handleHealthLive)
	mux.HandleFunc("GET /health/ready", s.handleHealthReady)
	mux.HandleFunc("GET /health/stats", s.handleHealthStats)

	if s.Config.Rexpump.Enabled {
		mux.HandleFunc("GET /api/rexpump/metadata/{chain_id}/{token_address}", s.handleGetMetadata)
		mux.HandleFunc("POST /api/rexpump/metadata/{chain_id}/{token_address}", s.handlePostMetadata)
	}

	limiter := newRateLimiter(s.Config.RateLimit)
	uploadLimited := limiter.middleware(true, mux)
	generalLimited := limiter.middleware(false, mux)

	split := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/upload") {
			uploadLimited.ServeHTTP(w, r)
			return
		}
		generalLimited.ServeHTTP(w, r)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Content-Range", "X-API-Key"},
	})

	return maxConnections(s.Config.Server.MaxConnections, corsHandler.Handler(split))
}

// NewAdminRouter builds the route table for the admin server, which the
// caller binds to loopback only (server.admin_host defaults to 127.0.0.1).
func (s *AppState) NewAdminRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/stats", s.handleAdminStats)
	mux.HandleFunc("POST /admin/cleanup", s.handleAdminCleanup)
	mux.HandleFunc("GET /admin/media/{id}", s.handleAdminGetMedia)
	mux.HandleFunc("DELETE /admin/media/{id}", s.handleAdminDeleteMedia)

	if s.Config.Rexpump.Enabled {
		mux.HandleFunc("POST /admin/rexpump/{chain_id}/{token_address}/lock", s.handleAdminLockToken)
		mux.HandleFunc("POST /admin/rexpump/{chain_id}/{token_address}/unlock", s.handleAdminUnlockToken)
		mux.HandleFunc("PATCH /admin/rexpump/{chain_id}/{token_address}", s.handleAdminUpdateToken)
		mux.HandleFunc("DELETE /admin/rexpump/{chain_id}/{token_address}", s.handleAdminDeleteToken)
	}

	return requireAPIKey(s.Config.Auth, mux)
}

// maxConnections bounds in-flight requests with a counting semaphore,
// mirroring server.max_connections (§5's resource model).
func maxConnections(max int, next http.Handler) http.Handler {
	if max <= 0 {
		return next
	}
	sem := make(chan struct{}, max)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			http.Error(w, "server is at capacity", http.StatusServiceUnavailable)
		}
	})
}
