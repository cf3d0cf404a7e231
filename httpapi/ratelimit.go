package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/config"
)

// rateLimiter implements a fixed-window counter per client IP, mirroring
// original_source's two-bucket design: a general request budget and a
// separate, smaller upload budget for upload routes.
type rateLimiter struct {
	cfg config.RateLimitConfig

	mu       sync.Mutex
	general  map[string]*window
	uploads  map[string]*window
}

type window struct {
	count      int
	resetAt    time.Time
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	return &rateLimiter{cfg: cfg, general: map[string]*window{}, uploads: map[string]*window{}}
}

func (rl *rateLimiter) allow(buckets map[string]*window, key string, limit int, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := buckets[key]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(time.Duration(rl.cfg.WindowSeconds) * time.Second)}
		buckets[key] = w
	}
	w.count++
	return w.count <= limit
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (rl *rateLimiter) middleware(isUpload bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		now := time.Now()

		if isUpload {
			if !rl.allow(rl.uploads, ip, rl.cfg.UploadsPerWindow, now) {
				writeError(w, nil, apperr.RateLimitExceeded("upload rate limit exceeded"))
				return
			}
		}
		if !rl.allow(rl.general, ip, rl.cfg.RequestsPerWindow, now) {
			writeError(w, nil, apperr.RateLimitExceeded("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
