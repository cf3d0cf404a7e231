package httpapi

import (
	"net/http"
	"strings"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/config"
)

// requireAPIKey implements original_source's middleware/auth.rs precedence:
// disabled -> never challenge; path under a public prefix -> never
// challenge; empty protected_paths -> protect everything; otherwise
// challenge only paths matching a protected prefix. The key itself is
// looked up from Authorization: Bearer, then X-API-Key, then ?api_key=.
func requireAPIKey(cfg config.AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Enabled || !pathRequiresAuth(cfg, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := extractAPIKey(r)
		if key == "" || !isValidAPIKey(cfg.APIKeys, key) {
			writeError(w, nil, apperr.Unauthorized("missing or invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func pathRequiresAuth(cfg config.AuthConfig, path string) bool {
	for _, prefix := range cfg.PublicPaths {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	if len(cfg.ProtectedPaths) == 0 {
		return true
	}
	for _, prefix := range cfg.ProtectedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func isValidAPIKey(keys []string, candidate string) bool {
	for _, k := range keys {
		if k == candidate {
			return true
		}
	}
	return false
}
