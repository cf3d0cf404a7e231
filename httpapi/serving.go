package httpapi

import "net/http"

// handleServeOptimized delegates GET /m/{id} to the serving package.
func (s *AppState) handleServeOptimized(w http.ResponseWriter, r *http.Request) {
	s.Serve.ServeOptimized(w, r, r.PathValue("id"))
}

// handleServeOriginal delegates GET /m/{id}/original to the serving package.
func (s *AppState) handleServeOriginal(w http.ResponseWriter, r *http.Request) {
	s.Serve.ServeOriginal(w, r, r.PathValue("id"))
}
