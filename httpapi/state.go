// Package httpapi wires the public and admin HTTP surfaces (§6) on top of
// the domain packages, the way khatru/relay.go bundles process-wide state
// into a single value passed explicitly rather than through globals.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rexpump/media-upload-server-public/blobstore"
	"github.com/rexpump/media-upload-server-public/config"
	"github.com/rexpump/media-upload-server-public/evmsig"
	"github.com/rexpump/media-upload-server-public/imagepipe"
	"github.com/rexpump/media-upload-server-public/media"
	"github.com/rexpump/media-upload-server-public/metastore"
	"github.com/rexpump/media-upload-server-public/serving"
	"github.com/rexpump/media-upload-server-public/tokenmeta"
	"github.com/rexpump/media-upload-server-public/upload"
)

// AppState is the one process-wide value this service builds at startup,
// per spec.md §9's "no global singletons" design note.
type AppState struct {
	Config  config.Config
	Meta    *metastore.Store
	Medias  *media.Store
	Blobs   *blobstore.Store
	Pipeline *imagepipe.Pool
	EVM     *evmsig.Client
	Engine  *upload.Engine
	Janitor *upload.Janitor
	Tokens  *tokenmeta.Service
	Serve   *serving.Handler
	Log     zerolog.Logger
}

// BaseURL resolves the externally visible origin for a request, preferring
// the configured server.base_url and falling back to the X-Forwarded-*
// heuristic khatru's Relay.getBaseURL uses.
func (s *AppState) BaseURL(r *http.Request) string {
	if s.Config.Server.BaseURL != "" {
		return s.Config.Server.BaseURL
	}

	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		switch {
		case host == "localhost":
			proto = "http"
		case strings.Contains(host, ":"):
			proto = "http"
		case isNakedIP(host):
			proto = "http"
		default:
			proto = "https"
		}
	}
	return proto + "://" + host
}

func isNakedIP(host string) bool {
	_, err := strconv.Atoi(strings.ReplaceAll(host, ".", ""))
	return err == nil
}

func (s *AppState) mediaURL(r *http.Request, id string) string {
	return s.BaseURL(r) + "/m/" + id
}

func (s *AppState) originalURL(r *http.Request, id string) string {
	return s.BaseURL(r) + "/m/" + id + "/original"
}
