// Package config loads and validates the media engine's TOML configuration,
// following the layered config.local.toml -> config.toml lookup the original
// service used.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
	Upload     UploadConfig     `toml:"upload"`
	Processing ProcessingConfig `toml:"processing"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Logging    LoggingConfig    `toml:"logging"`
	Auth       AuthConfig       `toml:"auth"`
	Rexpump    RexpumpConfig    `toml:"rexpump"`
}

type ServerConfig struct {
	Host                   string `toml:"host"`
	Port                   int    `toml:"port"`
	AdminHost              string `toml:"admin_host"`
	AdminPort              int    `toml:"admin_port"`
	BaseURL                string `toml:"base_url"`
	RequestTimeoutSeconds  int    `toml:"request_timeout_seconds"`
	MaxConnections         int    `toml:"max_connections"`
	CacheMaxAgeSeconds     int    `toml:"cache_max_age_seconds"`
	CleanupIntervalSeconds int    `toml:"cleanup_interval_seconds"`
}

type StorageConfig struct {
	DataDir        string `toml:"data_dir"`
	DirectoryLevels int   `toml:"directory_levels"`
	DatabaseFile   string `toml:"database_file"`
}

func (s StorageConfig) OriginalsPath() string { return filepath.Join(s.DataDir, "originals") }
func (s StorageConfig) OptimizedPath() string { return filepath.Join(s.DataDir, "optimized") }
func (s StorageConfig) TempPath() string      { return filepath.Join(s.DataDir, "temp") }
func (s StorageConfig) DatabasePath() string  { return filepath.Join(s.DataDir, s.DatabaseFile) }

type UploadConfig struct {
	MaxSimpleUploadSize    int64    `toml:"max_simple_upload_size"`
	MaxChunkedUploadSize   int64    `toml:"max_chunked_upload_size"`
	ChunkSize              int64    `toml:"chunk_size"`
	AllowedImageTypes      []string `toml:"allowed_image_types"`
	UploadSessionTimeoutSeconds int64 `toml:"upload_session_timeout_seconds"`
}

func (u UploadConfig) IsAllowedImageType(mime string) bool {
	mime = strings.ToLower(mime)
	for _, t := range u.AllowedImageTypes {
		if strings.ToLower(t) == mime {
			return true
		}
	}
	return false
}

type ProcessingConfig struct {
	OutputFormat      string `toml:"output_format"`
	OutputQuality     int    `toml:"output_quality"`
	MaxImageDimension int    `toml:"max_image_dimension"`
	KeepOriginals     bool   `toml:"keep_originals"`
	StripExif         bool   `toml:"strip_exif"`
}

func (p ProcessingConfig) OutputMimeType() string {
	switch strings.ToLower(p.OutputFormat) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "image/webp"
	}
}

func (p ProcessingConfig) OutputExtension() string {
	switch strings.ToLower(p.OutputFormat) {
	case "jpeg", "jpg":
		return "jpg"
	case "png":
		return "png"
	default:
		return "webp"
	}
}

type RateLimitConfig struct {
	Enabled           bool `toml:"enabled"`
	RequestsPerWindow int  `toml:"requests_per_window"`
	WindowSeconds     int  `toml:"window_seconds"`
	UploadsPerWindow  int  `toml:"uploads_per_window"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type AuthConfig struct {
	Enabled        bool     `toml:"enabled"`
	APIKeys        []string `toml:"api_keys"`
	ProtectedPaths []string `toml:"protected_paths"`
	PublicPaths    []string `toml:"public_paths"`
}

type EvmNetworkConfig struct {
	Name           string `toml:"name"`
	ChainID        uint64 `toml:"chain_id"`
	RPCURL         string `toml:"rpc_url"`
	FallbackRPCURL string `toml:"fallback_rpc_url"`
}

type RexpumpConfig struct {
	Enabled                bool                        `toml:"enabled"`
	SignatureMaxAgeSeconds int64                        `toml:"signature_max_age_seconds"`
	UpdateCooldownSeconds  int64                        `toml:"update_cooldown_seconds"`
	Networks               map[string]EvmNetworkConfig `toml:"networks"`
}

func (r RexpumpConfig) IsChainSupported(chainID uint64) bool {
	_, ok := r.networkByChainID(chainID)
	return ok
}

func (r RexpumpConfig) NetworkFor(chainID uint64) (EvmNetworkConfig, bool) {
	return r.networkByChainID(chainID)
}

// RPCURLs satisfies tokenmeta.NetworkResolver: the primary and fallback RPC
// endpoint for a chain, or two empty strings if the chain is unsupported.
func (r RexpumpConfig) RPCURLs(chainID uint64) (primary, fallback string) {
	n, ok := r.networkByChainID(chainID)
	if !ok {
		return "", ""
	}
	return n.RPCURL, n.FallbackRPCURL
}

func (r RexpumpConfig) networkByChainID(chainID uint64) (EvmNetworkConfig, bool) {
	for _, n := range r.Networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return EvmNetworkConfig{}, false
}

// Default returns a Config populated with the service's documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0", Port: 3000,
			AdminHost: "127.0.0.1", AdminPort: 3001,
			RequestTimeoutSeconds: 30, MaxConnections: 256,
			CacheMaxAgeSeconds: 31536000, CleanupIntervalSeconds: 300,
		},
		Storage: StorageConfig{
			DataDir: "./data", DirectoryLevels: 2, DatabaseFile: "metadata.badger",
		},
		Upload: UploadConfig{
			MaxSimpleUploadSize: 20 << 20, MaxChunkedUploadSize: 500 << 20,
			ChunkSize: 5 << 20,
			AllowedImageTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
			UploadSessionTimeoutSeconds: 3600,
		},
		Processing: ProcessingConfig{
			OutputFormat: "webp", OutputQuality: 85, MaxImageDimension: 2048,
			KeepOriginals: true, StripExif: true,
		},
		RateLimit: RateLimitConfig{
			Enabled: false, RequestsPerWindow: 100, WindowSeconds: 60, UploadsPerWindow: 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Auth:    AuthConfig{Enabled: false},
		Rexpump: RexpumpConfig{
			Enabled: false, SignatureMaxAgeSeconds: 300, UpdateCooldownSeconds: 60,
			Networks: map[string]EvmNetworkConfig{},
		},
	}
}

// LoadDefault tries config.local.toml then config.toml in the current
// directory, falling back to Default() if neither exists.
func LoadDefault() (Config, error) {
	for _, name := range []string{"config.local.toml", "config.toml"} {
		if _, err := os.Stat(name); err == nil {
			return Load(name)
		}
	}
	cfg := Default()
	return cfg, cfg.Validate()
}

func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Processing.OutputQuality < 1 || c.Processing.OutputQuality > 100 {
		return fmt.Errorf("processing.output_quality must be 1-100")
	}
	switch strings.ToLower(c.Processing.OutputFormat) {
	case "webp", "jpeg", "jpg", "png":
	default:
		return fmt.Errorf("processing.output_format %q not supported", c.Processing.OutputFormat)
	}
	if c.Upload.ChunkSize < 1024 {
		return fmt.Errorf("upload.chunk_size must be >= 1024")
	}
	if c.Upload.MaxChunkedUploadSize < c.Upload.MaxSimpleUploadSize {
		return fmt.Errorf("upload.max_chunked_upload_size must be >= max_simple_upload_size")
	}
	if strings.HasSuffix(c.Server.BaseURL, "/") {
		return fmt.Errorf("server.base_url must not have a trailing slash")
	}
	if c.Storage.DirectoryLevels < 0 || c.Storage.DirectoryLevels > 4 {
		return fmt.Errorf("storage.directory_levels must be 0-4")
	}
	return nil
}
