package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/rexpump/media-upload-server-public/blobstore"
	"github.com/rexpump/media-upload-server-public/config"
	"github.com/rexpump/media-upload-server-public/evmsig"
	"github.com/rexpump/media-upload-server-public/httpapi"
	"github.com/rexpump/media-upload-server-public/imagepipe"
	"github.com/rexpump/media-upload-server-public/media"
	"github.com/rexpump/media-upload-server-public/metastore"
	"github.com/rexpump/media-upload-server-public/serving"
	"github.com/rexpump/media-upload-server-public/tokenmeta"
	"github.com/rexpump/media-upload-server-public/upload"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to a TOML config file (defaults to config.local.toml, then config.toml)",
}

var app = &cli.Command{
	Name:   "mediaserver",
	Usage:  "the media ingestion, storage and serving service",
	Flags:  []cli.Flag{configFlag},
	Action: run,
	Commands: []*cli.Command{
		{
			Name:   "migrate",
			Usage:  "open the metadata store and run pending migrations, then exit",
			Flags:  []cli.Flag{configFlag},
			Action: migrate,
		},
	},
}

func main() {
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(cfg.Logging)

	meta, err := metastore.Open(cfg.Storage.DatabasePath(), log)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer meta.Close()

	blobs, err := blobstore.New(cfg.Storage.DataDir, cfg.Storage.DirectoryLevels)
	if err != nil {
		return fmt.Errorf("preparing blob storage: %w", err)
	}

	medias := media.NewStore(meta)
	pipeline := imagepipe.NewPool(0)
	evmClient := evmsig.NewClient()

	engineCfg := upload.Config{
		MaxSimpleUploadSize:  cfg.Upload.MaxSimpleUploadSize,
		MaxChunkedUploadSize: cfg.Upload.MaxChunkedUploadSize,
		ChunkSize:            cfg.Upload.ChunkSize,
		SessionTimeout:       time.Duration(cfg.Upload.UploadSessionTimeoutSeconds) * time.Second,
		AllowedImageTypes:    cfg.Upload.AllowedImageTypes,
		MaxImageDimension:    cfg.Processing.MaxImageDimension,
		StripExif:            cfg.Processing.StripExif,
		OutputFormat:         cfg.Processing.OutputFormat,
		OutputQuality:        cfg.Processing.OutputQuality,
		KeepOriginals:        cfg.Processing.KeepOriginals,
	}
	sessions := upload.NewSessionStore(meta)
	engine := upload.NewEngine(engineCfg, sessions, medias, blobs, pipeline, log)
	janitor := upload.NewJanitor(engine, log)

	tokenStore := tokenmeta.NewStore(meta)
	tokens := tokenmeta.NewService(
		tokenStore, evmClient, engine, medias, blobs, cfg.Rexpump,
		cfg.Rexpump.SignatureMaxAgeSeconds,
		time.Duration(cfg.Rexpump.UpdateCooldownSeconds)*time.Second,
		log,
	)

	serveHandler := serving.New(medias, blobs, time.Duration(cfg.Server.CacheMaxAgeSeconds)*time.Second, log)

	state := &httpapi.AppState{
		Config: cfg, Meta: meta, Medias: medias, Blobs: blobs, Pipeline: pipeline,
		EVM: evmClient, Engine: engine, Janitor: janitor, Tokens: tokens, Serve: serveHandler,
		Log: log,
	}

	if err := startupRecovery(state); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	stop := make(chan struct{})
	go janitor.Run(time.Duration(cfg.Server.CleanupIntervalSeconds)*time.Second, stop)
	defer close(stop)

	publicAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	adminAddr := fmt.Sprintf("%s:%d", cfg.Server.AdminHost, cfg.Server.AdminPort)

	publicServer := &http.Server{
		Addr:        publicAddr,
		Handler:     state.NewPublicRouter(),
		ReadTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}
	adminServer := &http.Server{
		Addr:        adminAddr,
		Handler:     state.NewAdminRouter(),
		ReadTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", publicAddr).Msg("public server listening")
		errs <- publicServer.ListenAndServe()
	}()
	go func() {
		log.Info().Str("addr", adminAddr).Msg("admin server listening")
		errs <- adminServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		return err
	case <-sigCh:
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		publicServer.Shutdown(shutdownCtx)
		adminServer.Shutdown(shutdownCtx)
		return nil
	}
}

// migrate opens the metadata store, which runs any pending migrations as
// part of metastore.Open, then closes it without starting either HTTP
// server. Useful for applying schema changes ahead of a rolling deploy.
func migrate(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(cfg.Logging)

	meta, err := metastore.Open(cfg.Storage.DatabasePath(), log)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer meta.Close()

	log.Info().Msg("migrations up to date")
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// startupRecovery implements §7's crash recovery: reopening the metadata
// store already replayed its WAL; this additionally fails any session
// caught mid-"processing" and sweeps stale scratch directories.
func startupRecovery(s *httpapi.AppState) error {
	n, err := s.Janitor.RecoverCrashedSessions()
	if err != nil {
		return err
	}
	if n > 0 {
		s.Log.Warn().Int("count", n).Msg("failed sessions stuck in processing at startup")
	}

	result, err := s.Janitor.Sweep()
	if err != nil {
		return err
	}
	s.Log.Info().
		Int("sessions_expired", result.SessionsExpired).
		Int("scratch_dirs_removed", result.ScratchDirsRemoved).
		Int("orphaned_dirs_removed", result.OrphanedDirsRemoved).
		Msg("startup cleanup sweep complete")
	return nil
}
