package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/api"
	"github.com/snarg/vidscribe/internal/brain"
	"github.com/snarg/vidscribe/internal/config"
	"github.com/snarg/vidscribe/internal/engine"
	"github.com/snarg/vidscribe/internal/events"
	"github.com/snarg/vidscribe/internal/jobs"
	"github.com/snarg/vidscribe/internal/media"
	"github.com/snarg/vidscribe/internal/pipeline"
	"github.com/snarg/vidscribe/internal/storage"
	"github.com/snarg/vidscribe/internal/store"
	"github.com/snarg/vidscribe/internal/watcher"
)

var version = "dev"

func main() {
	startTime := time.Now()

	httpAddr := flag.String("addr", "", "http listen address (overrides HTTP_ADDR)")
	envFile := flag.String("env-file", "", "path to .env file")
	logLevel := flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	watchDir := flag.String("watch", "", "directory to watch for dropped videos (overrides WATCH_DIR)")
	flag.Parse()

	// Config
	cfg, err := config.Load(config.Overrides{
		EnvFile:  *envFile,
		HTTPAddr: *httpAddr,
		LogLevel: *logLevel,
		WatchDir: *watchDir,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("vidscribe starting")

	if err := media.CheckFFmpeg(); err != nil {
		log.Fatal().Err(err).Msg("ffmpeg is required")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job history
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open job history database")
	}
	defer db.Close()

	// Artifact storage
	storeLog := log.With().Str("component", "storage").Logger()
	artifacts, err := storage.New(cfg.S3, cfg.ResultsDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize artifact storage")
	}

	// Optional MQTT event publishing
	var pub *events.Publisher
	if cfg.MQTTBrokerURL != "" {
		eventLog := log.With().Str("component", "events").Logger()
		pub, err = events.Connect(events.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       eventLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer pub.Close()
	}

	// Transcription pipeline
	whisper := engine.NewWhisperClient(cfg.WhisperURL, cfg.WhisperTimeout,
		log.With().Str("component", "whisper").Logger())
	extractor := media.NewExtractor("", log.With().Str("component", "media").Logger())
	pipe := pipeline.New(extractor, whisper, pipeline.StageTimeouts{
		Load:       cfg.LoadTimeout,
		Extract:    cfg.ExtractTimeout,
		Transcribe: cfg.WhisperTimeout,
	}, log.With().Str("component", "pipeline").Logger())

	// Optional content analysis
	var analyzer *brain.Analyzer
	if cfg.BrainEnabled {
		chat := brain.NewChatClient(cfg.BrainURL, cfg.BrainModel, cfg.BrainAPIKey,
			cfg.BrainTimeout, log.With().Str("component", "brain").Logger())
		analyzer = brain.NewAnalyzer(chat, log.With().Str("component", "brain").Logger())
	}

	run := func(ctx context.Context, req pipeline.Request, analyze bool, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
		var a pipeline.Analyzer
		if analyzer != nil {
			a = analyzer
		}
		return pipe.TranscribeAndAnalyze(ctx, req, a, analyze, progress)
	}

	mgr := jobs.NewManager(jobs.Options{
		Run:       run,
		Artifacts: artifacts,
		History:   db,
		Events:    pub,
		Workers:   cfg.JobWorkers,
		Log:       log,
	})

	// Optional drop-folder watcher
	if cfg.WatchDir != "" {
		watchLog := log.With().Str("component", "watcher").Logger()
		w := watcher.New(cfg.WatchDir, func(path string) {
			mgr.Submit(ctx, jobs.SubmitRequest{
				VideoPath:  path,
				SourceName: path,
				Model:      cfg.DefaultModel,
				Language:   cfg.DefaultLang,
				Analyze:    analyzer != nil,
			})
		}, watchLog)
		if err := w.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("failed to start watcher")
		}
		defer w.Stop()
	}

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	deps := api.Deps{
		Jobs:      mgr,
		History:   db,
		Artifacts: artifacts,
		Events:    pub,
		Version:   version,
		StartTime: startTime,
	}
	if analyzer != nil {
		deps.Brain = analyzer
	}
	srv := api.NewServer(cfg, deps, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	mgr.Wait()
	log.Info().Msg("vidscribe stopped")
}
