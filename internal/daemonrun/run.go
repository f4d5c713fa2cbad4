// Package daemonrun assembles the full processing stack and runs the daemon
// process until it receives a termination signal.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"dubber/internal/config"
	"dubber/internal/daemon"
	"dubber/internal/logging"
	"dubber/internal/media"
	"dubber/internal/notifications"
	"dubber/internal/pipeline"
	"dubber/internal/queue"
	"dubber/internal/services/coqui"
	"dubber/internal/services/googletts"
	"dubber/internal/tts"
	"dubber/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the dubber daemon runtime loop and blocks until shutdown.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("dubber-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "dubberd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	router, coquiClient, err := buildRouter(cfg, logger)
	if err != nil {
		return err
	}
	if coquiClient != nil {
		defer coquiClient.Close()
	}

	runner, err := buildRunner(cfg, store, router, logger)
	if err != nil {
		return err
	}

	notifier := notifications.NewService(cfg)
	manager := workflow.NewManagerWithNotifier(cfg, store, runner, notifier, logger)

	d, err := daemon.New(cfg, store, manager, router, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return err
	}

	<-signalCtx.Done()
	logger.Info("dubber daemon shutting down")
	return nil
}

// buildRouter wires the configured TTS backends into the A/B router. The
// Coqui client is returned so the caller can close its bridge process.
func buildRouter(cfg *config.Config, logger *slog.Logger) (*tts.Router, *coqui.Client, error) {
	backends := make(map[string]tts.Backend)
	backends[tts.ServiceGoogle] = googletts.NewClient(cfg.TTS.Google)

	var coquiClient *coqui.Client
	if cfg.TTS.Coqui.BridgeScript != "" {
		coquiClient = coqui.NewClient(cfg.TTS.Coqui)
		backends[tts.ServiceCoqui] = coquiClient
	}

	router, err := tts.NewRouter(cfg.TTS, backends, logger)
	if err != nil {
		if coquiClient != nil {
			coquiClient.Close()
		}
		return nil, nil, fmt.Errorf("build tts router: %w", err)
	}
	return router, coquiClient, nil
}

// buildRunner wires the media collaborators into the pipeline runner.
func buildRunner(cfg *config.Config, store *queue.Store, router *tts.Router, logger *slog.Logger) (*pipeline.Runner, error) {
	ffmpeg := media.NewFFmpeg(cfg.FFmpegBinary())
	prober := media.NewFFprobe(cfg.FFprobeBinary())
	timeout := time.Duration(cfg.Media.RequestTimeoutSeconds) * time.Second

	collab := pipeline.Collaborators{
		Extractor: ffmpeg,
		Transcriber: media.NewHTTPTranscriber(
			cfg.Media.TranscriptionURL, cfg.Media.TranscriptionAPIKey,
			cfg.Media.TranscriptionModel, timeout),
		Translator: media.NewHTTPTranslator(
			cfg.Media.TranslationURL, cfg.Media.TranslationAPIKey,
			cfg.Media.TranslationModel, timeout),
		Synthesizer: router,
		Assembler:   ffmpeg,
		Quality:     media.NewQualityChecker(prober, cfg.Media.QualityMinScore),
	}
	return pipeline.NewRunner(cfg, store, collab, logger)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
