package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"dubber/internal/config"
	"dubber/internal/logging"
	"dubber/internal/queue"
	"dubber/internal/tts"
	"dubber/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	router   *tts.Router

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	TTSSessions  int
	TTSUsage     map[string]tts.ServiceUsage
}

// New constructs a daemon with initialized dependencies. The TTS router is
// optional; without it the usage endpoints report nothing.
func New(cfg *config.Config, store *queue.Store, wf *workflow.Manager, router *tts.Router, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "dubberd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		router:   router,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock and launches the workflow manager and the
// HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dubber daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = d.workflow.Stop(stopCtx)
			stopCancel()
			cancel()
			d.cancel = nil
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.InfoContext(ctx, "dubber daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop drains background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := d.workflow.Stop(stopCtx); err != nil {
		d.logger.Warn("workflow stop interrupted in-flight jobs", logging.Error(err))
	}
	cancel()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("dubber daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, or "" when the API is disabled or
// not yet started.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	summary, err := d.workflow.Status(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "workflow status unavailable", logging.Error(err))
	}
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     summary,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if d.router != nil {
		status.TTSSessions = d.router.ActiveSessions()
		status.TTSUsage = d.router.Usage()
	}
	return status
}
