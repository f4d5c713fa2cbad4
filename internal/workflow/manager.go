package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dubber/internal/config"
	"dubber/internal/logging"
	"dubber/internal/notifications"
	"dubber/internal/pipeline"
	"dubber/internal/queue"
	"dubber/internal/services"
	"dubber/internal/stage"
)

// JobRunner executes one job through the processing pipeline. Satisfied by
// *pipeline.Runner.
type JobRunner interface {
	Run(ctx context.Context, job *queue.Job) error
	Stats() pipeline.Stats
	HealthCheck(ctx context.Context) []stage.Health
}

// Manager owns the dispatch loop and all queue-level job operations.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	runner   JobRunner
	notifier notifications.Service
	logger   *slog.Logger

	pollInterval  time.Duration
	maintainEvery time.Duration
	jobTimeout    time.Duration

	mu        sync.Mutex
	running   bool
	accepting bool
	cancel    context.CancelFunc
	active    map[string]context.CancelFunc
	busySince time.Time
	processed int
	failed    int

	loopWG sync.WaitGroup
	jobWG  sync.WaitGroup
}

// NewManager creates a workflow manager with notifications derived from the
// configuration.
func NewManager(cfg *config.Config, store *queue.Store, runner JobRunner, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, runner, notifications.NewService(cfg), logger)
}

// NewManagerWithNotifier creates a workflow manager with an explicit
// notification service. Used by tests to observe notification traffic.
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, runner JobRunner, notifier notifications.Service, logger *slog.Logger) *Manager {
	poll := time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	maintain := time.Duration(cfg.Queue.MaintenanceSeconds) * time.Second
	if maintain <= 0 {
		maintain = time.Minute
	}
	return &Manager{
		cfg:           cfg,
		store:         store,
		runner:        runner,
		notifier:      notifier,
		logger:        logging.NewComponentLogger(logger, "workflow"),
		pollInterval:  poll,
		maintainEvery: maintain,
		jobTimeout:    time.Duration(cfg.Queue.JobTimeoutMinutes) * time.Minute,
		accepting:     true,
		active:        make(map[string]context.CancelFunc),
	}
}

// Start launches the dispatch and maintenance loops. Jobs left in processing
// by an earlier run are returned to pending before dispatch begins.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "workflow", "start", "manager already running", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.accepting = true
	m.cancel = cancel
	m.mu.Unlock()

	reset, err := m.store.ResetStuckProcessing(runCtx)
	if err != nil {
		m.logger.ErrorContext(runCtx, "failed to reset stuck jobs", logging.Error(err))
	} else if reset > 0 {
		m.logger.InfoContext(runCtx, "requeued interrupted jobs", logging.Int64("count", reset))
	}

	m.loopWG.Add(2)
	go m.dispatchLoop(runCtx)
	go m.maintenanceLoop(runCtx)

	m.logger.InfoContext(runCtx, "workflow manager started",
		logging.Int("max_concurrent", m.cfg.Queue.MaxConcurrentJobs),
		logging.Duration("poll_interval", m.pollInterval))
	return nil
}

// Stop halts dispatch and waits for in-flight jobs to finish. Jobs are not
// interrupted unless ctx expires first, in which case their contexts are
// cancelled and the wait resumes.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.accepting = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		m.jobWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("workflow manager stopped")
		return nil
	case <-ctx.Done():
		m.cancelActiveJobs()
		<-done
		m.logger.Warn("workflow manager stopped, in-flight jobs interrupted")
		return ctx.Err()
	}
}

// Running reports whether the dispatch loop is live.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) cancelActiveJobs() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.active))
	for _, cancel := range m.active {
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (m *Manager) lookupActive(jobID string) context.CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[jobID]
}

func (m *Manager) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
