package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dubber/internal/config"
	"dubber/internal/logging"
	"dubber/internal/media"
	"dubber/internal/queue"
	"dubber/internal/services"
	"dubber/internal/stage"
	"dubber/internal/tts"
)

// Synthesizer is the slice of the TTS router the pipeline consumes.
// *tts.Router satisfies it.
type Synthesizer interface {
	GenerateSpeech(ctx context.Context, userID, text string, voice tts.VoiceConfig) (tts.Result, error)
}

// Collaborators bundles the injected capabilities behind the stage sequence.
type Collaborators struct {
	Extractor   media.Extractor
	Transcriber media.Transcriber
	Translator  media.Translator
	Synthesizer Synthesizer
	Assembler   media.Assembler
	Quality     media.QualityChecker
}

func (c Collaborators) validate() error {
	missing := ""
	switch {
	case c.Extractor == nil:
		missing = "extractor"
	case c.Transcriber == nil:
		missing = "transcriber"
	case c.Translator == nil:
		missing = "translator"
	case c.Synthesizer == nil:
		missing = "synthesizer"
	case c.Assembler == nil:
		missing = "assembler"
	case c.Quality == nil:
		missing = "quality checker"
	}
	if missing != "" {
		return services.Wrap(services.ErrConfiguration, "pipeline", "configure",
			fmt.Sprintf("Missing %s collaborator", missing), nil)
	}
	return nil
}

// Persister saves job mutations mid-flight. *queue.Store satisfies it.
type Persister interface {
	Update(ctx context.Context, job *queue.Job) error
}

// Runner drives one job through the stage sequence.
type Runner struct {
	cfg     *config.Config
	store   Persister
	collab  Collaborators
	logger  *slog.Logger
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes the runner.
type Option func(*Runner)

// WithSleeper overrides how retry backoff waits are performed (for testing).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRunner constructs a pipeline runner.
func NewRunner(cfg *config.Config, store Persister, collab Collaborators, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if err := collab.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		cfg:     cfg,
		store:   store,
		collab:  collab,
		logger:  logger.With(logging.String(logging.FieldComponent, "pipeline")),
		metrics: NewMetrics(cfg.Pipeline.HealthWindow),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Metrics exposes the runner's aggregate counters.
func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// Run executes every remaining stage of the job in order. The job must
// already be marked processing by the dispatcher. On success the job is left
// completed with progress 100 and the output path set; on failure it is left
// failed with a human-readable error message. Cancellation is observed
// between stages.
func (r *Runner) Run(ctx context.Context, job *queue.Job) error {
	start := time.Now()
	logger := r.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUserID, job.UserID),
	)
	logger.InfoContext(ctx, "pipeline started",
		logging.String("title", job.Title),
		logging.String("target_language", job.TargetLanguage))

	art := newArtifacts(r.cfg, job)
	state := &runState{job: job, artifacts: art}

	for _, name := range queue.StageOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := job.StageByName(name)
		if st == nil {
			return fmt.Errorf("job %s missing stage %s", job.ID, name)
		}
		if st.Status == queue.StageCompleted {
			continue
		}
		if err := r.runStage(ctx, logger, state, name); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			r.failJob(ctx, logger, job, name, err)
			r.metrics.recordOutcome(false, time.Since(start))
			return err
		}
	}

	job.SetProgress(100)
	job.OutputVideo = state.artifacts.output
	job.SetCompleted(time.Now())
	if err := r.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	r.metrics.recordOutcome(true, time.Since(start))
	logger.InfoContext(ctx, "pipeline completed",
		logging.String("output", job.OutputVideo),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

// runStage executes one stage with classifier-driven retries.
func (r *Runner) runStage(ctx context.Context, logger *slog.Logger, state *runState, name string) error {
	job := state.job
	attempts := r.cfg.Pipeline.StageMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base := time.Duration(r.cfg.Pipeline.StageRetryBaseSeconds) * time.Second

	stageCtx := services.WithStage(ctx, name)
	stageLogger := logger.With(logging.String(logging.FieldStage, name))

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			job.RetryCount++
			delay := services.Backoff(base, attempt-1)
			stageLogger.WarnContext(stageCtx, "retrying stage",
				logging.Int("attempt", attempt+1),
				logging.Duration("delay", delay),
				logging.Error(lastErr))
			if err := r.sleep(stageCtx, delay); err != nil {
				return err
			}
		}

		st := stage.Begin(job, name, time.Now())
		if err := r.store.Update(stageCtx, job); err != nil {
			return fmt.Errorf("persist stage start: %w", err)
		}

		err := r.executeStage(stageCtx, state, name)
		if err == nil {
			stage.Finish(st, time.Now())
			r.advanceProgress(job, name)
			if err := r.store.Update(stageCtx, job); err != nil {
				return fmt.Errorf("persist stage result: %w", err)
			}
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}

		stage.Fail(st, time.Now())
		lastErr = err

		switch services.Classify(err) {
		case services.ActionRetry:
			stage.Rearm(st)
			continue
		default:
			// Fallback verdicts that escape the router mean both backends
			// are out; like permanent faults they end the job.
			return err
		}
	}
	if st := job.StageByName(name); st != nil {
		stage.Fail(st, time.Now())
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

// failJob marks the job failed and persists it. Quality failures keep their
// full issue text.
func (r *Runner) failJob(ctx context.Context, logger *slog.Logger, job *queue.Job, stageName string, stageErr error) {
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	job.SetFailed(fmt.Sprintf("%s: %s", stageName, message), time.Now())

	logger.ErrorContext(ctx, "pipeline failed",
		logging.String(logging.FieldStage, stageName),
		logging.String(logging.FieldErrorKind, details.Kind),
		logging.Error(stageErr))

	if err := r.store.Update(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "failed to persist job failure", logging.Error(err))
	}
}

// advanceProgress moves job progress to the whole-stage boundary after the
// named stage completed.
func (r *Runner) advanceProgress(job *queue.Job, completed string) {
	for i, name := range queue.StageOrder {
		if name == completed {
			job.SetProgress((i + 1) * 100 / len(queue.StageOrder))
			return
		}
	}
}

// Stats reports aggregate pipeline outcomes for status surfaces.
func (r *Runner) Stats() Stats {
	return r.metrics.Stats()
}

// HealthCheck reports per-collaborator readiness the way stage handlers do.
func (r *Runner) HealthCheck(ctx context.Context) []stage.Health {
	checks := []stage.Health{stage.Healthy("pipeline")}
	if !r.metrics.Healthy(r.cfg.Pipeline.FailureRateThreshold) {
		checks[0] = stage.Unhealthy("pipeline",
			fmt.Sprintf("recent failure rate above %.0f%%", r.cfg.Pipeline.FailureRateThreshold*100))
	}
	return checks
}
