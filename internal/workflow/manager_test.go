package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dubber/internal/config"
	"dubber/internal/logging"
	"dubber/internal/pipeline"
	"dubber/internal/queue"
	"dubber/internal/services"
	"dubber/internal/stage"
	"dubber/internal/testsupport"
)

type fakeRunner struct {
	store *queue.Store

	mu       sync.Mutex
	calls    int
	outcomes []func(ctx context.Context, job *queue.Job) error
	block    chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, job *queue.Job) error {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	var outcome func(ctx context.Context, job *queue.Job) error
	if idx < len(f.outcomes) {
		outcome = f.outcomes[idx]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if outcome != nil {
		return outcome(ctx, job)
	}

	job.SetProgress(100)
	job.OutputVideo = "/output/" + job.Title + ".bn.mp4"
	job.SetCompleted(time.Now())
	return f.store.Update(ctx, job)
}

func (f *fakeRunner) Stats() pipeline.Stats { return pipeline.Stats{} }

func (f *fakeRunner) HealthCheck(context.Context) []stage.Health {
	return []stage.Health{stage.Healthy("pipeline")}
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// failWith mimics the pipeline's failure contract: the job record is
// persisted as failed before the error is returned.
func failWith(store *queue.Store, marker error, message string) func(ctx context.Context, job *queue.Job) error {
	return func(ctx context.Context, job *queue.Job) error {
		err := services.Wrap(marker, "transcribe", "request", message, nil)
		stage.Fail(job.StageByName(queue.StageTranscribe), time.Now())
		job.SetFailed("transcribe: "+message, time.Now())
		if uerr := store.Update(ctx, job); uerr != nil {
			return uerr
		}
		return err
	}
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	retries   []int
	drained   int
}

func (f *fakeNotifier) NotifyJobCompleted(_ context.Context, title, _ string, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, title)
	return nil
}

func (f *fakeNotifier) NotifyJobFailed(_ context.Context, _, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, reason)
	return nil
}

func (f *fakeNotifier) NotifyJobRetry(_ context.Context, _ string, attempt, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, attempt)
	return nil
}

func (f *fakeNotifier) NotifyQueueDrained(context.Context, int, int, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained++
	return nil
}

func (f *fakeNotifier) NotifyError(context.Context, error, string) error { return nil }
func (f *fakeNotifier) TestNotification(context.Context) error           { return nil }

func (f *fakeNotifier) snapshot() (completed, failed []string, retries []int, drained int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...), append([]string(nil), f.failed...),
		append([]int(nil), f.retries...), f.drained
}

type managerHarness struct {
	cfg      *config.Config
	store    *queue.Store
	runner   *fakeRunner
	notifier *fakeNotifier
	mgr      *Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *managerHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	runner := &fakeRunner{store: store}
	notifier := &fakeNotifier{}
	mgr := NewManagerWithNotifier(cfg, store, runner, notifier, logging.NewNop())
	return &managerHarness{cfg: cfg, store: store, runner: runner, notifier: notifier, mgr: mgr}
}

// dispatchAndWait claims pending jobs once and waits for the resulting
// workers to finish.
func (h *managerHarness) dispatchAndWait(t *testing.T) {
	t.Helper()
	h.mgr.dispatchOnce(context.Background())
	h.mgr.jobWG.Wait()
}

func (h *managerHarness) reload(t *testing.T, id string) *queue.Job {
	t.Helper()
	job, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job == nil {
		t.Fatalf("job %s disappeared", id)
	}
	return job
}

func TestDispatchRunsJobToCompletion(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "user-1", "movie")

	h.dispatchAndWait(t)

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}
	completed, _, _, drained := h.notifier.snapshot()
	if len(completed) != 1 || completed[0] != "movie" {
		t.Fatalf("completed notifications = %v", completed)
	}
	if drained != 1 {
		t.Fatalf("drained notifications = %d, want 1", drained)
	}
}

func TestDispatchRespectsConcurrencyCap(t *testing.T) {
	h := newHarness(t, testsupport.WithConcurrency(1))
	h.runner.block = make(chan struct{})
	first := testsupport.NewJob(t, h.store, "user-1", "first")
	second := testsupport.NewJob(t, h.store, "user-1", "second")

	h.mgr.dispatchOnce(context.Background())
	if n := h.mgr.activeCount(); n != 1 {
		t.Fatalf("active = %d, want 1", n)
	}

	// A second pass must not claim the waiting job while the slot is held.
	h.mgr.dispatchOnce(context.Background())
	if got := h.reload(t, second.ID); got.Status != queue.StatusPending {
		t.Fatalf("second job status = %s, want pending", got.Status)
	}

	close(h.runner.block)
	h.mgr.jobWG.Wait()
	h.runner.block = nil

	h.dispatchAndWait(t)
	if got := h.reload(t, first.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("first job status = %s", got.Status)
	}
	if got := h.reload(t, second.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("second job status = %s", got.Status)
	}
}

func TestTransientFailureSchedulesAutoRetry(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "user-1", "flaky")
	h.runner.outcomes = []func(context.Context, *queue.Job) error{
		failWith(h.store, services.ErrTransient, "connection reset"),
	}

	h.dispatchAndWait(t)

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.After(time.Now().UTC().Add(-time.Second)) {
		t.Fatalf("next retry at = %v", got.NextRetryAt)
	}
	if st := got.StageByName(queue.StageTranscribe); st == nil || st.Status != queue.StagePending {
		t.Fatalf("failed stage was not rearmed: %+v", st)
	}
	_, failed, retries, _ := h.notifier.snapshot()
	if len(retries) != 1 || retries[0] != 1 {
		t.Fatalf("retry notifications = %v", retries)
	}
	if len(failed) != 0 {
		t.Fatalf("unexpected failure notifications: %v", failed)
	}

	// After the hold-off elapses the job runs again and completes.
	time.Sleep(1100 * time.Millisecond)
	h.dispatchAndWait(t)
	got = h.reload(t, job.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status after retry = %s, want completed", got.Status)
	}
	if h.runner.callCount() != 2 {
		t.Fatalf("runner calls = %d, want 2", h.runner.callCount())
	}
}

func TestRetryHoldOffDelaysDispatch(t *testing.T) {
	h := newHarness(t)
	testsupport.NewJob(t, h.store, "user-1", "flaky")
	h.runner.outcomes = []func(context.Context, *queue.Job) error{
		failWith(h.store, services.ErrTransient, "gateway timeout"),
	}

	h.dispatchAndWait(t)

	// Immediately after the failure the hold-off is still in the future, so
	// dispatch must skip the job.
	h.mgr.dispatchOnce(context.Background())
	h.mgr.jobWG.Wait()
	if h.runner.callCount() != 1 {
		t.Fatalf("runner calls = %d, want 1 before hold-off expires", h.runner.callCount())
	}
}

func TestPermanentFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "user-1", "broken")
	h.runner.outcomes = []func(context.Context, *queue.Job) error{
		failWith(h.store, services.ErrPermanent, "unsupported codec"),
	}

	h.dispatchAndWait(t)

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "unsupported codec") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
	_, failed, retries, _ := h.notifier.snapshot()
	if len(retries) != 0 {
		t.Fatalf("unexpected retry notifications: %v", retries)
	}
	if len(failed) != 1 {
		t.Fatalf("failure notifications = %v", failed)
	}
	if h.runner.callCount() != 1 {
		t.Fatalf("runner calls = %d, want 1", h.runner.callCount())
	}
}

func TestQualityFailureNeverAutoRetries(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "user-1", "low-quality")
	h.runner.outcomes = []func(context.Context, *queue.Job) error{
		failWith(h.store, services.ErrQualityCheck, "Quality validation failed (score 0.40)"),
	}

	h.dispatchAndWait(t)

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", got.RetryCount)
	}
}

func TestRetriesStopAtBudget(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "user-1", "always-down")
	fail := failWith(h.store, services.ErrTransient, "service unavailable")
	h.runner.outcomes = []func(context.Context, *queue.Job) error{fail, fail, fail, fail, fail}

	for i := 0; i <= h.cfg.Queue.MaxRetries; i++ {
		h.dispatchAndWait(t)
		time.Sleep(1100 * time.Millisecond)
	}

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed after exhausting retries", got.Status)
	}
	if got.RetryCount != h.cfg.Queue.MaxRetries {
		t.Fatalf("retry count = %d, want %d", got.RetryCount, h.cfg.Queue.MaxRetries)
	}
	if h.runner.callCount() != h.cfg.Queue.MaxRetries+1 {
		t.Fatalf("runner calls = %d, want %d", h.runner.callCount(), h.cfg.Queue.MaxRetries+1)
	}
}

func TestJobTimeoutIsRetryable(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "user-1", "slow")
	h.runner.outcomes = []func(context.Context, *queue.Job) error{
		func(context.Context, *queue.Job) error {
			return context.DeadlineExceeded
		},
	}

	h.dispatchAndWait(t)

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending retry after timeout", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if !strings.Contains(got.ErrorMessage, "minute limit") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestJobTimeoutTerminalAfterBudget(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "user-1", "always-slow")
	h.runner.outcomes = []func(context.Context, *queue.Job) error{
		func(_ context.Context, j *queue.Job) error {
			j.RetryCount = j.MaxRetries
			return context.DeadlineExceeded
		},
	}

	h.dispatchAndWait(t)

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "minute limit") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestAddJobRejectsWhenQueueFull(t *testing.T) {
	h := newHarness(t, testsupport.WithQueueSize(1))
	ctx := context.Background()

	if _, err := h.mgr.AddJob(ctx, queue.Spec{
		UserID: "user-1", Title: "one", InputVideo: "/videos/one.mp4", TargetLanguage: "bn",
	}); err != nil {
		t.Fatalf("first AddJob: %v", err)
	}
	_, err := h.mgr.AddJob(ctx, queue.Spec{
		UserID: "user-1", Title: "two", InputVideo: "/videos/two.mp4", TargetLanguage: "bn",
	})
	if !errors.Is(err, services.ErrQueueFull) {
		t.Fatalf("second AddJob error = %v, want queue full", err)
	}
}

func TestAddJobRejectsInvalidSpec(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.AddJob(context.Background(), queue.Spec{UserID: "user-1"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestCancelJobAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "owner", "protected")

	if err := h.mgr.CancelJob(ctx, job.ID, "intruder"); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("cross-user cancel error = %v, want unauthorized", err)
	}
	if err := h.mgr.CancelJob(ctx, job.ID, "owner"); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if got := h.reload(t, job.ID); got.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if err := h.mgr.CancelJob(ctx, job.ID, "owner"); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("double cancel error = %v, want invalid state", err)
	}
}

func TestCancelInterruptsRunningJob(t *testing.T) {
	h := newHarness(t)
	h.runner.block = make(chan struct{})
	defer func() {
		if h.runner.block != nil {
			close(h.runner.block)
		}
	}()
	job := testsupport.NewJob(t, h.store, "user-1", "long-running")

	h.mgr.dispatchOnce(context.Background())
	if h.mgr.activeCount() != 1 {
		t.Fatal("job was not dispatched")
	}

	if err := h.mgr.CancelJob(context.Background(), job.ID, "user-1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	h.mgr.jobWG.Wait()

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	_, failed, retries, _ := h.notifier.snapshot()
	if len(failed) != 0 || len(retries) != 0 {
		t.Fatalf("cancelled job must not notify failure or retry: %v %v", failed, retries)
	}
}

func TestDeleteJobRemovesRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "owner", "doomed")

	if err := h.mgr.DeleteJob(ctx, job.ID, "intruder"); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("cross-user delete error = %v", err)
	}
	if err := h.mgr.DeleteJob(ctx, job.ID, "owner"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := h.mgr.GetJob(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("GetJob after delete = %v, want not found", err)
	}
}

func TestRetryJobClonesFailedJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "failed-once")

	if _, err := h.mgr.RetryJob(ctx, job.ID, "user-1"); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("retry of pending job error = %v, want invalid state", err)
	}

	job.SetFailed("transcribe: permanent failure", time.Now())
	if err := h.store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	clone, err := h.mgr.RetryJob(ctx, job.ID, "user-1")
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if clone.ID == job.ID {
		t.Fatal("retry must mint a new job id")
	}
	if clone.RetryOf != job.ID {
		t.Fatalf("retry_of = %q, want %q", clone.RetryOf, job.ID)
	}
	if clone.Status != queue.StatusPending || clone.RetryCount != 0 {
		t.Fatalf("clone = %s retry_count=%d, want pending with zero retries", clone.Status, clone.RetryCount)
	}
	if got := h.reload(t, job.ID); got.Status != queue.StatusFailed {
		t.Fatalf("original status = %s, must stay failed", got.Status)
	}
}

func TestStatusReportsQueueAndDispatchState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.NewJob(t, h.store, "user-1", "waiting")

	summary, err := h.mgr.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if summary.Running {
		t.Fatal("manager must not report running before Start")
	}
	if !summary.Accepting {
		t.Fatal("manager must accept jobs before Start")
	}
	if summary.Queue.Pending != 1 {
		t.Fatalf("pending = %d, want 1", summary.Queue.Pending)
	}
	if got := summary.Pipeline.JobsByStatus[queue.StatusPending]; got != 1 {
		t.Fatalf("pipeline pending count = %d, want 1", got)
	}
	if got := summary.Pipeline.JobsByStatus[queue.StatusCompleted]; got != 0 {
		t.Fatalf("pipeline completed count = %d, want 0", got)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "movie")

	if err := h.mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.mgr.Start(ctx); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("second Start error = %v, want invalid state", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		got := h.reload(t, job.ID)
		if got.Status == queue.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed, status = %s", got.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.mgr.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.mgr.Running() {
		t.Fatal("manager still reports running after Stop")
	}
	if _, err := h.mgr.AddJob(ctx, queue.Spec{
		UserID: "user-1", Title: "late", InputVideo: "/videos/late.mp4", TargetLanguage: "bn",
	}); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("AddJob after Stop error = %v, want invalid state", err)
	}
}

func TestStartRequeuesInterruptedJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "interrupted")

	now := time.Now().UTC()
	job.Status = queue.StatusProcessing
	job.StartedAt = &now
	job.Progress = 40
	if err := h.store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := h.mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.mgr.Stop(stopCtx)
	})

	deadline := time.Now().Add(10 * time.Second)
	for {
		got := h.reload(t, job.ID)
		if got.Status == queue.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("requeued job never completed, status = %s", got.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestMaintenanceFailsStaleProcessingJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "orphaned")

	stale := time.Now().UTC().Add(-time.Duration(h.cfg.Queue.JobTimeoutMinutes+5) * time.Minute)
	job.Status = queue.StatusProcessing
	job.StartedAt = &stale
	if err := h.store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	h.mgr.maintainOnce(ctx)

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "minute limit") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestMaintenanceExpiresOldTerminalJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.store, "user-1", "ancient")

	old := time.Now().UTC().AddDate(0, 0, -(h.cfg.Queue.RetentionDays + 1))
	job.SetCompleted(old)
	job.CompletedAt = &old
	if err := h.store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	h.mgr.maintainOnce(ctx)

	got, err := h.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Fatalf("expired job still present: %+v", got)
	}
}
