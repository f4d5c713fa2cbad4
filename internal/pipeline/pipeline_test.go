package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dubber/internal/config"
	"dubber/internal/media"
	"dubber/internal/pipeline"
	"dubber/internal/queue"
	"dubber/internal/services"
	"dubber/internal/testsupport"
	"dubber/internal/tts"
)

type fakeExtractor struct{ calls int }

func (f *fakeExtractor) ExtractAudio(ctx context.Context, videoPath, destPath string) error {
	f.calls++
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("wav"), 0o644)
}

type fakeTranscriber struct {
	errs  []error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, sourceLanguage string) (media.Transcript, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return media.Transcript{}, err
		}
	}
	return media.Transcript{
		Language:   "en",
		Confidence: 0.94,
		Segments: []media.Segment{
			{Index: 0, Text: "Hello.", Start: 0, End: 1.2, Confidence: 0.95},
			{Index: 1, Text: "Welcome home.", Start: 1.6, End: 3.4, Confidence: 0.93},
		},
	}, nil
}

type fakeTranslator struct{ calls int }

func (f *fakeTranslator) Translate(ctx context.Context, transcript media.Transcript, targetLanguage string) (media.Transcript, error) {
	f.calls++
	out := transcript
	out.Language = targetLanguage
	out.Segments = append([]media.Segment(nil), transcript.Segments...)
	for i := range out.Segments {
		out.Segments[i].Text = "[" + targetLanguage + "] " + out.Segments[i].Text
	}
	return out, nil
}

type fakeSynthesizer struct{ calls int }

func (f *fakeSynthesizer) GenerateSpeech(ctx context.Context, userID, text string, voice tts.VoiceConfig) (tts.Result, error) {
	f.calls++
	chars := len([]rune(text))
	return tts.Result{
		Audio:      []byte("RIFF"),
		Service:    tts.ServiceGoogle,
		Voice:      "bn-IN-Wavenet-A",
		Characters: chars,
		Cost:       float64(chars) * 16.0 / 1_000_000,
	}, nil
}

type fakeAssembler struct{ assembleCalls, muxCalls int }

func (f *fakeAssembler) AssembleAudioTrack(ctx context.Context, segments []media.AudioSegment, destPath string) error {
	f.assembleCalls++
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("m4a"), 0o644)
}

func (f *fakeAssembler) CombineVideoAudio(ctx context.Context, videoPath, audioPath, destPath string) error {
	f.muxCalls++
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("mp4"), 0o644)
}

type fakeQuality struct {
	report media.QualityReport
	calls  int
}

func (f *fakeQuality) ValidateOutput(ctx context.Context, outputPath string) (media.QualityReport, error) {
	f.calls++
	return f.report, nil
}

type harness struct {
	cfg         *config.Config
	store       *queue.Store
	extractor   *fakeExtractor
	transcriber *fakeTranscriber
	translator  *fakeTranslator
	synthesizer *fakeSynthesizer
	assembler   *fakeAssembler
	quality     *fakeQuality
	runner      *pipeline.Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cfg:         testsupport.NewConfig(t),
		extractor:   &fakeExtractor{},
		transcriber: &fakeTranscriber{},
		translator:  &fakeTranslator{},
		synthesizer: &fakeSynthesizer{},
		assembler:   &fakeAssembler{},
		quality:     &fakeQuality{report: media.QualityReport{PassesThreshold: true, OverallScore: 0.97}},
	}
	h.store = testsupport.MustOpenStore(t, h.cfg)
	runner, err := pipeline.NewRunner(h.cfg, h.store, pipeline.Collaborators{
		Extractor:   h.extractor,
		Transcriber: h.transcriber,
		Translator:  h.translator,
		Synthesizer: h.synthesizer,
		Assembler:   h.assembler,
		Quality:     h.quality,
	}, nil, pipeline.WithSleeper(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	h.runner = runner
	return h
}

func (h *harness) submitJob(t *testing.T) *queue.Job {
	t.Helper()
	input := filepath.Join(t.TempDir(), "input.mp4")
	if err := os.WriteFile(input, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	job, err := h.store.Add(context.Background(), queue.Spec{
		UserID:         "user-1",
		Title:          "Wildlife Documentary",
		InputVideo:     input,
		TargetLanguage: "bn",
	})
	if err != nil {
		t.Fatal(err)
	}
	job.Status = queue.StatusProcessing
	now := time.Now().UTC()
	job.StartedAt = &now
	if err := h.store.Update(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestRunCompletesJob(t *testing.T) {
	h := newHarness(t)
	job := h.submitJob(t)

	if err := h.runner.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", job.Progress)
	}
	if job.OutputVideo == "" || !strings.Contains(job.OutputVideo, ".bn.") {
		t.Fatalf("unexpected output path %q", job.OutputVideo)
	}
	if job.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}
	if job.Cost == nil || job.Cost.TotalCost <= 0 {
		t.Fatalf("expected nonzero cost, got %#v", job.Cost)
	}
	if job.Cost.TTSCharacters == 0 {
		t.Fatal("TTS characters not tracked")
	}
	for _, st := range job.Stages {
		if st.Status != queue.StageCompleted {
			t.Fatalf("stage %s not completed: %s", st.Name, st.Status)
		}
	}
	if st := job.StageByName(queue.StageSynthesize); st.ServiceUsed != tts.ServiceGoogle {
		t.Fatalf("synthesize service not recorded: %#v", st)
	}
	if h.synthesizer.calls != 2 {
		t.Fatalf("expected one synthesis per segment, got %d", h.synthesizer.calls)
	}

	persisted, err := h.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Status != queue.StatusCompleted {
		t.Fatalf("completion not persisted: %s", persisted.Status)
	}
}

func TestRunRetriesTransientStageFailure(t *testing.T) {
	h := newHarness(t)
	h.transcriber.errs = []error{
		services.Wrap(services.ErrTransient, "transcribe", "request", "Transcription service unreachable", nil),
	}
	job := h.submitJob(t)

	if err := h.runner.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s", job.Status)
	}
	if job.RetryCount < 1 {
		t.Fatalf("expected retryCount >= 1, got %d", job.RetryCount)
	}
	if h.transcriber.calls != 2 {
		t.Fatalf("expected 2 transcription attempts, got %d", h.transcriber.calls)
	}
}

func TestRunFailsAfterExhaustedRetries(t *testing.T) {
	h := newHarness(t)
	permanentlyDown := services.Wrap(services.ErrTransient, "transcribe", "request",
		"Transcription service unreachable", nil)
	h.transcriber.errs = []error{permanentlyDown, permanentlyDown, permanentlyDown, permanentlyDown}
	job := h.submitJob(t)

	err := h.runner.Run(context.Background(), job)
	if err == nil {
		t.Fatal("expected failure")
	}
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "unreachable") && !strings.Contains(job.ErrorMessage, "attempts") {
		t.Fatalf("error message lost the cause: %q", job.ErrorMessage)
	}
	if h.transcriber.calls != h.cfg.Pipeline.StageMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", h.cfg.Pipeline.StageMaxAttempts, h.transcriber.calls)
	}
	// Later stages must never have started.
	if h.translator.calls != 0 || h.synthesizer.calls != 0 {
		t.Fatal("downstream stages ran after a failed stage")
	}
}

func TestRunPermanentErrorDoesNotRetry(t *testing.T) {
	h := newHarness(t)
	h.transcriber.errs = []error{
		services.Wrap(services.ErrPermanent, "transcribe", "request", "Audio format unsupported", nil),
	}
	job := h.submitJob(t)

	if err := h.runner.Run(context.Background(), job); err == nil {
		t.Fatal("expected failure")
	}
	if h.transcriber.calls != 1 {
		t.Fatalf("permanent errors must not retry, got %d attempts", h.transcriber.calls)
	}
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
}

func TestRunQualityFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.quality.report = media.QualityReport{
		PassesThreshold: false,
		OverallScore:    0.35,
		Issues:          []string{"output has no audio stream"},
	}
	job := h.submitJob(t)

	err := h.runner.Run(context.Background(), job)
	if err == nil {
		t.Fatal("expected failure")
	}
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "Quality validation failed") {
		t.Fatalf("error message must reference quality validation: %q", job.ErrorMessage)
	}
	if !strings.Contains(job.ErrorMessage, "no audio stream") {
		t.Fatalf("issue list missing from error message: %q", job.ErrorMessage)
	}
	if h.quality.calls != 1 {
		t.Fatalf("quality failures must not retry, got %d calls", h.quality.calls)
	}
}

func TestRunObservesCancellationBetweenStages(t *testing.T) {
	h := newHarness(t)
	job := h.submitJob(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.runner.Run(ctx, job); err == nil {
		t.Fatal("expected context error")
	}
	if h.extractor.calls != 0 {
		t.Fatal("no stage may start after cancellation")
	}
}

func TestMetricsTrackOutcomes(t *testing.T) {
	h := newHarness(t)

	good := h.submitJob(t)
	if err := h.runner.Run(context.Background(), good); err != nil {
		t.Fatal(err)
	}

	h.quality.report = media.QualityReport{PassesThreshold: false, OverallScore: 0.1}
	bad := h.submitJob(t)
	if err := h.runner.Run(context.Background(), bad); err == nil {
		t.Fatal("expected failure")
	}

	stats := h.runner.Metrics().Stats()
	if stats.TotalJobs != 2 || stats.Succeeded != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Fatalf("unexpected success rate %f", stats.SuccessRate)
	}
	if stats.AverageProcessingTime <= 0 {
		t.Fatalf("average duration not tracked: %v", stats.AverageProcessingTime)
	}
}

func TestHealthReflectsRecentFailures(t *testing.T) {
	h := newHarness(t)
	h.quality.report = media.QualityReport{PassesThreshold: false, OverallScore: 0.1}

	for i := 0; i < 3; i++ {
		job := h.submitJob(t)
		if err := h.runner.Run(context.Background(), job); err == nil {
			t.Fatal("expected failure")
		}
	}
	if h.runner.Metrics().Healthy(h.cfg.Pipeline.FailureRateThreshold) {
		t.Fatal("pipeline should be unhealthy after repeated failures")
	}
	checks := h.runner.HealthCheck(context.Background())
	if len(checks) == 0 || checks[0].Ready {
		t.Fatalf("health check should report not ready: %#v", checks)
	}
}
