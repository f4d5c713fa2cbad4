package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dubber/internal/config"
	"dubber/internal/media"
	"dubber/internal/queue"
	"dubber/internal/services"
	"dubber/internal/tts"
)

// artifacts are the per-job intermediate file locations.
type artifacts struct {
	workDir    string
	audio      string
	segmentDir string
	track      string
	output     string
}

func newArtifacts(cfg *config.Config, job *queue.Job) artifacts {
	workDir := filepath.Join(cfg.Paths.WorkDir, job.ID)
	base := filepath.Base(job.InputVideo)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	if ext == "" {
		ext = ".mp4"
	}
	return artifacts{
		workDir:    workDir,
		audio:      filepath.Join(workDir, "source_audio.wav"),
		segmentDir: filepath.Join(workDir, "segments"),
		track:      filepath.Join(workDir, "dubbed_track.m4a"),
		output:     filepath.Join(cfg.Paths.OutputDir, fmt.Sprintf("%s.%s%s", name, job.TargetLanguage, ext)),
	}
}

// runState carries in-memory intermediates between stages of one run.
type runState struct {
	job        *queue.Job
	artifacts  artifacts
	transcript media.Transcript
	translated media.Transcript
	segments   []media.AudioSegment
}

func (r *Runner) executeStage(ctx context.Context, state *runState, name string) error {
	switch name {
	case queue.StageExtractAudio:
		return r.stageExtractAudio(ctx, state)
	case queue.StageTranscribe:
		return r.stageTranscribe(ctx, state)
	case queue.StageTranslate:
		return r.stageTranslate(ctx, state)
	case queue.StageSynthesize:
		return r.stageSynthesize(ctx, state)
	case queue.StageAssembleAudio:
		return r.stageAssembleAudio(ctx, state)
	case queue.StageMuxVideo:
		return r.stageMuxVideo(ctx, state)
	case queue.StageValidate:
		return r.stageValidate(ctx, state)
	default:
		return fmt.Errorf("unknown stage %s", name)
	}
}

func (r *Runner) stageExtractAudio(ctx context.Context, state *runState) error {
	if _, err := os.Stat(state.job.InputVideo); err != nil {
		return services.Wrap(services.ErrValidation, queue.StageExtractAudio, "stat input",
			fmt.Sprintf("Input video %s is not readable", state.job.InputVideo), err)
	}
	return r.collab.Extractor.ExtractAudio(ctx, state.job.InputVideo, state.artifacts.audio)
}

func (r *Runner) stageTranscribe(ctx context.Context, state *runState) error {
	transcript, err := r.collab.Transcriber.Transcribe(ctx, state.artifacts.audio, state.job.SourceLanguage)
	if err != nil {
		return err
	}
	state.transcript = transcript
	return nil
}

func (r *Runner) stageTranslate(ctx context.Context, state *runState) error {
	translated, err := r.collab.Translator.Translate(ctx, state.transcript, state.job.TargetLanguage)
	if err != nil {
		return err
	}
	state.translated = translated
	return nil
}

// stageSynthesize calls the TTS router per segment, reporting sub-progress
// inside the stage's share of the overall bar and accumulating cost.
func (r *Runner) stageSynthesize(ctx context.Context, state *runState) error {
	job := state.job
	segments := state.translated.Segments
	if len(segments) == 0 {
		return services.Wrap(services.ErrPermanent, queue.StageSynthesize, "synthesize",
			"No translated segments to synthesize", nil)
	}
	if err := os.MkdirAll(state.artifacts.segmentDir, 0o755); err != nil {
		return fmt.Errorf("ensure segment dir: %w", err)
	}

	stageIndex := indexOfStage(queue.StageSynthesize)
	stageShare := 100 / len(queue.StageOrder)
	stageFloor := stageIndex * 100 / len(queue.StageOrder)

	voice := tts.VoiceConfig{LanguageCode: job.TargetLanguage}
	out := make([]media.AudioSegment, 0, len(segments))
	serviceUsed := ""
	var characters int64
	var cost float64

	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := r.collab.Synthesizer.GenerateSpeech(ctx, job.UserID, seg.Text, voice)
		if err != nil {
			return err
		}
		path := filepath.Join(state.artifacts.segmentDir, fmt.Sprintf("segment_%04d.wav", i))
		if err := os.WriteFile(path, result.Audio, 0o644); err != nil {
			return fmt.Errorf("write segment audio: %w", err)
		}
		out = append(out, media.AudioSegment{
			Path:       path,
			Start:      seg.Start,
			End:        seg.End,
			Voice:      result.Voice,
			Service:    result.Service,
			Characters: result.Characters,
			Cost:       result.Cost,
		})
		characters += int64(result.Characters)
		cost += result.Cost
		serviceUsed = result.Service

		job.SetProgress(stageFloor + (i+1)*stageShare/len(segments))
		if err := r.store.Update(ctx, job); err != nil {
			return fmt.Errorf("persist synthesis progress: %w", err)
		}
	}

	state.segments = out
	if st := job.StageByName(queue.StageSynthesize); st != nil {
		st.ServiceUsed = serviceUsed
		st.Cost = cost
	}
	if job.Cost == nil {
		job.Cost = &queue.CostTracking{ByStage: make(map[string]float64)}
	}
	if job.Cost.ByStage == nil {
		job.Cost.ByStage = make(map[string]float64)
	}
	job.Cost.ByStage[queue.StageSynthesize] += cost
	job.Cost.TTSCharacters += characters
	job.Cost.TTSCost += cost
	job.Cost.TotalCost += cost
	return nil
}

func (r *Runner) stageAssembleAudio(ctx context.Context, state *runState) error {
	return r.collab.Assembler.AssembleAudioTrack(ctx, state.segments, state.artifacts.track)
}

func (r *Runner) stageMuxVideo(ctx context.Context, state *runState) error {
	return r.collab.Assembler.CombineVideoAudio(ctx, state.job.InputVideo, state.artifacts.track, state.artifacts.output)
}

func (r *Runner) stageValidate(ctx context.Context, state *runState) error {
	report, err := r.collab.Quality.ValidateOutput(ctx, state.artifacts.output)
	if err != nil {
		return err
	}
	if !report.PassesThreshold {
		message := fmt.Sprintf("Quality validation failed (score %.2f)", report.OverallScore)
		for _, issue := range report.Issues {
			message += "; " + issue
		}
		return services.Wrap(services.ErrQualityCheck, queue.StageValidate, "validate", message, nil)
	}
	return nil
}

func indexOfStage(name string) int {
	for i, stageName := range queue.StageOrder {
		if stageName == name {
			return i
		}
	}
	return 0
}
