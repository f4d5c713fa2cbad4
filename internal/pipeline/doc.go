// Package pipeline executes the fixed dubbing stage sequence for one job:
// extract_audio, transcribe, translate, synthesize, assemble_audio,
// mux_video, validate. Stages within a job run strictly in order; the
// classifier decides per failure whether a stage is retried with backoff or
// the job fails. The runner also keeps aggregate statistics and a recent
// outcome window for health reporting.
package pipeline
