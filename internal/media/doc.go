// Package media holds the audio/video collaborator contracts the pipeline
// consumes plus the concrete ffmpeg, ffprobe, and HTTP-backed implementations.
// Everything the pipeline needs from the outside world crosses one of the
// narrow interfaces defined here, so tests can swap in fakes per capability.
package media
