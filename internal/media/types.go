package media

import "context"

// Segment is one timed span of speech. Start and End are seconds from the
// beginning of the source audio. Translation replaces Text in place and must
// preserve the timestamps.
type Segment struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript is the ordered segment list produced by transcription and
// carried through translation.
type Transcript struct {
	Language   string    `json:"language,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Segments   []Segment `json:"segments"`
}

// Text joins all segment texts into one string.
func (t Transcript) Text() string {
	out := ""
	for i, seg := range t.Segments {
		if i > 0 {
			out += " "
		}
		out += seg.Text
	}
	return out
}

// AudioSegment is one synthesized clip placed on the output timeline.
type AudioSegment struct {
	Path       string
	Start      float64
	End        float64
	Voice      string
	Service    string
	Characters int
	Cost       float64
}

// QualityReport is the outcome of validating a finished output file.
type QualityReport struct {
	PassesThreshold bool
	OverallScore    float64
	Issues          []string
}

// Extractor pulls the audio track out of a source video.
type Extractor interface {
	ExtractAudio(ctx context.Context, videoPath, destPath string) error
}

// Transcriber converts an audio file into a timed transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, sourceLanguage string) (Transcript, error)
}

// Translator rewrites transcript text into the target language while keeping
// every segment's timestamps.
type Translator interface {
	Translate(ctx context.Context, transcript Transcript, targetLanguage string) (Transcript, error)
}

// Assembler builds the dubbed audio track and muxes it back into the video.
type Assembler interface {
	AssembleAudioTrack(ctx context.Context, segments []AudioSegment, destPath string) error
	CombineVideoAudio(ctx context.Context, videoPath, audioPath, destPath string) error
}

// QualityChecker validates the final output file.
type QualityChecker interface {
	ValidateOutput(ctx context.Context, outputPath string) (QualityReport, error)
}
