package media

import (
	"context"
	"fmt"
	"strings"
)

// ProbeQualityChecker validates dubbed output by inspecting the container with
// ffprobe. It performs structural checks only; scoring deducts a fixed weight
// per failed check and the result passes when the score clears minScore.
type ProbeQualityChecker struct {
	prober   Prober
	minScore float64
}

// NewQualityChecker constructs a checker over the given prober. minScore
// values outside (0, 1] fall back to 0.8.
func NewQualityChecker(prober Prober, minScore float64) *ProbeQualityChecker {
	if minScore <= 0 || minScore > 1 {
		minScore = 0.8
	}
	return &ProbeQualityChecker{prober: prober, minScore: minScore}
}

// ValidateOutput inspects the output file and reports structural defects.
func (c *ProbeQualityChecker) ValidateOutput(ctx context.Context, outputPath string) (QualityReport, error) {
	result, err := c.prober.Inspect(ctx, outputPath)
	if err != nil {
		return QualityReport{}, fmt.Errorf("quality check: %w", err)
	}

	score := 1.0
	var issues []string
	fail := func(weight float64, format string, args ...any) {
		score -= weight
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if result.VideoStreamCount() == 0 {
		fail(0.4, "output has no video stream")
	}
	if result.AudioStreamCount() == 0 {
		fail(0.4, "output has no audio stream")
	}
	if duration := result.DurationSeconds(); duration <= 0 {
		fail(0.2, "output duration is zero or unreadable")
	}
	if result.BitRate() <= 0 {
		fail(0.1, "output bitrate is zero or unreadable")
	}
	for _, stream := range result.Streams {
		if strings.EqualFold(stream.CodecType, "audio") && stream.Channels == 0 {
			fail(0.1, "audio stream %d reports zero channels", stream.Index)
			break
		}
	}
	if score < 0 {
		score = 0
	}

	return QualityReport{
		PassesThreshold: score >= c.minScore,
		OverallScore:    score,
		Issues:          issues,
	}, nil
}
