package media

import (
	"context"
	"errors"
	"testing"
)

type stubProber struct {
	result ProbeResult
	err    error
}

func (s stubProber) Inspect(ctx context.Context, path string) (ProbeResult, error) {
	return s.result, s.err
}

func healthyProbe() ProbeResult {
	return ProbeResult{
		Streams: []ProbeStream{
			{Index: 0, CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080},
			{Index: 1, CodecType: "audio", CodecName: "aac", Channels: 2},
		},
		Format: ProbeFormat{Duration: "120.5", BitRate: "4500000"},
	}
}

func TestValidateOutputPasses(t *testing.T) {
	checker := NewQualityChecker(stubProber{result: healthyProbe()}, 0.8)
	report, err := checker.ValidateOutput(context.Background(), "/out/dubbed.mp4")
	if err != nil {
		t.Fatalf("ValidateOutput failed: %v", err)
	}
	if !report.PassesThreshold {
		t.Fatalf("expected pass, got %#v", report)
	}
	if report.OverallScore != 1.0 || len(report.Issues) != 0 {
		t.Fatalf("expected clean report, got %#v", report)
	}
}

func TestValidateOutputMissingAudioFails(t *testing.T) {
	probe := healthyProbe()
	probe.Streams = probe.Streams[:1]
	checker := NewQualityChecker(stubProber{result: probe}, 0.8)

	report, err := checker.ValidateOutput(context.Background(), "/out/dubbed.mp4")
	if err != nil {
		t.Fatalf("ValidateOutput failed: %v", err)
	}
	if report.PassesThreshold {
		t.Fatalf("expected failure, got %#v", report)
	}
	if len(report.Issues) == 0 {
		t.Fatal("expected issue list")
	}
}

func TestValidateOutputScoreFloorsAtZero(t *testing.T) {
	checker := NewQualityChecker(stubProber{result: ProbeResult{}}, 0.8)
	report, err := checker.ValidateOutput(context.Background(), "/out/empty.mp4")
	if err != nil {
		t.Fatalf("ValidateOutput failed: %v", err)
	}
	if report.OverallScore < 0 {
		t.Fatalf("score must not go negative: %#v", report)
	}
	if report.PassesThreshold {
		t.Fatal("empty container must not pass")
	}
}

func TestValidateOutputPropagatesProbeError(t *testing.T) {
	checker := NewQualityChecker(stubProber{err: errors.New("no such file")}, 0.8)
	if _, err := checker.ValidateOutput(context.Background(), "/gone.mp4"); err == nil {
		t.Fatal("expected probe error to propagate")
	}
}
