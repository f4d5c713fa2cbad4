package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"dubber/internal/api"
)

type stubAPI struct {
	mux *http.ServeMux

	submitted []api.SubmitRequest
	cancelled []string
	removed   []string
	lastUser  string
}

func newStubAPI() *stubAPI {
	s := &stubAPI{mux: http.NewServeMux()}

	jobs := []api.Job{
		{
			ID:             "11111111-aaaa-bbbb-cccc-000000000001",
			UserID:         "alice",
			Title:          "Documentary",
			InputVideo:     "/videos/documentary.mp4",
			TargetLanguage: "bn",
			Status:         "processing",
			Progress:       42,
			MaxRetries:     3,
			CreatedAt:      "2026-08-30T10:00:00.000Z",
		},
		{
			ID:             "22222222-aaaa-bbbb-cccc-000000000002",
			UserID:         "alice",
			Title:          "Lecture Series",
			InputVideo:     "/videos/lecture.mp4",
			TargetLanguage: "hi",
			Status:         "failed",
			Progress:       30,
			RetryCount:     3,
			MaxRetries:     3,
			ErrorMessage:   "transcribe: service unavailable",
			CreatedAt:      "2026-08-29T08:00:00.000Z",
		},
	}

	s.mux.HandleFunc("POST /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		s.lastUser = r.Header.Get("X-User-ID")
		var req api.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeStub(w, http.StatusBadRequest, api.ErrorResponse{Error: "bad payload"})
			return
		}
		if req.TargetLanguage == "xx" {
			writeStub(w, http.StatusBadRequest, api.ErrorResponse{Error: "unsupported target language"})
			return
		}
		s.submitted = append(s.submitted, req)
		writeStub(w, http.StatusCreated, api.JobResponse{Job: api.Job{
			ID:             "33333333-aaaa-bbbb-cccc-000000000003",
			UserID:         req.UserID,
			Title:          req.Title,
			InputVideo:     req.InputVideo,
			TargetLanguage: req.TargetLanguage,
			Priority:       req.Priority,
			Status:         "pending",
			MaxRetries:     3,
		}})
	})
	s.mux.HandleFunc("GET /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		s.lastUser = r.Header.Get("X-User-ID")
		filtered := make([]api.Job, 0, len(jobs))
		status := r.URL.Query().Get("status")
		for _, job := range jobs {
			if status != "" && job.Status != status {
				continue
			}
			filtered = append(filtered, job)
		}
		writeStub(w, http.StatusOK, api.JobListResponse{Jobs: filtered})
	})
	s.mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		for _, job := range jobs {
			if job.ID == r.PathValue("id") {
				detailed := job
				detailed.Stages = []api.JobStage{
					{Name: "extract_audio", Status: "completed", Attempts: 1},
					{Name: "transcribe", Status: "completed", ServiceUsed: "whisper", Attempts: 2, Cost: 0.12},
				}
				detailed.Cost = &api.JobCost{TotalCost: 0.53, TTSCharacters: 1800, TTSCost: 0.41}
				writeStub(w, http.StatusOK, api.JobResponse{Job: detailed})
				return
			}
		}
		writeStub(w, http.StatusNotFound, api.ErrorResponse{Error: "job not found"})
	})
	s.mux.HandleFunc("DELETE /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.removed = append(s.removed, r.PathValue("id"))
		writeStub(w, http.StatusOK, map[string]string{"status": "deleted"})
	})
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-ID") == "mallory" {
			writeStub(w, http.StatusForbidden, api.ErrorResponse{Error: "job belongs to another user"})
			return
		}
		s.cancelled = append(s.cancelled, r.PathValue("id"))
		writeStub(w, http.StatusOK, map[string]string{"status": "cancelled"})
	})
	s.mux.HandleFunc("POST /api/jobs/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		writeStub(w, http.StatusCreated, api.JobResponse{Job: api.Job{
			ID:      "44444444-aaaa-bbbb-cccc-000000000004",
			RetryOf: r.PathValue("id"),
			Status:  "pending",
		}})
	})
	s.mux.HandleFunc("GET /api/queue/stats", func(w http.ResponseWriter, r *http.Request) {
		writeStub(w, http.StatusOK, api.QueueStatsResponse{Counts: map[string]int{
			"pending": 2, "processing": 1, "completed": 7, "failed": 1, "cancelled": 0,
		}})
	})
	s.mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeStub(w, http.StatusOK, api.DaemonStatus{
			Running:      true,
			PID:          4242,
			QueueDBPath:  "/var/lib/dubber/queue.db",
			LockFilePath: "/var/lib/dubber/dubberd.lock",
			Workflow: api.WorkflowStatus{
				Running:    true,
				Accepting:  true,
				ActiveJobs: 1,
				QueueStats: map[string]int{"pending": 2, "processing": 1},
				Pipeline:   api.PipelineStats{TotalJobs: 10, Succeeded: 9, Failed: 1, SuccessRate: 0.9, AverageSeconds: 312},
			},
			TTSSessions: 3,
			TTSUsage: []api.TTSUsage{
				{Service: "google", Requests: 40, Characters: 90000, Cost: 1.44, SuccessRate: 0.975},
			},
		})
	})
	s.mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeStub(w, http.StatusServiceUnavailable, api.HealthResponse{
			Ready: false,
			Checks: []api.StageHealth{
				{Name: "queue", Ready: true},
				{Name: "transcriber", Ready: false, Detail: "connection refused"},
			},
		})
	})
	s.mux.HandleFunc("GET /api/tts/usage", func(w http.ResponseWriter, r *http.Request) {
		writeStub(w, http.StatusOK, []api.TTSUsage{
			{Service: "google", Requests: 40, Failures: 1, Fallbacks: 2, Characters: 90000, Cost: 1.44, SuccessRate: 0.975},
			{Service: "coqui", Requests: 12, Characters: 20000, SuccessRate: 1},
		})
	})
	s.mux.HandleFunc("GET /api/tts/quota", func(w http.ResponseWriter, r *http.Request) {
		service := r.URL.Query().Get("service")
		if service != "google" {
			writeStub(w, http.StatusNotFound, api.ErrorResponse{Error: "unknown tts service \"" + service + "\""})
			return
		}
		writeStub(w, http.StatusOK, api.TTSQuota{
			Service: "google", Used: 900000, Limit: 1000000, Remaining: 100000,
			ResetDate: "2026-10-01", Exhausted: false,
		})
	})

	return s
}

func writeStub(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func startStubAPI(t *testing.T) (*stubAPI, string) {
	t.Helper()
	stub := newStubAPI()
	server := httptest.NewServer(stub.mux)
	t.Cleanup(server.Close)
	return stub, strings.TrimPrefix(server.URL, "http://")
}

func runCLI(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--api", addr, "--user", "alice"}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func TestCLISubmit(t *testing.T) {
	stub, addr := startStubAPI(t)

	video := filepath.Join(t.TempDir(), "My Documentary.mp4")
	out, err := runCLI(t, addr, "submit", video, "--target", "bn", "--priority", "5")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "Submitted job 33333333-aaaa-bbbb-cccc-000000000003") {
		t.Fatalf("unexpected submit output: %q", out)
	}

	if len(stub.submitted) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(stub.submitted))
	}
	req := stub.submitted[0]
	if req.UserID != "alice" {
		t.Fatalf("expected user alice, got %q", req.UserID)
	}
	if req.Title != "My Documentary" {
		t.Fatalf("expected title derived from file name, got %q", req.Title)
	}
	if req.TargetLanguage != "bn" || req.Priority != 5 {
		t.Fatalf("unexpected request fields: %+v", req)
	}
}

func TestCLISubmitRequiresTarget(t *testing.T) {
	_, addr := startStubAPI(t)

	_, err := runCLI(t, addr, "submit", "/videos/a.mp4")
	if err == nil || !strings.Contains(err.Error(), "target language is required") {
		t.Fatalf("expected missing target error, got %v", err)
	}
}

func TestCLISubmitSurfacesAPIError(t *testing.T) {
	_, addr := startStubAPI(t)

	_, err := runCLI(t, addr, "submit", "/videos/a.mp4", "--target", "xx")
	if err == nil || !strings.Contains(err.Error(), "unsupported target language") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestCLIListRendersTable(t *testing.T) {
	_, addr := startStubAPI(t)

	out, err := runCLI(t, addr, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Documentary") || !strings.Contains(out, "Lecture Series") {
		t.Fatalf("list output missing jobs: %q", out)
	}
	if !strings.Contains(out, "processing") || !strings.Contains(out, "42%") {
		t.Fatalf("list output missing status columns: %q", out)
	}
}

func TestCLIListStatusFilter(t *testing.T) {
	_, addr := startStubAPI(t)

	out, err := runCLI(t, addr, "list", "--status", "failed")
	if err != nil {
		t.Fatalf("list --status: %v", err)
	}
	if strings.Contains(out, "Documentary") {
		t.Fatalf("filtered list should not include processing job: %q", out)
	}
	if !strings.Contains(out, "Lecture Series") {
		t.Fatalf("filtered list missing failed job: %q", out)
	}
}

func TestCLIListJSON(t *testing.T) {
	_, addr := startStubAPI(t)

	out, err := runCLI(t, addr, "list", "--json")
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var jobs []api.Job
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode json output: %v\n%s", err, out)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs in json output, got %d", len(jobs))
	}
}

func TestCLIShowJobDetails(t *testing.T) {
	_, addr := startStubAPI(t)

	out, err := runCLI(t, addr, "show", "22222222-aaaa-bbbb-cccc-000000000002")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"Lecture Series", "failed (30%)", "Retries:   3/3", "transcribe: service unavailable", "whisper", "Total cost: $0.5300"} {
		if !strings.Contains(out, want) {
			t.Fatalf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestCLIShowUnknownJob(t *testing.T) {
	_, addr := startStubAPI(t)

	_, err := runCLI(t, addr, "show", "no-such-id")
	if err == nil || !strings.Contains(err.Error(), "job not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCLICancelAndRemove(t *testing.T) {
	stub, addr := startStubAPI(t)

	out, err := runCLI(t, addr, "cancel", "11111111-aaaa-bbbb-cccc-000000000001")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(out, "Cancelled job") {
		t.Fatalf("unexpected cancel output: %q", out)
	}
	if len(stub.cancelled) != 1 {
		t.Fatalf("expected 1 cancel call, got %d", len(stub.cancelled))
	}

	out, err = runCLI(t, addr, "remove", "22222222-aaaa-bbbb-cccc-000000000002")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(out, "Removed job") {
		t.Fatalf("unexpected remove output: %q", out)
	}
	if len(stub.removed) != 1 {
		t.Fatalf("expected 1 remove call, got %d", len(stub.removed))
	}
}

func TestCLICancelForbidden(t *testing.T) {
	_, addr := startStubAPI(t)

	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--api", addr, "--user", "mallory", "cancel", "11111111-aaaa-bbbb-cccc-000000000001"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "belongs to another user") {
		t.Fatalf("expected ownership error, got %v", err)
	}
}

func TestCLIRetry(t *testing.T) {
	_, addr := startStubAPI(t)

	out, err := runCLI(t, addr, "retry", "22222222-aaaa-bbbb-cccc-000000000002")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !strings.Contains(out, "Created retry job 44444444-aaaa-bbbb-cccc-000000000004 from 22222222-aaaa-bbbb-cccc-000000000002") {
		t.Fatalf("unexpected retry output: %q", out)
	}
}

func TestCLIStats(t *testing.T) {
	_, addr := startStubAPI(t)

	out, err := runCLI(t, addr, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"pending", "processing", "completed", "failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats output missing %q: %s", want, out)
		}
	}
}

func TestCLIStatus(t *testing.T) {
	_, addr := startStubAPI(t)

	out, err := runCLI(t, addr, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"pid 4242", "2 pending, 1 processing", "10 jobs, 90% success", "Active sessions"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestCLIHealthReportsFailures(t *testing.T) {
	_, addr := startStubAPI(t)

	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--api", addr, "--user", "alice", "health"})
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected health command to fail when a component is down")
	}
	out := stdout.String()
	if !strings.Contains(out, "transcriber") || !strings.Contains(out, "connection refused") {
		t.Fatalf("health output missing failing check:\n%s", out)
	}
}

func TestCLITTSUsageAndQuota(t *testing.T) {
	_, addr := startStubAPI(t)

	out, err := runCLI(t, addr, "tts", "usage")
	if err != nil {
		t.Fatalf("tts usage: %v", err)
	}
	if !strings.Contains(out, "google") || !strings.Contains(out, "coqui") || !strings.Contains(out, "$1.4400") {
		t.Fatalf("tts usage output unexpected:\n%s", out)
	}

	out, err = runCLI(t, addr, "tts", "quota", "google")
	if err != nil {
		t.Fatalf("tts quota: %v", err)
	}
	if !strings.Contains(out, "Remaining: 100000") {
		t.Fatalf("tts quota output unexpected:\n%s", out)
	}

	_, err = runCLI(t, addr, "tts", "quota", "nope")
	if err == nil || !strings.Contains(err.Error(), "unknown tts service") {
		t.Fatalf("expected unknown service error, got %v", err)
	}
}

func TestCLIConfigInitAndPath(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(stdout.String(), "Wrote sample configuration") {
		t.Fatalf("unexpected init output: %q", stdout.String())
	}

	cmd = newRootCommand()
	stdout.Reset()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected existing config error, got %v", err)
	}

	cmd = newRootCommand()
	stdout.Reset()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", target, "config", "show"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(stdout.String(), "max_queue_size") {
		t.Fatalf("config show output missing queue settings: %q", stdout.String())
	}

	cmd = newRootCommand()
	stdout.Reset()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "path"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config path: %v", err)
	}
	if !strings.Contains(stdout.String(), "config.toml") {
		t.Fatalf("unexpected path output: %q", stdout.String())
	}
}
