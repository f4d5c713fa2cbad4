package testsupport

import (
	"context"
	"testing"

	"dubber/internal/config"
	"dubber/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob admits a job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, userID, title string) *queue.Job {
	t.Helper()

	job, err := store.Add(context.Background(), queue.Spec{
		UserID:         userID,
		Title:          title,
		InputVideo:     "/videos/" + title + ".mp4",
		TargetLanguage: "bn",
	})
	if err != nil {
		t.Fatalf("store.Add: %v", err)
	}
	return job
}
