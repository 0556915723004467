package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"forge/internal/config"
	"forge/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob inserts a pending job with a fresh id for tests.
func NewJob(t testing.TB, store *jobs.Store, name, domain string) *jobs.Job {
	t.Helper()

	job, err := store.Create(context.Background(), jobs.NewJob{
		ID:         uuid.NewString(),
		Name:       name,
		Domain:     domain,
		ConfigYAML: "name: " + name + "\ndomain: " + domain + "\n",
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
