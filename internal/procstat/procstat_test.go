package procstat

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestSampleSelf(t *testing.T) {
	usage, err := Sample(context.Background(), os.Getpid())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if usage.PID != os.Getpid() {
		t.Fatalf("pid = %d", usage.PID)
	}
	if usage.RSSBytes == 0 {
		t.Fatal("expected resident memory for the test process")
	}
}

func TestSampleCountsChildren(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	usage, err := Sample(context.Background(), os.Getpid())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if usage.Children < 1 {
		t.Fatalf("children = %d, want at least 1", usage.Children)
	}
}

func TestSampleMissingProcess(t *testing.T) {
	if _, err := Sample(context.Background(), 0); !errors.Is(err, ErrNoProcess) {
		t.Fatalf("expected ErrNoProcess, got %v", err)
	}
	got := SampleAll(context.Background(), []int{0, os.Getpid()})
	if len(got) != 1 {
		t.Fatalf("SampleAll returned %d samples, want 1", len(got))
	}
}
