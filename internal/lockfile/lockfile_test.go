package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireReleaseReacquire(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "agent.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if pid, ok := HolderPID(path); !ok || pid != os.Getpid() {
		t.Fatalf("holder pid got=%d ok=%v want=%d", pid, ok, os.Getpid())
	}

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Release is idempotent.
	if err := l.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}

	l2, err := Acquire(path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if err := l2.Release(); err != nil {
		t.Fatalf("release reacquired: %v", err)
	}
}

func TestAcquireEmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := Acquire("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
