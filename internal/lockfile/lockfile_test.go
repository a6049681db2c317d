package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("lock file missing: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release")
	}

	// Second release is a no-op.
	if err := lock.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	_, err = Acquire(dir)
	if err == nil {
		t.Fatal("second Acquire succeeded while lock held")
	}
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("error = %v, want HeldError", err)
	}
	if held.Holder == "" {
		t.Error("HeldError missing holder description")
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}
	again.Release()
}

func TestExtractPID(t *testing.T) {
	if pid := extractPID("pid=1234\n"); pid != 1234 {
		t.Errorf("extractPID = %d, want 1234", pid)
	}
	if pid := extractPID("garbage"); pid != 0 {
		t.Errorf("extractPID on garbage = %d, want 0", pid)
	}
}
