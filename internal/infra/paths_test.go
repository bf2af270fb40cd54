package infra

import (
	"path/filepath"
	"testing"
)

func TestCreateLockFileExclusive(t *testing.T) {
	dir := t.TempDir()
	release, err := CreateLockFile(dir)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := CreateLockFile(dir); err == nil {
		t.Fatal("second lock should fail while first is held")
	}
	release()
	release2, err := CreateLockFile(dir)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	release2()
}

func TestResolveDataPath(t *testing.T) {
	if got := ResolveDataPath("/work", "data/state.db"); got != filepath.Join("/work", "data/state.db") {
		t.Errorf("relative: %s", got)
	}
	if got := ResolveDataPath("/work", "/abs/state.db"); got != "/abs/state.db" {
		t.Errorf("absolute: %s", got)
	}
}
