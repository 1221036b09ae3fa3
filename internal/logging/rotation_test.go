package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingWriterRotatesAtLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.log")

	// 1 MB limit, writes just over it
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	chunk := bytes.Repeat([]byte("x"), 512*1024)
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected backup file after rotation: %v", err)
	}
	if rw.CurrentSize() > 1024*1024 {
		t.Errorf("current file size %d exceeds limit after rotation", rw.CurrentSize())
	}
}

func TestRotatingWriterNoRotationWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 0, MaxBackups: 3})
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	if _, err := rw.Write(bytes.Repeat([]byte("y"), 4096)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("rotation occurred with MaxSizeMB=0")
	}
}

func TestRotatingWriterShiftsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	chunk := bytes.Repeat([]byte("z"), 600*1024)
	for i := 0; i < 6; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatal(err)
		}
	}

	for _, backup := range []string{path + ".1", path + ".2"} {
		if _, err := os.Stat(backup); err != nil {
			t.Errorf("missing backup %s: %v", backup, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("more backups kept than MaxBackups")
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	rw, err := NewRotatingWriter(filepath.Join(dir, "x.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("write after close should fail")
	}
	// Double close is a no-op.
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
