package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig controls size-based log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	// 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep. 0 keeps none.
	MaxBackups int
}

// DefaultRotationConfig returns the defaults used by the daemon log.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter is an io.WriteCloser that rotates the underlying file when
// it exceeds the configured size. Backups are numbered .1 (newest) to .N
// (oldest). Safe for concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	path       string
	maxBytes   int64
	maxBackups int

	file *os.File
	size int64
}

// NewRotatingWriter opens (creating if needed) the log file at path.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// open opens the log file in append mode. Caller holds the mutex (or is the
// constructor).
func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write appends to the log file, rotating first if the write would push the
// file past the size limit. A failed rotation is reported to stderr and the
// write proceeds on the current file so no log data is lost.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}
	if rw.maxBytes > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: log rotation failed: %v\n", err)
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// rotate closes the current file, shifts backups, and opens a fresh file.
// Caller holds the mutex.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	rw.file = nil

	if rw.maxBackups <= 0 {
		os.Remove(rw.backupPath(1))
	} else {
		os.Remove(rw.backupPath(rw.maxBackups))
		for i := rw.maxBackups - 1; i >= 1; i-- {
			if _, err := os.Stat(rw.backupPath(i)); err == nil {
				os.Rename(rw.backupPath(i), rw.backupPath(i+1))
			}
		}
	}

	if rw.maxBackups > 0 {
		if err := os.Rename(rw.path, rw.backupPath(1)); err != nil {
			if openErr := rw.open(); openErr != nil {
				return fmt.Errorf("rename log file and reopen: %w", openErr)
			}
			return fmt.Errorf("rename log file: %w", err)
		}
	} else {
		os.Remove(rw.path)
	}

	return rw.open()
}

func (rw *RotatingWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// Sync flushes buffered data to disk.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	return rw.file.Sync()
}

// Close syncs and closes the underlying file. Subsequent writes fail.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	if err := rw.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	rw.file = nil
	return nil
}

// CurrentSize returns the current log file size in bytes.
func (rw *RotatingWriter) CurrentSize() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}
