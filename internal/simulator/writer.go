package simulator

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/paydeck/paydeck/internal/telemetry"
)

// LogWriter appends JSON lines to the transactions log with size-based
// rotation. Spam bursts grow the file fast, so rotation keeps the observer's
// read cheap.
type LogWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	backups  int
	file     *os.File
	size     int64
}

// NewLogWriter opens (or creates) the transactions log for appending.
// maxBytes of zero disables rotation; backups caps rotated files kept.
func NewLogWriter(path string, maxBytes int64, backups int) (*LogWriter, error) {
	w := &LogWriter{path: path, maxBytes: maxBytes, backups: backups}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *LogWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transactions log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat transactions log: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends one transaction as a JSON line, rotating first if the file
// is full.
func (w *LogWriter) Write(p telemetry.Point) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.size+int64(len(data)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(data)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write transaction: %w", err)
	}
	return nil
}

// rotate shifts path.N-1 → path.N up to the backup cap, then path → path.1,
// and reopens a fresh file.
func (w *LogWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close transactions log for rotation: %w", err)
	}

	if w.backups <= 0 {
		if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to truncate transactions log: %w", err)
		}
	} else {
		_ = os.Remove(backupName(w.path, w.backups))
		for i := w.backups - 1; i >= 1; i-- {
			_ = os.Rename(backupName(w.path, i), backupName(w.path, i+1))
		}
		if err := os.Rename(w.path, backupName(w.path, 1)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to rotate transactions log: %w", err)
		}
	}

	return w.open()
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// Close flushes and closes the log file.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
