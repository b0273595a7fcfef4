package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const maxLogSize = 4 * 1024 * 1024 // 4MB

// RotatingWriter keeps the daemon log bounded: one active file plus one
// backup, rolled when the size cap is hit.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Setup wires the stdlib logger to stdout plus a size-capped file,
// creating the log directory when it does not exist yet.
func Setup(logPath string) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	if info, err := os.Stat(logPath); err == nil && info.Size() > maxLogSize {
		os.Truncate(logPath, 0)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	size := int64(0)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	rw := &RotatingWriter{
		file:    f,
		path:    logPath,
		size:    size,
		maxSize: maxLogSize,
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rw))

	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		if rerr := w.rotate(); rerr != nil {
			// Cannot go through the log package here, it would
			// recurse into this writer.
			fmt.Fprintf(os.Stderr, "logging: rotate %s: %v\n", w.path, rerr)
		}
	}

	return n, err
}

// rotate moves the active file to a .1 backup and starts a fresh one.
// When the rename fails the current file is reopened for append so
// logging keeps working, and the next attempt waits a full cap.
func (w *RotatingWriter) rotate() error {
	w.file.Close()

	renameErr := os.Rename(w.path, w.path+".1")
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if renameErr != nil {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	f, err := os.OpenFile(w.path, flags, 0644)
	if err != nil {
		return err
	}

	w.file = f
	w.size = 0
	return renameErr
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
