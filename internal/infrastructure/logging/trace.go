package logging

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Tracer appends one line per traced message to a file. It is used to
// capture raw gateway traffic while diagnosing discovery problems.
//
// Thread Safety: Trace may be called from multiple goroutines.
type Tracer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
}

// OpenTracer opens (or creates) the trace file in append mode.
func OpenTracer(path string) (*Tracer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	return &Tracer{file: f, buf: bufio.NewWriter(f), path: path}, nil
}

// Path returns the trace file location.
func (t *Tracer) Path() string {
	return t.path
}

// Trace writes "topic: payload" and flushes it.
func (t *Tracer) Trace(topic string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return os.ErrClosed
	}
	t.buf.WriteString(topic)
	t.buf.WriteString(": ")
	t.buf.Write(payload)
	t.buf.WriteByte('\n')
	return t.buf.Flush()
}

// Close flushes and closes the trace file.
func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	flushErr := t.buf.Flush()
	closeErr := t.file.Close()
	t.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
