package module

import (
	"bytes"
	"io"
	"sync"
)

// Stdout returns a writer that forwards complete lines to Print.
func (m *Module) Stdout() io.Writer {
	return &lineWriter{emit: func(s string) { m.Print(s) }}
}

// Stderr returns a writer that forwards complete lines to PrintErr.
func (m *Module) Stderr() io.Writer {
	return &lineWriter{emit: func(s string) { m.PrintErr(s) }}
}

// lineWriter buffers partial writes until a newline arrives.
type lineWriter struct {
	emit func(string)
	buf  []byte
	mu   sync.Mutex
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(w.buf[:i], []byte{'\r'}))
		w.buf = w.buf[i+1:]
		w.emit(line)
	}
	return len(p), nil
}

// Flush emits a trailing partial line, if any.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}
