package logx

import (
	"bytes"
	"sync"
)

// Buffer collects log output. It is safe to read while loggers write.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Reset discards the collected output.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// NewBuffered returns a JSON logger at level that writes into the returned
// buffer. Meant for tests.
func NewBuffered(level Level) (*Logger, *Buffer) {
	buf := &Buffer{}
	cfg := DefaultConfig()
	cfg.Format = FormatJSON
	cfg.Level = level
	cfg.EnableColors = false
	cfg.Output = buf
	return New(cfg), buf
}
