package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// Recorder is a goroutine-safe log sink for tests in other packages.
type Recorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Capture routes all logging at or above level into a new Recorder,
// using the default prefix.
func Capture(level slog.Level) *Recorder {
	r := &Recorder{}
	SetHandler(slog.NewTextHandler(r, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAlwaysLevel,
	}), DefaultPrefix)
	return r
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// String returns everything logged so far.
func (r *Recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// Contains reports whether any logged line contains text.
func (r *Recorder) Contains(text string) bool {
	return strings.Contains(r.String(), text)
}
