package sink

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/swarmguard/traceflow/internal/hashutil"
	"github.com/swarmguard/traceflow/internal/trace"
)

// JSONLSink appends one canonical JSON object per line to a shared,
// append-only file. Safe for concurrent writes from multiple runs; each
// write is flushed before returning.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewJSONLSink constructs a sink writing to path. The file is opened lazily
// on first write so a misconfigured path doesn't fail startup.
func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

func (s *JSONLSink) open() error {
	if s.f != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

// Write appends event as a single JSON line, fsyncing before returning.
func (s *JSONLSink) Write(_ context.Context, event trace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	b, err := hashutil.Canonical(event)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	return s.f.Sync()
}

// Close is idempotent and flushes the underlying file handle.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
