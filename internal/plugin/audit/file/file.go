// Package file appends compliance events to a JSONL file, one event
// per line. The file is only ever appended to.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/membank/membank/internal/config"
	registryaudit "github.com/membank/membank/internal/registry/audit"
	"github.com/membank/membank/internal/model"
)

func init() {
	registryaudit.Register(registryaudit.Plugin{
		Name:   "file",
		Loader: load,
	})
}

func load(ctx context.Context) (registryaudit.Sink, error) {
	cfg := config.FromContext(ctx)
	path := "compliance_log.jsonl"
	if cfg != nil && cfg.AuditPath != "" {
		path = cfg.AuditPath
	}
	return Open(path)
}

// Open creates a sink appending to the given path.
func Open(path string) (registryaudit.Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit file: open %s: %w", path, err)
	}
	return &fileSink{f: f}, nil
}

type fileSink struct {
	mu sync.Mutex
	f  *os.File
}

func (s *fileSink) Append(_ context.Context, event model.ComplianceEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit file: encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit file: append: %w", err)
	}
	return nil
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var _ registryaudit.Sink = (*fileSink)(nil)
