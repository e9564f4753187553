package audit

import (
	"context"
	"fmt"

	"github.com/membank/membank/internal/model"
)

// Sink receives compliance events. The log is append-only; sinks never
// mutate or delete previously appended events.
type Sink interface {
	// Append records one compliance event.
	Append(ctx context.Context, event model.ComplianceEvent) error
	// Close flushes and releases the sink.
	Close() error
}

// Loader creates a Sink from config.
type Loader func(ctx context.Context) (Sink, error)

// Plugin represents an audit sink plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an audit sink plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered audit sink plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named audit sink plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown audit sink %q; valid: %v", name, Names())
}
