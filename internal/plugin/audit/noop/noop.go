package noop

import (
	"context"

	"github.com/membank/membank/internal/model"
	"github.com/membank/membank/internal/registry/audit"
)

func init() {
	audit.Register(audit.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (audit.Sink, error) {
			return &noopSink{}, nil
		},
	})
}

type noopSink struct{}

func (n *noopSink) Append(_ context.Context, _ model.ComplianceEvent) error { return nil }
func (n *noopSink) Close() error                                            { return nil }

var _ audit.Sink = (*noopSink)(nil)
