// Package service holds background loops run by the serve command.
package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/membank/membank/internal/policy"
)

// PolicySyncer periodically re-reads the policy document and reindexes
// the policy collection when its version hash drifts, so an edited
// document is picked up without a restart.
type PolicySyncer struct {
	store    *policy.Store
	interval time.Duration
}

// NewPolicySyncer creates a syncer. A non-positive interval disables it.
func NewPolicySyncer(store *policy.Store, interval time.Duration) *PolicySyncer {
	return &PolicySyncer{store: store, interval: interval}
}

// Start begins the sync loop. Returns when ctx is cancelled.
func (p *PolicySyncer) Start(ctx context.Context) {
	if p.store == nil || p.interval <= 0 {
		log.Info("Policy syncer disabled")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.Sync(ctx); err != nil {
				// Memory operations keep working when the policy
				// document is broken; only policy checks are affected.
				log.Error("Policy sync failed", "err", err)
			}
		}
	}
}
