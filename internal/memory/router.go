package memory

import (
	"context"
	"sort"

	"github.com/membank/membank/internal/model"
)

// Router fans a query out across namespaces and merges the ranked
// results. It never partially fails silently: a namespace whose
// collection does not exist contributes zero results, but a real
// backend error fails the whole call.
type Router struct {
	store  *Store
	access *AccessEngine
}

// NewRouter creates a Router over the store with the given access engine.
func NewRouter(store *Store, access *AccessEngine) *Router {
	return &Router{store: store, access: access}
}

// QueryAll queries global, learned, and the requesting agent's own
// namespace, merges by score descending, and truncates to limit.
// Other agents' namespaces are never consulted.
func (r *Router) QueryAll(ctx context.Context, queryText string, limit int, requestingAgentID string) ([]model.ScoredRecord, error) {
	if limit <= 0 {
		limit = r.store.opts.DefaultMaxResults
	}

	namespaces := []Namespace{Global, Learned}
	if requestingAgentID != "" {
		namespaces = append(namespaces, Agent(requestingAgentID))
	}

	var merged []model.ScoredRecord
	for _, ns := range namespaces {
		allowed, err := r.access.CanQuery(ctx, ns, requestingAgentID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			continue
		}
		results, err := r.store.Query(ctx, ns, queryText, limit)
		if err != nil {
			return nil, err
		}
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}
