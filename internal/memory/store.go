package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/membank/membank/internal/model"
	registryembed "github.com/membank/membank/internal/registry/embed"
	registryvector "github.com/membank/membank/internal/registry/vector"
)

// Options tune a Store.
type Options struct {
	// Dimension is the collection dimension; must equal the embedder's
	// output dimension.
	Dimension int
	// SimilarityThreshold is the default inclusive duplicate threshold.
	SimilarityThreshold float64
	// NearMissThreshold logs writes close to the duplicate threshold.
	NearMissThreshold float64
	// DefaultMaxResults caps query results when the caller passes 0.
	DefaultMaxResults int
}

// Store is the memory store core. It owns the namespace-to-collection
// mapping and is the only writer of vectors; the vector database is
// the sole persistence authority.
//
// Store performs no in-process locking: the duplicate check is
// check-then-act, so concurrent adds of near-identical content may
// both persist (an accepted race; see DuplicateDetector).
type Store struct {
	embedder registryembed.Embedder
	vector   registryvector.VectorStore
	registry *CollectionRegistry
	dedup    *DuplicateDetector
	opts     Options
}

// NewStore wires a Store. Fails fast with a *model.ConfigError when
// the embedder's output dimension does not match opts.Dimension.
func NewStore(embedder registryembed.Embedder, vector registryvector.VectorStore, opts Options) (*Store, error) {
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = 10
	}
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = 0.85
	}
	if dim := embedder.Dimension(); dim != 0 && dim != opts.Dimension {
		return nil, &model.ConfigError{
			Field:   "embedding-dimension",
			Message: fmt.Sprintf("model %s outputs %d dims, configured %d", embedder.ModelName(), dim, opts.Dimension),
		}
	}
	return &Store{
		embedder: embedder,
		vector:   vector,
		registry: NewCollectionRegistry(vector, opts.Dimension),
		dedup:    NewDuplicateDetector(vector, opts.NearMissThreshold),
		opts:     opts,
	}, nil
}

// Registry exposes the collection registry (used by the policy store).
func (s *Store) Registry() *CollectionRegistry { return s.registry }

// Embedder exposes the wired embedder (used by the policy store).
func (s *Store) Embedder() registryembed.Embedder { return s.embedder }

// Vector exposes the vector backend (used by the policy store).
func (s *Store) Vector() registryvector.VectorStore { return s.vector }

// AddOptions override per-call behavior of Add.
type AddOptions struct {
	// Threshold overrides the store's duplicate threshold when non-nil.
	Threshold *float64
}

// Add embeds text, runs duplicate detection, and persists a new record
// unless a near-duplicate already exists. A duplicate is reported with
// the existing record's id and is not a failure.
func (s *Store) Add(ctx context.Context, ns Namespace, text string, metadata map[string]string, opts AddOptions) (model.AddResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.AddResult{}, fmt.Errorf("memory text is empty")
	}

	vector, err := registryembed.EmbedOne(ctx, s.embedder, text)
	if err != nil {
		return model.AddResult{}, err
	}
	// Guard the write path before touching the backend: a model that
	// emits the wrong dimension must never reach the collection.
	if len(vector) != s.opts.Dimension {
		return model.AddResult{}, &model.CollectionError{
			Collection: ns.CollectionName(),
			Message:    fmt.Sprintf("embedding has %d dims, collection expects %d", len(vector), s.opts.Dimension),
		}
	}

	col, err := s.registry.Resolve(ctx, ns)
	if err != nil {
		return model.AddResult{}, err
	}

	threshold := s.opts.SimilarityThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	dup, nearest, score, err := s.dedup.IsDuplicate(ctx, col.Name, vector, threshold)
	if err != nil {
		return model.AddResult{}, err
	}
	if dup {
		addsTotal.WithLabelValues(string(ns.Kind), string(model.StatusDuplicate)).Inc()
		log.Debug("duplicate suppressed", "namespace", ns.String(), "existingId", nearest.ID, "score", score)
		return model.AddResult{Status: model.StatusDuplicate, ID: nearest.ID, Score: score}, nil
	}

	record := model.MemoryRecord{
		ID:        ContentID(text),
		Namespace: ns.String(),
		Text:      text,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.vector.Upsert(ctx, col.Name, []registryvector.UpsertItem{{Record: record, Vector: vector}}); err != nil {
		return model.AddResult{}, err
	}
	addsTotal.WithLabelValues(string(ns.Kind), string(model.StatusAdded)).Inc()
	return model.AddResult{Status: model.StatusAdded, ID: record.ID}, nil
}

// Query embeds the query text and returns up to limit records ranked
// by similarity descending. A namespace that was never written to
// yields an empty result, not an error.
func (s *Store) Query(ctx context.Context, ns Namespace, queryText string, limit int) ([]model.ScoredRecord, error) {
	if limit <= 0 {
		limit = s.opts.DefaultMaxResults
	}
	exists, err := s.registry.Exists(ctx, ns)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	vector, err := registryembed.EmbedOne(ctx, s.embedder, queryText)
	if err != nil {
		return nil, err
	}
	results, err := s.vector.Search(ctx, ns.CollectionName(), vector, limit)
	if err != nil {
		return nil, err
	}
	queriesTotal.WithLabelValues(string(ns.Kind)).Inc()

	scored := make([]model.ScoredRecord, 0, len(results))
	for _, r := range results {
		// Bookkeeping records such as the policy version marker are
		// not memories and never surface in search results.
		if r.Record.Metadata[model.MetadataRecordType] == model.RecordTypeVersionMarker {
			continue
		}
		scored = append(scored, model.ScoredRecord{Record: r.Record, Score: r.Score})
	}
	return scored, nil
}

// Get retrieves a record by id. A missing record (or a namespace that
// was never created) is a *model.NotFoundError.
func (s *Store) Get(ctx context.Context, ns Namespace, id string) (*model.MemoryRecord, error) {
	exists, err := s.registry.Exists(ctx, ns)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &model.NotFoundError{Resource: "memory", ID: id}
	}
	record, err := s.vector.Get(ctx, ns.CollectionName(), id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &model.NotFoundError{Resource: "memory", ID: id}
	}
	return record, nil
}

// Delete removes a record by id. Deleting from a namespace that was
// never created is a no-op.
func (s *Store) Delete(ctx context.Context, ns Namespace, id string) error {
	exists, err := s.registry.Exists(ctx, ns)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return s.vector.Delete(ctx, ns.CollectionName(), id)
}

// SetAgentContext upserts a distinguished context record into the
// agent's own namespace. Semantically an Add; duplicate suppression
// still applies.
func (s *Store) SetAgentContext(ctx context.Context, agentID, text string, metadata map[string]string) (model.AddResult, error) {
	if strings.TrimSpace(agentID) == "" {
		return model.AddResult{}, fmt.Errorf("agent id is required")
	}
	merged := map[string]string{model.MetadataRecordType: "agent_context", "agent_id": agentID}
	for k, v := range metadata {
		merged[k] = v
	}
	return s.Add(ctx, Agent(agentID), text, merged, AddOptions{})
}

// CompareAgainstLearned ranks learned lessons against an action that
// is about to be taken. Equivalent to a learned-namespace query; kept
// as a distinct operation because its caller intent is a risk check,
// not general recall.
func (s *Store) CompareAgainstLearned(ctx context.Context, actionDescription string, limit int) ([]model.ScoredRecord, error) {
	return s.Query(ctx, Learned, actionDescription, limit)
}
