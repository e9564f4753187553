package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/membank/membank/internal/memory"
	"github.com/membank/membank/internal/model"
	registryaudit "github.com/membank/membank/internal/registry/audit"
	registryvector "github.com/membank/membank/internal/registry/vector"
)

// versionMarkerText seeds the distinguished record that persists the
// active document's version hash inside the policy collection itself,
// so a restart can detect drift without any extra storage.
const versionMarkerText = "__policy_version_marker__"

// Options tune a policy Store.
type Options struct {
	// DocumentPath is the YAML policy document location.
	DocumentPath string
	// TopK is how many rules a compliance check retrieves.
	TopK int
	// ViolationThreshold is the similarity at or above which a
	// forbidden-action rule classifies the action as a violation.
	ViolationThreshold float64
	// AdvisoryThreshold is the similarity at or above which a
	// principle or requirement rule classifies the action as advisory.
	AdvisoryThreshold float64
}

// Store is the policy specialization of the memory store: it owns the
// policy namespace, keeps the indexed rules in lockstep with the
// document's version hash, and runs compliance checks.
type Store struct {
	mem   *memory.Store
	audit registryaudit.Sink
	opts  Options

	// mu serializes Sync; checks run lock-free against the backend.
	mu          sync.Mutex
	versionHash string
}

// NewStore creates a policy store. Call Sync before Check.
func NewStore(mem *memory.Store, audit registryaudit.Sink, opts Options) *Store {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.ViolationThreshold == 0 {
		opts.ViolationThreshold = 0.75
	}
	if opts.AdvisoryThreshold == 0 {
		opts.AdvisoryThreshold = 0.60
	}
	return &Store{mem: mem, audit: audit, opts: opts}
}

// VersionHash returns the hash of the currently indexed document, or
// empty before the first successful Sync.
func (s *Store) VersionHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionHash
}

// Sync loads the policy document, compares its version hash against
// the hash persisted in the policy collection, and re-embeds and
// re-indexes every rule on mismatch. An unchanged hash is a no-op, so
// stale embeddings are never served and clean restarts are cheap.
func (s *Store) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := LoadDocument(s.opts.DocumentPath)
	if err != nil {
		return err
	}

	persisted, err := s.persistedHash(ctx)
	if err != nil {
		return err
	}
	if persisted == doc.VersionHash {
		s.versionHash = doc.VersionHash
		log.Debug("policy unchanged", "versionHash", doc.VersionHash)
		return nil
	}

	log.Info("Reindexing policy rules",
		"rules", len(doc.Rules),
		"oldHash", persisted,
		"newHash", doc.VersionHash)

	// Stage before swap: embed the full rule set while the previous
	// index is still intact, so an embedding failure leaves the old
	// rules serving checks under the old hash.
	texts := make([]string, 0, len(doc.Rules)+1)
	for _, r := range doc.Rules {
		texts = append(texts, r.Text)
	}
	texts = append(texts, versionMarkerText)
	embeddings, err := s.mem.Embedder().EmbedTexts(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(texts) {
		return fmt.Errorf("policy sync: expected %d embeddings, got %d", len(texts), len(embeddings))
	}

	vector := s.mem.Vector()
	registry := s.mem.Registry()
	if err := vector.DropCollection(ctx, memory.Policy.CollectionName()); err != nil {
		return err
	}
	registry.Forget(memory.Policy)
	col, err := registry.Resolve(ctx, memory.Policy)
	if err != nil {
		// The old index is gone; fail closed until the next sync.
		s.versionHash = ""
		return err
	}

	now := time.Now().UTC()
	items := make([]registryvector.UpsertItem, 0, len(texts))
	for i, r := range doc.Rules {
		items = append(items, registryvector.UpsertItem{
			Record: model.MemoryRecord{
				ID:        memory.ContentID("policy:" + r.RuleID),
				Namespace: memory.Policy.String(),
				Text:      r.Text,
				Metadata: map[string]string{
					"rule_id":      r.RuleID,
					"category":     string(r.Category),
					"version_hash": r.VersionHash,
				},
				CreatedAt: now,
			},
			Vector: embeddings[i],
		})
	}
	items = append(items, registryvector.UpsertItem{
		Record: model.MemoryRecord{
			ID:        memory.ContentID(versionMarkerText),
			Namespace: memory.Policy.String(),
			Text:      versionMarkerText,
			Metadata: map[string]string{
				model.MetadataRecordType: model.RecordTypeVersionMarker,
				"version_hash":           doc.VersionHash,
			},
			CreatedAt: now,
		},
		Vector: embeddings[len(embeddings)-1],
	})
	if err := vector.Upsert(ctx, col.Name, items); err != nil {
		// The old index is gone; fail closed until the next sync.
		s.versionHash = ""
		return err
	}

	s.versionHash = doc.VersionHash
	return nil
}

// persistedHash reads the version hash stored with the policy rules,
// or empty when the collection does not exist yet.
func (s *Store) persistedHash(ctx context.Context) (string, error) {
	exists, err := s.mem.Registry().Exists(ctx, memory.Policy)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}
	marker, err := s.mem.Vector().Get(ctx, memory.Policy.CollectionName(), memory.ContentID(versionMarkerText))
	if err != nil {
		return "", err
	}
	if marker == nil {
		return "", nil
	}
	return marker.Metadata["version_hash"], nil
}
