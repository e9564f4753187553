package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/membank/membank/internal/memory"
	"github.com/membank/membank/internal/model"
	"github.com/membank/membank/internal/plugin/embed/local"
	"github.com/membank/membank/internal/plugin/vector/inmem"
	registryvector "github.com/membank/membank/internal/registry/vector"
	"github.com/stretchr/testify/require"
)

// captureSink records appended events in memory.
type captureSink struct {
	events []model.ComplianceEvent
}

func (s *captureSink) Append(_ context.Context, event model.ComplianceEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close() error { return nil }

type failSink struct{}

func (failSink) Append(context.Context, model.ComplianceEvent) error {
	return fmt.Errorf("sink unavailable")
}

func (failSink) Close() error { return nil }

func newMemoryStore(t *testing.T, vec *inmem.Store) *memory.Store {
	t.Helper()
	mem, err := memory.NewStore(&local.LocalEmbedder{}, vec, memory.Options{
		Dimension:           384,
		SimilarityThreshold: 0.85,
		DefaultMaxResults:   10,
	})
	require.NoError(t, err)
	return mem
}

func writeDoc(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newPolicyStore(t *testing.T, vec *inmem.Store, sink *captureSink, docPath string) *Store {
	t.Helper()
	return NewStore(newMemoryStore(t, vec), sink, Options{
		DocumentPath:       docPath,
		TopK:               5,
		ViolationThreshold: 0.75,
		AdvisoryThreshold:  0.60,
	})
}

func TestSync_IndexesRulesAndMarker(t *testing.T) {
	vec := inmem.New()
	path := writeDoc(t, t.TempDir(), validDoc)
	store := newPolicyStore(t, vec, &captureSink{}, path)
	ctx := context.Background()

	require.Empty(t, store.VersionHash())
	require.NoError(t, store.Sync(ctx))
	require.NotEmpty(t, store.VersionHash())

	// Four rules plus the version marker.
	count, err := vec.Count(ctx, memory.Policy.CollectionName())
	require.NoError(t, err)
	require.EqualValues(t, 5, count)
}

func TestSync_UnchangedDocumentIsNoop(t *testing.T) {
	vec := inmem.New()
	path := writeDoc(t, t.TempDir(), validDoc)
	store := newPolicyStore(t, vec, &captureSink{}, path)
	ctx := context.Background()

	require.NoError(t, store.Sync(ctx))
	hash := store.VersionHash()

	// Plant a sentinel; an unchanged sync must not drop the collection.
	sentinel := make([]float32, 384)
	sentinel[0] = 1
	require.NoError(t, vec.Upsert(ctx, memory.Policy.CollectionName(), []registryvector.UpsertItem{{
		Record: model.MemoryRecord{ID: "sentinel", Text: "sentinel"},
		Vector: sentinel,
	}}))

	require.NoError(t, store.Sync(ctx))
	require.Equal(t, hash, store.VersionHash())
	rec, err := vec.Get(ctx, memory.Policy.CollectionName(), "sentinel")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestSync_ChangedDocumentReindexes(t *testing.T) {
	vec := inmem.New()
	dir := t.TempDir()
	path := writeDoc(t, dir, validDoc)
	store := newPolicyStore(t, vec, &captureSink{}, path)
	ctx := context.Background()

	require.NoError(t, store.Sync(ctx))
	oldHash := store.VersionHash()

	sentinel := make([]float32, 384)
	sentinel[0] = 1
	require.NoError(t, vec.Upsert(ctx, memory.Policy.CollectionName(), []registryvector.UpsertItem{{
		Record: model.MemoryRecord{ID: "sentinel", Text: "sentinel"},
		Vector: sentinel,
	}}))

	changed := `
principles:
  - id: GOV-1
    text: prefer reversible changes
forbidden_actions:
  - id: SEC-1
    text: delete any production database without a verified backup
requirements:
  - id: REQ-1
    text: code changes require peer review
style_guides:
  - id: STY-1
    text: use descriptive variable names
`
	writeDoc(t, dir, changed)
	require.NoError(t, store.Sync(ctx))
	require.NotEqual(t, oldHash, store.VersionHash())

	// The stale index was dropped wholesale.
	rec, err := vec.Get(ctx, memory.Policy.CollectionName(), "sentinel")
	require.NoError(t, err)
	require.Nil(t, rec)
	count, err := vec.Count(ctx, memory.Policy.CollectionName())
	require.NoError(t, err)
	require.EqualValues(t, 5, count)
}

func TestSync_RestartWithUnchangedDocumentSkipsReindex(t *testing.T) {
	vec := inmem.New()
	path := writeDoc(t, t.TempDir(), validDoc)
	ctx := context.Background()

	first := newPolicyStore(t, vec, &captureSink{}, path)
	require.NoError(t, first.Sync(ctx))

	sentinel := make([]float32, 384)
	sentinel[0] = 1
	require.NoError(t, vec.Upsert(ctx, memory.Policy.CollectionName(), []registryvector.UpsertItem{{
		Record: model.MemoryRecord{ID: "sentinel", Text: "sentinel"},
		Vector: sentinel,
	}}))

	// A fresh store over the same backend models a process restart;
	// the persisted marker hash makes the sync a no-op.
	second := newPolicyStore(t, vec, &captureSink{}, path)
	require.NoError(t, second.Sync(ctx))
	require.Equal(t, first.VersionHash(), second.VersionHash())
	rec, err := vec.Get(ctx, memory.Policy.CollectionName(), "sentinel")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

// flakyEmbedder behaves like the local embedder until fail is set.
type flakyEmbedder struct {
	local.LocalEmbedder
	fail bool
}

func (e *flakyEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	return e.LocalEmbedder.EmbedTexts(ctx, texts)
}

// brokenUpsertStore passes everything through until fail is set, at
// which point writes start erroring.
type brokenUpsertStore struct {
	*inmem.Store
	fail bool
}

func (s *brokenUpsertStore) Upsert(ctx context.Context, name string, items []registryvector.UpsertItem) error {
	if s.fail {
		return fmt.Errorf("vector store write failed")
	}
	return s.Store.Upsert(ctx, name, items)
}

func TestSync_EmbedFailureKeepsServingOldRules(t *testing.T) {
	vec := inmem.New()
	dir := t.TempDir()
	path := writeDoc(t, dir, validDoc)
	embedder := &flakyEmbedder{}
	mem, err := memory.NewStore(embedder, vec, memory.Options{
		Dimension:           384,
		SimilarityThreshold: 0.85,
		DefaultMaxResults:   10,
	})
	require.NoError(t, err)
	store := NewStore(mem, &captureSink{}, Options{
		DocumentPath:       path,
		TopK:               5,
		ViolationThreshold: 0.75,
		AdvisoryThreshold:  0.60,
	})
	ctx := context.Background()

	require.NoError(t, store.Sync(ctx))
	hash := store.VersionHash()

	// Change an unrelated rule so the hash moves, then make the
	// embedder fail mid-reindex. The previous index must survive.
	changed := `
principles:
  - id: GOV-1
    text: prefer reversible changes
forbidden_actions:
  - id: SEC-1
    text: delete production database
requirements:
  - id: REQ-1
    text: code changes require peer review
style_guides:
  - id: STY-1
    text: keep functions short
`
	writeDoc(t, dir, changed)
	embedder.fail = true
	require.Error(t, store.Sync(ctx))
	require.Equal(t, hash, store.VersionHash())

	count, err := vec.Count(ctx, memory.Policy.CollectionName())
	require.NoError(t, err)
	require.EqualValues(t, 5, count)

	// Checks keep running against the old rules instead of waving
	// forbidden actions through on an empty index.
	embedder.fail = false
	decision, err := store.Check(ctx, "delete the production database", "agent-1")
	require.NoError(t, err)
	require.Equal(t, model.OutcomeViolation, decision.Outcome)
}

func TestSync_UpsertFailureAfterDropFailsClosed(t *testing.T) {
	vec := &brokenUpsertStore{Store: inmem.New()}
	dir := t.TempDir()
	path := writeDoc(t, dir, validDoc)
	mem, err := memory.NewStore(&local.LocalEmbedder{}, vec, memory.Options{
		Dimension:           384,
		SimilarityThreshold: 0.85,
		DefaultMaxResults:   10,
	})
	require.NoError(t, err)
	store := NewStore(mem, &captureSink{}, Options{
		DocumentPath:       path,
		TopK:               5,
		ViolationThreshold: 0.75,
		AdvisoryThreshold:  0.60,
	})
	ctx := context.Background()

	require.NoError(t, store.Sync(ctx))

	changed := `
principles:
  - id: GOV-1
    text: prefer reversible changes
forbidden_actions:
  - id: SEC-1
    text: delete production database
requirements:
  - id: REQ-1
    text: code changes require peer review
style_guides:
  - id: STY-1
    text: keep functions short
`
	writeDoc(t, dir, changed)
	vec.fail = true
	require.Error(t, store.Sync(ctx))

	// The write failed after the old index was dropped; checks must
	// error until a sync succeeds rather than report compliant.
	require.Empty(t, store.VersionHash())
	_, err = store.Check(ctx, "delete the production database", "agent-1")
	require.Error(t, err)
}

func TestSync_VersionMarkerHiddenFromSearch(t *testing.T) {
	vec := inmem.New()
	path := writeDoc(t, t.TempDir(), validDoc)
	mem := newMemoryStore(t, vec)
	store := NewStore(mem, &captureSink{}, Options{
		DocumentPath:       path,
		TopK:               5,
		ViolationThreshold: 0.75,
		AdvisoryThreshold:  0.60,
	})
	ctx := context.Background()
	require.NoError(t, store.Sync(ctx))

	// Search with the marker text itself; the marker record would be
	// the top hit were it not filtered out of query results.
	results, err := mem.Query(ctx, memory.Policy, versionMarkerText, 10)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		require.NotEqual(t, model.RecordTypeVersionMarker, r.Record.Metadata[model.MetadataRecordType])
	}
}

func TestSync_InvalidDocumentFailsWhole(t *testing.T) {
	vec := inmem.New()
	path := writeDoc(t, t.TempDir(), "principles: []\n")
	store := newPolicyStore(t, vec, &captureSink{}, path)

	err := store.Sync(context.Background())
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Empty(t, store.VersionHash())
}
