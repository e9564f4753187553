package policy

import (
	"context"
	"testing"

	"github.com/membank/membank/internal/model"
	"github.com/membank/membank/internal/plugin/vector/inmem"
	"github.com/stretchr/testify/require"
)

func newSyncedStore(t *testing.T) (*Store, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	path := writeDoc(t, t.TempDir(), validDoc)
	store := newPolicyStore(t, inmem.New(), sink, path)
	require.NoError(t, store.Sync(context.Background()))
	return store, sink
}

func TestCheck_ForbiddenActionIsViolation(t *testing.T) {
	store, sink := newSyncedStore(t)

	decision, err := store.Check(context.Background(), "delete the production database", "agent-a")
	require.NoError(t, err)
	require.Equal(t, model.OutcomeViolation, decision.Outcome)
	require.NotEmpty(t, decision.Matched)
	require.Equal(t, "SEC-1", decision.Matched[0].RuleID)
	require.GreaterOrEqual(t, decision.Matched[0].Score, 0.75)

	require.Len(t, sink.events, 1)
	require.Equal(t, model.OutcomeViolation, sink.events[0].Outcome)
	require.Equal(t, "SEC-1", sink.events[0].RuleID)
	require.Equal(t, "agent-a", sink.events[0].AgentID)
	require.False(t, sink.events[0].Timestamp.IsZero())
}

func TestCheck_RequirementIsAdvisory(t *testing.T) {
	store, sink := newSyncedStore(t)

	decision, err := store.Check(context.Background(), "ship code changes without peer review", "agent-a")
	require.NoError(t, err)
	require.Equal(t, model.OutcomeAdvisory, decision.Outcome)
	require.Equal(t, "REQ-1", decision.Matched[0].RuleID)

	require.Len(t, sink.events, 1)
	require.Equal(t, model.OutcomeAdvisory, sink.events[0].Outcome)
}

func TestCheck_UnrelatedActionIsCompliant(t *testing.T) {
	store, sink := newSyncedStore(t)

	decision, err := store.Check(context.Background(), "water the office plants", "agent-a")
	require.NoError(t, err)
	require.Equal(t, model.OutcomeCompliant, decision.Outcome)

	// Compliant checks are audited too, without naming a rule. Only a
	// rule that drove a violation or advisory belongs in the event.
	require.Len(t, sink.events, 1)
	require.Equal(t, model.OutcomeCompliant, sink.events[0].Outcome)
	require.Empty(t, sink.events[0].RuleID)
}

func TestCheck_Deterministic(t *testing.T) {
	store, _ := newSyncedStore(t)
	ctx := context.Background()

	first, err := store.Check(ctx, "delete the production database", "agent-a")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := store.Check(ctx, "delete the production database", "agent-a")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestCheck_FiltersVersionMarker(t *testing.T) {
	store, _ := newSyncedStore(t)

	decision, err := store.Check(context.Background(), "policy version marker", "agent-a")
	require.NoError(t, err)
	for _, m := range decision.Matched {
		require.NotEmpty(t, m.RuleID)
	}
}

func TestCheck_BeforeSyncFails(t *testing.T) {
	path := writeDoc(t, t.TempDir(), validDoc)
	store := newPolicyStore(t, inmem.New(), &captureSink{}, path)

	_, err := store.Check(context.Background(), "anything", "agent-a")
	require.Error(t, err)
}

func TestCheck_AuditFailurePropagates(t *testing.T) {
	path := writeDoc(t, t.TempDir(), validDoc)
	mem := newMemoryStore(t, inmem.New())
	store := NewStore(mem, failSink{}, Options{
		DocumentPath:       path,
		TopK:               5,
		ViolationThreshold: 0.75,
		AdvisoryThreshold:  0.60,
	})
	ctx := context.Background()
	require.NoError(t, store.Sync(ctx))

	_, err := store.Check(ctx, "delete the production database", "agent-a")
	require.Error(t, err)
}
