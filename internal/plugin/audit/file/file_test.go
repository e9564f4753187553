package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/membank/membank/internal/model"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []model.ComplianceEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []model.ComplianceEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event model.ComplianceEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestAppend_OneJSONLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sink.Append(ctx, model.ComplianceEvent{
		AgentID:           "agent-a",
		RuleID:            "SEC-1",
		ActionDescription: "delete the production database",
		Outcome:           model.OutcomeViolation,
		Timestamp:         time.Now().UTC(),
	}))
	require.NoError(t, sink.Append(ctx, model.ComplianceEvent{
		AgentID:           "agent-b",
		ActionDescription: "water the office plants",
		Outcome:           model.OutcomeCompliant,
		Timestamp:         time.Now().UTC(),
	}))
	require.NoError(t, sink.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)
	require.Equal(t, "SEC-1", events[0].RuleID)
	require.Equal(t, model.OutcomeViolation, events[0].Outcome)
	require.Equal(t, model.OutcomeCompliant, events[1].Outcome)
}

func TestOpen_AppendsToExistingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	sink, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(ctx, model.ComplianceEvent{AgentID: "agent-a", Outcome: model.OutcomeCompliant}))
	require.NoError(t, sink.Close())

	sink, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(ctx, model.ComplianceEvent{AgentID: "agent-a", Outcome: model.OutcomeAdvisory}))
	require.NoError(t, sink.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)
	require.Equal(t, model.OutcomeCompliant, events[0].Outcome)
	require.Equal(t, model.OutcomeAdvisory, events[1].Outcome)
}
