package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/membank/membank/internal/memory"
	"github.com/membank/membank/internal/model"
	"github.com/membank/membank/internal/plugin/embed/local"
	"github.com/membank/membank/internal/plugin/vector/inmem"
	"github.com/membank/membank/internal/policy"
	registryaudit "github.com/membank/membank/internal/registry/audit"
	"github.com/stretchr/testify/require"
)

const syncTestDoc = `
principles:
  - id: GOV-1
    text: prefer reversible changes
forbidden_actions:
  - id: SEC-1
    text: delete production database
requirements: []
style_guides: []
`

const syncTestDocChanged = `
principles:
  - id: GOV-1
    text: prefer small reversible changes
forbidden_actions:
  - id: SEC-1
    text: delete production database
requirements: []
style_guides: []
`

func newSyncerFixture(t *testing.T) (*policy.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(syncTestDoc), 0o644))

	mem, err := memory.NewStore(&local.LocalEmbedder{}, inmem.New(), memory.Options{
		Dimension:         384,
		DefaultMaxResults: 10,
	})
	require.NoError(t, err)

	store := policy.NewStore(mem, nopSink{}, policy.Options{DocumentPath: path})
	require.NoError(t, store.Sync(context.Background()))
	return store, path
}

type nopSink struct{}

func (nopSink) Append(context.Context, model.ComplianceEvent) error { return nil }
func (nopSink) Close() error                                        { return nil }

var _ registryaudit.Sink = nopSink{}

func TestPolicySyncer_PicksUpDocumentEdit(t *testing.T) {
	store, path := newSyncerFixture(t)
	oldHash := store.VersionHash()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	syncer := NewPolicySyncer(store, 10*time.Millisecond)
	go syncer.Start(ctx)

	require.NoError(t, os.WriteFile(path, []byte(syncTestDocChanged), 0o644))

	require.Eventually(t, func() bool {
		return store.VersionHash() != oldHash
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPolicySyncer_DisabledWithoutInterval(t *testing.T) {
	store, _ := newSyncerFixture(t)

	done := make(chan struct{})
	go func() {
		NewPolicySyncer(store, 0).Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("syncer with zero interval should return immediately")
	}
}
