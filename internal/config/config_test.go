package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("MEMBANK_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("MEMBANK_NEAR_MISS_THRESHOLD", "0.7")
	t.Setenv("MEMBANK_DEFAULT_MAX_RESULTS", "25")
	t.Setenv("MEMBANK_VECTOR_QDRANT_HOST", "qdrant.internal")
	t.Setenv("MEMBANK_VECTOR_QDRANT_PORT", "7443")
	t.Setenv("MEMBANK_POLICY_SYNC_INTERVAL", "5m")
	t.Setenv("MEMBANK_VECTOR_MIGRATE_AT_START", "false")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyFromEnv())
	require.Equal(t, 0.9, cfg.SimilarityThreshold)
	require.Equal(t, 0.7, cfg.NearMissThreshold)
	require.Equal(t, 25, cfg.DefaultMaxResults)
	require.Equal(t, "qdrant.internal:7443", cfg.QdrantAddress())
	require.Equal(t, 5*time.Minute, cfg.PolicySyncInterval)
	require.False(t, cfg.VectorMigrateAtStart)
}

func TestApplyFromEnv_InvalidValueFails(t *testing.T) {
	t.Setenv("MEMBANK_SIMILARITY_THRESHOLD", "very high")

	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyFromEnv())
}

func TestValidate_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_ThresholdRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 1.5
	require.Error(t, cfg.Validate())
}

func TestValidate_PgvectorRequiresDBURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VectorType = "pgvector"
	require.Error(t, cfg.Validate())

	cfg.DBURL = "postgres://localhost/membank"
	require.NoError(t, cfg.Validate())
}

func TestValidate_RedisCacheRequiresURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbedCacheType = "redis"
	require.Error(t, cfg.Validate())

	cfg.RedisURL = "redis://localhost:6379/0"
	require.NoError(t, cfg.Validate())
}
