package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyFromEnv reads MEMBANK_* environment variables that are not
// represented by dedicated CLI flags in the serve command.
func (c *Config) ApplyFromEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyBoolEnv("MEMBANK_VECTOR_MIGRATE_AT_START", &c.VectorMigrateAtStart); err != nil {
		return err
	}
	if err = applyFloatEnv("MEMBANK_SIMILARITY_THRESHOLD", &c.SimilarityThreshold); err != nil {
		return err
	}
	if err = applyFloatEnv("MEMBANK_NEAR_MISS_THRESHOLD", &c.NearMissThreshold); err != nil {
		return err
	}
	if err = applyIntEnv("MEMBANK_DEFAULT_MAX_RESULTS", &c.DefaultMaxResults); err != nil {
		return err
	}
	applyStringEnv("MEMBANK_DEFAULT_AGENT_ID", &c.DefaultAgentID)

	applyStringEnv("MEMBANK_EMBEDDING_OPENAI_MODEL_NAME", &c.OpenAIModelName)
	applyStringEnv("MEMBANK_EMBEDDING_OPENAI_BASE_URL", &c.OpenAIBaseURL)
	if err = applyIntEnv("MEMBANK_EMBEDDING_OPENAI_DIMENSIONS", &c.OpenAIDimensions); err != nil {
		return err
	}
	if err = applyIntEnv("MEMBANK_EMBEDDING_DIMENSION", &c.EmbeddingDimension); err != nil {
		return err
	}

	applyStringEnv("MEMBANK_VECTOR_QDRANT_HOST", &c.QdrantHost)
	if err = applyIntEnv("MEMBANK_VECTOR_QDRANT_PORT", &c.QdrantPort); err != nil {
		return err
	}
	applyStringEnv("MEMBANK_VECTOR_QDRANT_API_KEY", &c.QdrantAPIKey)
	if err = applyBoolEnv("MEMBANK_VECTOR_QDRANT_USE_TLS", &c.QdrantUseTLS); err != nil {
		return err
	}
	if err = applyDurationEnv("MEMBANK_VECTOR_QDRANT_STARTUP_TIMEOUT", &c.QdrantStartupTimeout); err != nil {
		return err
	}

	if err = applyIntEnv("MEMBANK_POLICY_TOP_K", &c.PolicyTopK); err != nil {
		return err
	}
	if err = applyFloatEnv("MEMBANK_POLICY_VIOLATION_THRESHOLD", &c.PolicyViolationThreshold); err != nil {
		return err
	}
	if err = applyFloatEnv("MEMBANK_POLICY_ADVISORY_THRESHOLD", &c.PolicyAdvisoryThreshold); err != nil {
		return err
	}
	if err = applyDurationEnv("MEMBANK_POLICY_SYNC_INTERVAL", &c.PolicySyncInterval); err != nil {
		return err
	}
	applyStringEnv("MEMBANK_ACCESS_POLICY_DIR", &c.AccessPolicyDir)

	applyStringEnv("MEMBANK_AUDIT_PATH", &c.AuditPath)

	return nil
}

// Validate checks cross-field constraints that cannot be expressed as
// flag defaults. Called once at startup; failures are fatal.
func (c *Config) Validate() error {
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding-dimension must be positive, got %d", c.EmbeddingDimension)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity-threshold must be within [-1, 1], got %v", c.SimilarityThreshold)
	}
	if c.DefaultMaxResults <= 0 {
		return fmt.Errorf("default-max-results must be positive, got %d", c.DefaultMaxResults)
	}
	if c.VectorType == "pgvector" && strings.TrimSpace(c.DBURL) == "" {
		return fmt.Errorf("db-url is required when vector-type is pgvector")
	}
	if c.EmbedCacheType == "redis" && strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("redis-url is required when embed-cache is redis")
	}
	return nil
}

func applyStringEnv(name string, dest *string) {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		*dest = raw
	}
}

func applyBoolEnv(name string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dest = v
	return nil
}

func applyIntEnv(name string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dest = v
	return nil
}

func applyFloatEnv(name string, dest *float64) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(name string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dest = v
	return nil
}
