package config

import (
	"context"
	"fmt"
	"time"
)

// ListenerConfig holds the network/TLS settings for the management listener.
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for membank.
type Config struct {
	// Embedding type: "local", "openai", or "none".
	EmbedType string

	// EmbeddingDimension is the vector dimension every collection is
	// created with. Must match the embedder's actual output dimension.
	EmbeddingDimension int

	// Embedding cache backend: "none", "ristretto", or "redis".
	EmbedCacheType string

	// OpenAI (or OpenAI-compatible) embedding endpoint.
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Vector store type: "qdrant", "pgvector", or "inmem".
	VectorType string

	// Create the well-known collections on startup.
	VectorMigrateAtStart bool

	// Qdrant
	QdrantHost           string
	QdrantPort           int
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantStartupTimeout time.Duration

	// Postgres URL for the pgvector backend.
	DBURL string

	// Redis URL for the redis embedding cache.
	RedisURL string

	// SimilarityThreshold is the inclusive score at or above which a
	// new text is considered a duplicate of an existing record.
	SimilarityThreshold float64

	// NearMissThreshold logs writes that were close to the duplicate
	// threshold without reaching it.
	NearMissThreshold float64

	// DefaultMaxResults caps query results when the caller passes 0.
	DefaultMaxResults int

	// DefaultAgentID is used when a caller omits the agent id.
	DefaultAgentID string

	// Policy
	PolicyPath               string
	PolicyTopK               int
	PolicyViolationThreshold float64
	PolicyAdvisoryThreshold  float64
	PolicySyncInterval       time.Duration

	// Access policy directory with rego overrides. Empty uses the
	// built-in policy.
	AccessPolicyDir string

	// Compliance audit sink: "file" or "none".
	AuditType string
	AuditPath string

	// Management HTTP listener (health, ready, metrics).
	ManagementListener  ListenerConfig
	ManagementAccessLog bool

	// Graceful shutdown drain timeout (seconds).
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EmbedType:                "local",
		EmbeddingDimension:       384,
		EmbedCacheType:           "none",
		OpenAIModelName:          "text-embedding-3-small",
		OpenAIBaseURL:            "https://api.openai.com/v1",
		VectorType:               "qdrant",
		VectorMigrateAtStart:     true,
		QdrantHost:               "localhost",
		QdrantPort:               6334,
		QdrantStartupTimeout:     30 * time.Second,
		SimilarityThreshold:      0.85,
		NearMissThreshold:        0.80,
		DefaultMaxResults:        10,
		PolicyTopK:               5,
		PolicyViolationThreshold: 0.75,
		PolicyAdvisoryThreshold:  0.60,
		PolicySyncInterval:       time.Minute,
		AuditType:                "file",
		AuditPath:                "compliance_log.jsonl",
		ManagementListener: ListenerConfig{
			Port:              9090,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		DrainTimeout: 30,
	}
}

// QdrantAddress returns the host:port target for the Qdrant gRPC client.
func (c *Config) QdrantAddress() string {
	return fmt.Sprintf("%s:%d", c.QdrantHost, c.QdrantPort)
}
