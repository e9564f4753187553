package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/membank/membank/internal/config"
	"github.com/membank/membank/internal/mcp"
	"github.com/membank/membank/internal/memory"
	"github.com/membank/membank/internal/plugin/embed/cached"
	"github.com/membank/membank/internal/policy"
	registryaudit "github.com/membank/membank/internal/registry/audit"
	registrycache "github.com/membank/membank/internal/registry/cache"
	registryembed "github.com/membank/membank/internal/registry/embed"
	registrymigrate "github.com/membank/membank/internal/registry/migrate"
	registryvector "github.com/membank/membank/internal/registry/vector"
	"github.com/membank/membank/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/membank/membank/internal/plugin/audit/file"
	_ "github.com/membank/membank/internal/plugin/audit/noop"
	_ "github.com/membank/membank/internal/plugin/cache/noop"
	_ "github.com/membank/membank/internal/plugin/cache/redis"
	_ "github.com/membank/membank/internal/plugin/cache/ristretto"
	_ "github.com/membank/membank/internal/plugin/embed/disabled"
	_ "github.com/membank/membank/internal/plugin/embed/local"
	_ "github.com/membank/membank/internal/plugin/embed/openai"
	_ "github.com/membank/membank/internal/plugin/vector/inmem"
	_ "github.com/membank/membank/internal/plugin/vector/pgvector"
	_ "github.com/membank/membank/internal/plugin/vector/qdrant"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the membank MCP server on stdio",
		Flags: flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyFromEnv(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMBANK_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store backend (" + strings.Join(registryvector.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "vector-qdrant-host",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMBANK_VECTOR_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant host",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMBANK_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Postgres connection URL for the pgvector backend",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMBANK_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMBANK_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMBANK_EMBEDDING_DIMENSION"),
			Destination: &cfg.EmbeddingDimension,
			Value:       cfg.EmbeddingDimension,
			Usage:       "Vector dimension collections are created with; must match the model output",
		},
		&cli.StringFlag{
			Name:        "embedding-cache",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMBANK_EMBEDDING_CACHE"),
			Destination: &cfg.EmbedCacheType,
			Value:       cfg.EmbedCacheType,
			Usage:       "Embedding cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMBANK_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis URL for the redis embedding cache",
		},

		// ── Memory ────────────────────────────────────────────────
		&cli.FloatFlag{
			Name:        "similarity-threshold",
			Category:    "Memory:",
			Sources:     cli.EnvVars("MEMBANK_SIMILARITY_THRESHOLD"),
			Destination: &cfg.SimilarityThreshold,
			Value:       cfg.SimilarityThreshold,
			Usage:       "Inclusive duplicate suppression threshold",
		},
		&cli.IntFlag{
			Name:        "default-max-results",
			Category:    "Memory:",
			Sources:     cli.EnvVars("MEMBANK_DEFAULT_MAX_RESULTS"),
			Destination: &cfg.DefaultMaxResults,
			Value:       cfg.DefaultMaxResults,
			Usage:       "Result cap when a query omits max_results",
		},
		&cli.StringFlag{
			Name:        "default-agent-id",
			Category:    "Memory:",
			Sources:     cli.EnvVars("MEMBANK_DEFAULT_AGENT_ID"),
			Destination: &cfg.DefaultAgentID,
			Usage:       "Agent id assumed when a caller omits one",
		},

		// ── Policy ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "policy-path",
			Category:    "Policy:",
			Sources:     cli.EnvVars("MEMBANK_POLICY_PATH"),
			Destination: &cfg.PolicyPath,
			Usage:       "YAML policy document; empty disables policy tools",
		},
		&cli.StringFlag{
			Name:        "audit-kind",
			Category:    "Policy:",
			Sources:     cli.EnvVars("MEMBANK_AUDIT_KIND"),
			Destination: &cfg.AuditType,
			Value:       cfg.AuditType,
			Usage:       "Compliance audit sink (" + strings.Join(registryaudit.Names(), "|") + ")",
		},

		// ── Management Listener ───────────────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Listener:",
			Sources:     cli.EnvVars("MEMBANK_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "HTTP port for /health, /ready, /metrics; 0 disables",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Management Listener:",
			Sources:     cli.EnvVars("MEMBANK_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Management Listener:",
			Sources:     cli.EnvVars("MEMBANK_TLS_CERT_FILE"),
			Destination: &cfg.ManagementListener.TLSCertFile,
			Usage:       "TLS certificate file for the management listener",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Management Listener:",
			Sources:     cli.EnvVars("MEMBANK_TLS_KEY_FILE"),
			Destination: &cfg.ManagementListener.TLSKeyFile,
			Usage:       "TLS private key file for the management listener",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	// Embedder: one-time model/plugin initialization per process.
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return err
	}
	cacheLoader, err := registrycache.Select(cfg.EmbedCacheType)
	if err != nil {
		return err
	}
	embedCache, err := cacheLoader(ctx)
	if err != nil {
		return err
	}
	embedder = cached.Wrap(embedder, embedCache)
	log.Info("Embedder ready", "model", embedder.ModelName(), "dim", embedder.Dimension())

	if cfg.VectorMigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return err
		}
	}

	vectorLoader, err := registryvector.Select(cfg.VectorType)
	if err != nil {
		return err
	}
	vector, err := vectorLoader(ctx)
	if err != nil {
		return err
	}

	store, err := memory.NewStore(embedder, vector, memory.Options{
		Dimension:           cfg.EmbeddingDimension,
		SimilarityThreshold: cfg.SimilarityThreshold,
		NearMissThreshold:   cfg.NearMissThreshold,
		DefaultMaxResults:   cfg.DefaultMaxResults,
	})
	if err != nil {
		return err
	}

	access, err := memory.NewAccessEngine(ctx, cfg.AccessPolicyDir)
	if err != nil {
		return err
	}
	router := memory.NewRouter(store, access)

	var policies *policy.Store
	if cfg.PolicyPath != "" {
		auditLoader, err := registryaudit.Select(cfg.AuditType)
		if err != nil {
			return err
		}
		sink, err := auditLoader(ctx)
		if err != nil {
			return err
		}
		defer sink.Close()

		policies = policy.NewStore(store, sink, policy.Options{
			DocumentPath:       cfg.PolicyPath,
			TopK:               cfg.PolicyTopK,
			ViolationThreshold: cfg.PolicyViolationThreshold,
			AdvisoryThreshold:  cfg.PolicyAdvisoryThreshold,
		})
		// A broken policy document must not take memory operations
		// down; policy checks fail until the next successful sync.
		if err := policies.Sync(ctx); err != nil {
			log.Error("Policy sync failed at startup", "err", err)
		} else {
			log.Info("Policy loaded", "versionHash", policies.VersionHash())
		}
		go service.NewPolicySyncer(policies, cfg.PolicySyncInterval).Start(ctx)
	}

	var shutdownManagement func(context.Context) error
	if cfg.ManagementListener.Port > 0 {
		if cfg.ManagementListener.TLSCertFile != "" && cfg.ManagementListener.TLSKeyFile != "" {
			cfg.ManagementListener.EnableTLS = true
		}
		handler := managementHandler(&cfg, vector)
		_, closeFn, err := startManagementServer(cfg.ManagementListener, handler)
		if err != nil {
			return err
		}
		shutdownManagement = closeFn
	}

	log.Info("Serving MCP on stdio", "vector", vector.Name())
	serveErr := mcp.NewServer(store, router, policies, vector, cfg.DefaultAgentID).ServeStdio(ctx)

	if shutdownManagement != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
		defer cancel()
		if err := shutdownManagement(drainCtx); err != nil {
			log.Error("Management shutdown error", "err", err)
		}
	}
	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	log.Info("Server stopped")
	return nil
}

func managementHandler(cfg *config.Config, vector registryvector.VectorStore) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(gin.Logger())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if _, err := vector.CollectionExists(c.Request.Context(), memory.Global.CollectionName()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "UP", "vector": vector.Name()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
