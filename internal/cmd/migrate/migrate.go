package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/membank/membank/internal/config"
	registrymigrate "github.com/membank/membank/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Vector plugins register their own migrators alongside their primary interface.
	_ "github.com/membank/membank/internal/plugin/vector/pgvector"
	_ "github.com/membank/membank/internal/plugin/vector/qdrant"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the well-known collections and backing schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "vector-kind",
				Sources: cli.EnvVars("MEMBANK_VECTOR_KIND"),
				Usage:   "Vector store backend (qdrant|pgvector)",
				Value:   "qdrant",
			},
			&cli.StringFlag{
				Name:    "vector-qdrant-host",
				Sources: cli.EnvVars("MEMBANK_VECTOR_QDRANT_HOST"),
				Usage:   "Qdrant host",
				Value:   "localhost",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("MEMBANK_DB_URL"),
				Usage:   "Postgres connection URL for the pgvector backend",
			},
			&cli.IntFlag{
				Name:    "embedding-dimension",
				Sources: cli.EnvVars("MEMBANK_EMBEDDING_DIMENSION"),
				Usage:   "Vector dimension collections are created with",
				Value:   384,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.VectorType = cmd.String("vector-kind")
			cfg.QdrantHost = cmd.String("vector-qdrant-host")
			cfg.DBURL = cmd.String("db-url")
			cfg.EmbeddingDimension = cmd.Int("embedding-dimension")
			if err := cfg.ApplyFromEnv(); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
