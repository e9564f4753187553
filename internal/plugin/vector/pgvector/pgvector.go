package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/membank/membank/internal/config"
	"github.com/membank/membank/internal/model"
	registrymigrate "github.com/membank/membank/internal/registry/migrate"
	registryvector "github.com/membank/membank/internal/registry/vector"
	pgvec "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// pgvectorMigrator sets up the vector extension and the collection
// registry table.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorType != "pgvector" || !cfg.VectorMigrateAtStart || cfg.DBURL == "" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	pool, err := openPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	defer pool.Close()

	for _, stmt := range []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS vector_collections (
			name text PRIMARY KEY,
			dim  int  NOT NULL
		)`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector migrate: %w", err)
		}
	}
	return nil
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: missing config in context")
	}
	pool, err := openPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return &PgvectorStore{pool: pool}, nil
}

func openPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, err
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// PgvectorStore implements VectorStore on Postgres with the pgvector
// extension. Each collection is one table plus a row in
// vector_collections recording its dimension.
type PgvectorStore struct {
	pool *pgxpool.Pool
}

func (s *PgvectorStore) IsEnabled() bool { return true }
func (s *PgvectorStore) Name() string    { return "pgvector" }

// Close releases the connection pool.
func (s *PgvectorStore) Close() { s.pool.Close() }

// tableName maps a collection name onto a safe SQL identifier.
// Collection names are produced by the namespace mapping and contain
// only [a-z0-9_-]; anything else is rejected.
func tableName(collection string) (string, error) {
	for _, r := range collection {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return "", fmt.Errorf("invalid collection name %q", collection)
		}
	}
	return `vec_` + strings.ReplaceAll(collection, "-", "_"), nil
}

func (s *PgvectorStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	table, err := tableName(collection)
	if err != nil {
		return &model.CollectionError{Collection: collection, Message: err.Error()}
	}

	var existing int
	err = s.pool.QueryRow(ctx, `SELECT dim FROM vector_collections WHERE name = $1`, collection).Scan(&existing)
	switch {
	case err == nil:
		if existing != dim {
			return &model.CollectionError{
				Collection: collection,
				Message:    fmt.Sprintf("dimension mismatch: collection has %d, configured %d", existing, dim),
			}
		}
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to create
	default:
		return &model.CollectionError{Collection: collection, Message: "backend unreachable", Err: err}
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         uuid PRIMARY KEY,
		namespace  text NOT NULL,
		content    text NOT NULL,
		metadata   jsonb,
		created_at timestamptz NOT NULL,
		embedding  vector(%d) NOT NULL
	)`, table, dim)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return &model.CollectionError{Collection: collection, Message: "create failed", Err: err}
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO vector_collections (name, dim) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		collection, dim); err != nil {
		return &model.CollectionError{Collection: collection, Message: "register failed", Err: err}
	}
	log.Info("Created pgvector collection", "name", collection, "dim", dim)
	return nil
}

func (s *PgvectorStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var dim int
	err := s.pool.QueryRow(ctx, `SELECT dim FROM vector_collections WHERE name = $1`, collection).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &model.CollectionError{Collection: collection, Message: "backend unreachable", Err: err}
	}
	return true, nil
}

func (s *PgvectorStore) DropCollection(ctx context.Context, collection string) error {
	table, err := tableName(collection)
	if err != nil {
		return &model.CollectionError{Collection: collection, Message: err.Error()}
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return &model.CollectionError{Collection: collection, Message: "drop failed", Err: err}
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM vector_collections WHERE name = $1`, collection); err != nil {
		return &model.CollectionError{Collection: collection, Message: "unregister failed", Err: err}
	}
	return nil
}

func (s *PgvectorStore) Upsert(ctx context.Context, collection string, items []registryvector.UpsertItem) error {
	table, err := tableName(collection)
	if err != nil {
		return &model.CollectionError{Collection: collection, Message: err.Error()}
	}
	for _, item := range items {
		meta, err := json.Marshal(item.Record.Metadata)
		if err != nil {
			return &model.CollectionError{Collection: collection, Message: "encode metadata", Err: err}
		}
		_, err = s.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, namespace, content, metadata, created_at, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, table),
			item.Record.ID, item.Record.Namespace, item.Record.Text, meta,
			item.Record.CreatedAt, pgvec.NewVector(item.Vector))
		if err != nil {
			return &model.CollectionError{Collection: collection, Message: "upsert failed", Err: err}
		}
	}
	return nil
}

func (s *PgvectorStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]registryvector.SearchResult, error) {
	table, err := tableName(collection)
	if err != nil {
		return nil, &model.CollectionError{Collection: collection, Message: err.Error()}
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, namespace, content, metadata, created_at,
		       1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, table),
		pgvec.NewVector(vector), limit)
	if err != nil {
		return nil, &model.CollectionError{Collection: collection, Message: "search failed", Err: err}
	}
	defer rows.Close()

	var results []registryvector.SearchResult
	for rows.Next() {
		var (
			rec   model.MemoryRecord
			meta  []byte
			score float64
		)
		if err := rows.Scan(&rec.ID, &rec.Namespace, &rec.Text, &meta, &rec.CreatedAt, &score); err != nil {
			return nil, &model.CollectionError{Collection: collection, Message: "scan failed", Err: err}
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &rec.Metadata)
		}
		results = append(results, registryvector.SearchResult{Record: rec, Score: score})
	}
	return results, rows.Err()
}

func (s *PgvectorStore) Get(ctx context.Context, collection string, id string) (*model.MemoryRecord, error) {
	table, err := tableName(collection)
	if err != nil {
		return nil, &model.CollectionError{Collection: collection, Message: err.Error()}
	}
	var (
		rec  model.MemoryRecord
		meta []byte
	)
	err = s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, namespace, content, metadata, created_at FROM %s WHERE id = $1`, table), id).
		Scan(&rec.ID, &rec.Namespace, &rec.Text, &meta, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &model.CollectionError{Collection: collection, Message: "get failed", Err: err}
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &rec.Metadata)
	}
	return &rec, nil
}

func (s *PgvectorStore) Delete(ctx context.Context, collection string, id string) error {
	table, err := tableName(collection)
	if err != nil {
		return &model.CollectionError{Collection: collection, Message: err.Error()}
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id); err != nil {
		return &model.CollectionError{Collection: collection, Message: "delete failed", Err: err}
	}
	return nil
}

func (s *PgvectorStore) Count(ctx context.Context, collection string) (uint64, error) {
	table, err := tableName(collection)
	if err != nil {
		return 0, &model.CollectionError{Collection: collection, Message: err.Error()}
	}
	var count uint64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&count); err != nil {
		return 0, &model.CollectionError{Collection: collection, Message: "count failed", Err: err}
	}
	return count, nil
}

var _ registryvector.VectorStore = (*PgvectorStore)(nil)
