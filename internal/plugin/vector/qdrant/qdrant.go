package qdrant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/membank/membank/internal/config"
	"github.com/membank/membank/internal/memory"
	"github.com/membank/membank/internal/model"
	registrymigrate "github.com/membank/membank/internal/registry/migrate"
	registryvector "github.com/membank/membank/internal/registry/vector"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// qdrantMigrator pre-creates the well-known collections at startup so
// the first write does not pay the creation latency.
type qdrantMigrator struct{}

func (m *qdrantMigrator) Name() string { return "qdrant" }
func (m *qdrantMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorType != "qdrant" || !cfg.VectorMigrateAtStart {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	migrateCtx, cancel := context.WithTimeout(ctx, cfg.QdrantStartupTimeout)
	defer cancel()

	store, err := load(ctx)
	if err != nil {
		return fmt.Errorf("qdrant migrate: %w", err)
	}
	defer store.(*QdrantStore).Close()

	for _, collection := range memory.WellKnownCollections() {
		if err := store.EnsureCollection(migrateCtx, collection, cfg.EmbeddingDimension); err != nil {
			return fmt.Errorf("qdrant migrate: %w", err)
		}
	}
	return nil
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &qdrantMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: missing config in context")
	}
	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &QdrantStore{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
	}, nil
}

// QdrantStore implements VectorStore against a Qdrant gRPC endpoint.
type QdrantStore struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
}

func (s *QdrantStore) IsEnabled() bool { return true }
func (s *QdrantStore) Name() string    { return "qdrant" }

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error { return s.conn.Close() }

func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err == nil {
		existing := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if existing != uint64(dim) {
			return &model.CollectionError{
				Collection: collection,
				Message:    fmt.Sprintf("dimension mismatch: collection has %d, configured %d", existing, dim),
			}
		}
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return &model.CollectionError{Collection: collection, Message: "backend unreachable", Err: err}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 newUint64(16),
			EfConstruct:       newUint64(64),
			FullScanThreshold: newUint64(10000),
		},
	})
	if err != nil {
		// A racing writer may have created it between Get and Create.
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return &model.CollectionError{Collection: collection, Message: "create failed", Err: err}
	}
	log.Info("Created Qdrant collection", "name", collection, "dim", dim)
	return nil
}

func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	_, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err == nil {
		return true, nil
	}
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	return false, &model.CollectionError{Collection: collection, Message: "backend unreachable", Err: err}
}

func (s *QdrantStore) DropCollection(ctx context.Context, collection string) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
	if err != nil && status.Code(err) != codes.NotFound {
		return &model.CollectionError{Collection: collection, Message: "drop failed", Err: err}
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, items []registryvector.UpsertItem) error {
	points := make([]*pb.PointStruct, len(items))
	for i, item := range items {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: item.Record.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: item.Vector},
				},
			},
			Payload: recordPayload(item.Record),
		}
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return &model.CollectionError{Collection: collection, Message: "upsert failed", Err: err}
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]registryvector.SearchResult, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, &model.CollectionError{Collection: collection, Message: "search failed", Err: err}
	}

	var results []registryvector.SearchResult
	for _, pt := range resp.GetResult() {
		results = append(results, registryvector.SearchResult{
			Record: recordFromPayload(pt.GetId(), pt.GetPayload()),
			Score:  float64(pt.GetScore()),
		})
	}
	return results, nil
}

func (s *QdrantStore) Get(ctx context.Context, collection string, id string) (*model.MemoryRecord, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, &model.CollectionError{Collection: collection, Message: "get failed", Err: err}
	}
	result := resp.GetResult()
	if len(result) == 0 {
		return nil, nil
	}
	record := recordFromPayload(result[0].GetId(), result[0].GetPayload())
	return &record, nil
}

func (s *QdrantStore) Delete(ctx context.Context, collection string, id string) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
				},
			},
		},
	})
	if err != nil {
		return &model.CollectionError{Collection: collection, Message: "delete failed", Err: err}
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (uint64, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, &model.CollectionError{Collection: collection, Message: "count failed", Err: err}
	}
	return resp.GetResult().GetCount(), nil
}

func recordPayload(rec model.MemoryRecord) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"id":         {Kind: &pb.Value_StringValue{StringValue: rec.ID}},
		"namespace":  {Kind: &pb.Value_StringValue{StringValue: rec.Namespace}},
		"text":       {Kind: &pb.Value_StringValue{StringValue: rec.Text}},
		"created_at": {Kind: &pb.Value_StringValue{StringValue: rec.CreatedAt.UTC().Format(time.RFC3339Nano)}},
	}
	if len(rec.Metadata) > 0 {
		fields := make(map[string]*pb.Value, len(rec.Metadata))
		for k, v := range rec.Metadata {
			fields[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		payload["metadata"] = &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}
	}
	return payload
}

func recordFromPayload(id *pb.PointId, payload map[string]*pb.Value) model.MemoryRecord {
	rec := model.MemoryRecord{ID: id.GetUuid()}
	if v, ok := payload["id"]; ok && v.GetStringValue() != "" {
		rec.ID = v.GetStringValue()
	}
	if v, ok := payload["namespace"]; ok {
		rec.Namespace = v.GetStringValue()
	}
	if v, ok := payload["text"]; ok {
		rec.Text = v.GetStringValue()
	}
	if v, ok := payload["created_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			rec.CreatedAt = t
		}
	}
	if v, ok := payload["metadata"]; ok {
		if fields := v.GetStructValue().GetFields(); len(fields) > 0 {
			rec.Metadata = make(map[string]string, len(fields))
			for k, fv := range fields {
				rec.Metadata[k] = fv.GetStringValue()
			}
		}
	}
	return rec
}

func newUint64(v uint64) *uint64 {
	return &v
}

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}
