package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bull/pdf-rag/internal/ragerr"
)

// upsertBatchSize bounds the number of points sent per Upsert request.
const upsertBatchSize = 100

// QdrantConfig holds connection settings for a Qdrant server.
type QdrantConfig struct {
	Host   string
	Port   int // gRPC port
	APIKey string
	UseTLS bool
}

// QdrantStorage wraps the Qdrant client with connection management and health checks.
type QdrantStorage struct {
	client     *qdrant.Client
	collection CollectionConfig
}

// NewQdrantStorage creates a new Qdrant client bound to one collection.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(cfg QdrantConfig, collection CollectionConfig) (*QdrantStorage, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create qdrant client: %w", ragerr.ErrStore, err)
	}

	storage := &QdrantStorage{
		client:     client,
		collection: collection,
	}

	if err := storage.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

// newBackoff returns the retry schedule used for Qdrant calls.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func newBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return s.Health(ctx) }, newBackoff(ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return wrapQdrantErr("health check", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("%w: health check returned invalid response", ragerr.ErrStore)
	}
	return nil
}

// Collection implements VectorStore.
func (s *QdrantStorage) Collection() CollectionConfig {
	return s.collection
}

// EnsureCollection creates the collection with a single unnamed cosine vector
// and a keyword index on the source field. An existing collection is only
// checked against the configured dimension and metric.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection.Name)
	if err != nil {
		return wrapQdrantErr("check collection", err)
	}
	if exists {
		return s.verifyCollection(ctx)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.collection.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// Another run created it first; verify that one instead.
		if status.Code(err) == codes.AlreadyExists {
			return s.verifyCollection(ctx)
		}
		return wrapQdrantErr("create collection", err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection.Name,
		FieldName:      PayloadSource,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return wrapQdrantErr("create source index", err)
	}

	return nil
}

// verifyCollection compares an existing collection with the configuration.
func (s *QdrantStorage) verifyCollection(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.collection.Name)
	if err != nil {
		return wrapQdrantErr("get collection", err)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return fmt.Errorf("%w: collection %q does not use a single unnamed vector",
			ErrCollectionMismatch, s.collection.Name)
	}
	if int(params.GetSize()) != s.collection.Dimension {
		return fmt.Errorf("%w: collection %q has %d dimensions, configured %d",
			ErrDimensionMismatch, s.collection.Name, params.GetSize(), s.collection.Dimension)
	}
	if params.GetDistance() != qdrant.Distance_Cosine {
		return fmt.Errorf("%w: collection %q uses %s distance, expected cosine",
			ErrCollectionMismatch, s.collection.Name, params.GetDistance())
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
// Only transient transport failures are retried.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection.Name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, newBackoff(ctx))
}

// Upsert stores points in batches of 100. Existing ids are replaced entirely.
func (s *QdrantStorage) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error {
	if err := validateUpsert(s.collection.Dimension, ids, vectors, payloads); err != nil {
		return err
	}

	for i := 0; i < len(ids); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(ids))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for j := i; j < end; j++ {
			payload, err := qdrant.TryValueMap(payloads[j])
			if err != nil {
				return fmt.Errorf("%w: point %d payload: %w", ragerr.ErrValidation, j, err)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(ids[j]),
				Vectors: qdrant.NewVectorsDense(vectors[j]),
				Payload: payload,
			})
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return wrapQdrantErr(fmt.Sprintf("upsert batch %d-%d", i, end), err)
		}
	}

	return nil
}

// Search performs cosine similarity search and returns hits ordered by score descending.
func (s *QdrantStorage) Search(ctx context.Context, vector []float32, topK int) ([]ScoredPoint, error) {
	if err := validateQuery(s.collection.Dimension, vector, topK); err != nil {
		return nil, err
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection.Name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, wrapQdrantErr("search", err)
	}

	points := make([]ScoredPoint, 0, len(results))
	for _, result := range results {
		points = append(points, ScoredPoint{
			ID:      result.GetId().GetUuid(),
			Score:   float64(result.GetScore()),
			Payload: fromValueMap(result.GetPayload()),
		})
	}
	return points, nil
}

// DeleteSource removes all points of one source using the payload index.
func (s *QdrantStorage) DeleteSource(ctx context.Context, source string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection.Name,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(PayloadSource, source),
			},
		}),
	})
	if err != nil {
		return wrapQdrantErr("delete source", err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStorage) Count(ctx context.Context) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection.Name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, wrapQdrantErr("count", err)
	}
	return n, nil
}

// isTransient reports whether a gRPC failure is worth retrying.
func isTransient(err error) bool {
	var exhausted *qdrant.QdrantResourceExhaustedError
	if errors.As(err, &exhausted) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// wrapQdrantErr attaches ErrStore and marks transient failures retryable.
func wrapQdrantErr(op string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %w", ragerr.ErrStore, op, err)
	if isTransient(err) {
		return ragerr.Retryable(wrapped)
	}
	return wrapped
}

// fromValueMap converts a Qdrant payload into plain Go values.
func fromValueMap(m map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = fromValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return fromValueMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
