package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/bull/pdf-rag/internal/ragerr"
)

const pgvectorSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS rag_collections (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL,
	metric    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rag_points (
	collection TEXT NOT NULL REFERENCES rag_collections (name),
	id         UUID NOT NULL,
	source     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	embedding  vector NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS rag_points_source ON rag_points (collection, source);
`

// PGVectorStorage is a VectorStore backed by PostgreSQL with the pgvector
// extension. Similarity is 1 - cosine distance (the <=> operator).
type PGVectorStorage struct {
	db         *sql.DB
	collection CollectionConfig
}

// NewPGVectorStorage connects to databaseURL and creates the schema.
func NewPGVectorStorage(ctx context.Context, databaseURL string, collection CollectionConfig) (*PGVectorStorage, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ragerr.ErrStore, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrapPGErr("ping database", err)
	}
	if _, err := db.ExecContext(ctx, pgvectorSchema); err != nil {
		db.Close()
		return nil, wrapPGErr("create schema", err)
	}

	return &PGVectorStorage{db: db, collection: collection}, nil
}

// Collection implements VectorStore.
func (s *PGVectorStorage) Collection() CollectionConfig {
	return s.collection
}

// Health pings the database.
func (s *PGVectorStorage) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapPGErr("ping database", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PGVectorStorage) Close() error {
	return s.db.Close()
}

// EnsureCollection registers the collection if absent and verifies an
// existing registration.
func (s *PGVectorStorage) EnsureCollection(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rag_collections (name, dimension, metric) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		s.collection.Name, s.collection.Dimension, string(s.collection.Metric))
	if err != nil {
		return wrapPGErr("create collection", err)
	}

	var (
		dim    int
		metric string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT dimension, metric FROM rag_collections WHERE name = $1`, s.collection.Name).
		Scan(&dim, &metric)
	if err != nil {
		return wrapPGErr("get collection", err)
	}
	if dim != s.collection.Dimension {
		return fmt.Errorf("%w: collection %q has %d dimensions, configured %d",
			ErrDimensionMismatch, s.collection.Name, dim, s.collection.Dimension)
	}
	if Metric(metric) != s.collection.Metric {
		return fmt.Errorf("%w: collection %q uses %s distance, expected %s",
			ErrCollectionMismatch, s.collection.Name, metric, s.collection.Metric)
	}
	return nil
}

// Upsert writes all points in one transaction. Existing ids are replaced.
func (s *PGVectorStorage) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error {
	if err := validateUpsert(s.collection.Dimension, ids, vectors, payloads); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapPGErr("begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rag_points (collection, id, source, payload, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (collection, id) DO UPDATE SET
			source = EXCLUDED.source,
			payload = EXCLUDED.payload,
			embedding = EXCLUDED.embedding`)
	if err != nil {
		return wrapPGErr("prepare upsert", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		payload, err := json.Marshal(payloads[i])
		if err != nil {
			return fmt.Errorf("%w: point %d payload: %w", ragerr.ErrValidation, i, err)
		}
		source, _ := payloads[i][PayloadSource].(string)
		if _, err := stmt.ExecContext(ctx,
			s.collection.Name, id, source, string(payload), pgvector.NewVector(vectors[i]),
		); err != nil {
			return wrapPGErr("insert point "+id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapPGErr("commit upsert", err)
	}
	return nil
}

// Search orders points by cosine distance and reports 1 - distance as score.
func (s *PGVectorStorage) Search(ctx context.Context, vector []float32, topK int) ([]ScoredPoint, error) {
	if err := validateQuery(s.collection.Dimension, vector, topK); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, 1 - (embedding <=> $1::vector) AS similarity
		 FROM rag_points
		 WHERE collection = $2
		 ORDER BY embedding <=> $1::vector, id
		 LIMIT $3`,
		pgvector.NewVector(vector), s.collection.Name, topK)
	if err != nil {
		return nil, wrapPGErr("search", err)
	}
	defer rows.Close()

	var hits []ScoredPoint
	for rows.Next() {
		var (
			hit     ScoredPoint
			payload []byte
		)
		if err := rows.Scan(&hit.ID, &payload, &hit.Score); err != nil {
			return nil, wrapPGErr("scan point", err)
		}
		hit.Payload, err = decodePayload(string(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: point %s payload: %w", ragerr.ErrStore, hit.ID, err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPGErr("search", err)
	}
	return hits, nil
}

// DeleteSource removes all points of one source.
func (s *PGVectorStorage) DeleteSource(ctx context.Context, source string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rag_points WHERE collection = $1 AND source = $2`, s.collection.Name, source)
	if err != nil {
		return wrapPGErr("delete source", err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (s *PGVectorStorage) Count(ctx context.Context) (uint64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rag_points WHERE collection = $1`, s.collection.Name).Scan(&n)
	if err != nil {
		return 0, wrapPGErr("count", err)
	}
	return uint64(n), nil
}

// wrapPGErr attaches ErrStore. Lost connections, connection exceptions and
// serialization failures are marked retryable.
func wrapPGErr(op string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %w", ragerr.ErrStore, op, err)

	if errors.Is(err, driver.ErrBadConn) {
		return ragerr.Retryable(wrapped)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return ragerr.Retryable(wrapped)
		}
	}
	return wrapped
}
