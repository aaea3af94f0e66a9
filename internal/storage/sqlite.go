package storage

import (
	"bytes"
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/bull/pdf-rag/internal/ragerr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL,
	metric    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS points (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	source     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS points_source ON points (collection, source);
`

// SQLiteStorage is an embedded VectorStore. Vectors are stored as float32
// blobs and searched by brute-force cosine similarity, which suits local
// development and tests.
type SQLiteStorage struct {
	db         *sql.DB
	collection CollectionConfig
}

// NewSQLiteStorage opens (or creates) the database at path. Pass ":memory:"
// for a throwaway database.
func NewSQLiteStorage(path string, collection CollectionConfig) (*SQLiteStorage, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ragerr.ErrStore, err)
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: configure sqlite: %w", ragerr.ErrStore, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %w", ragerr.ErrStore, err)
	}

	return &SQLiteStorage{db: db, collection: collection}, nil
}

// Collection implements VectorStore.
func (s *SQLiteStorage) Collection() CollectionConfig {
	return s.collection
}

// Health pings the database.
func (s *SQLiteStorage) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping sqlite: %w", ragerr.ErrStore, err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// EnsureCollection registers the collection if absent and verifies an
// existing registration against the configured dimension and metric.
func (s *SQLiteStorage) EnsureCollection(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, metric) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO NOTHING`,
		s.collection.Name, s.collection.Dimension, string(s.collection.Metric))
	if err != nil {
		return fmt.Errorf("%w: create collection: %w", ragerr.ErrStore, err)
	}
	return s.verifyCollection(ctx)
}

func (s *SQLiteStorage) verifyCollection(ctx context.Context) error {
	var (
		dim    int
		metric string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, metric FROM collections WHERE name = ?`, s.collection.Name).
		Scan(&dim, &metric)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: collection %q does not exist", ragerr.ErrStore, s.collection.Name)
	}
	if err != nil {
		return fmt.Errorf("%w: get collection: %w", ragerr.ErrStore, err)
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
func (s *SQLiteStorage) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error {
	if err := validateUpsert(s.collection.Dimension, ids, vectors, payloads); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.verifyCollection(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", ragerr.ErrStore, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO points (collection, id, source, payload, embedding) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET
			source = excluded.source,
			payload = excluded.payload,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("%w: prepare upsert: %w", ragerr.ErrStore, err)
	}
	defer stmt.Close()

	for i, id := range ids {
		payload, err := json.Marshal(payloads[i])
		if err != nil {
			return fmt.Errorf("%w: point %d payload: %w", ragerr.ErrValidation, i, err)
		}
		source, _ := payloads[i][PayloadSource].(string)
		if _, err := stmt.ExecContext(ctx,
			s.collection.Name, id, source, string(payload), encodeVector(vectors[i]),
		); err != nil {
			return fmt.Errorf("%w: insert point %s: %w", ragerr.ErrStore, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit upsert: %w", ragerr.ErrStore, err)
	}
	return nil
}

// Search scores every point of the collection and returns the topK best.
// Equal scores are ordered by id so results are stable.
func (s *SQLiteStorage) Search(ctx context.Context, vector []float32, topK int) ([]ScoredPoint, error) {
	if err := validateQuery(s.collection.Dimension, vector, topK); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, embedding FROM points WHERE collection = ?`, s.collection.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ragerr.ErrStore, err)
	}
	defer rows.Close()

	var hits []ScoredPoint
	for rows.Next() {
		var (
			id      string
			payload string
			blob    []byte
		)
		if err := rows.Scan(&id, &payload, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan point: %w", ragerr.ErrStore, err)
		}
		stored, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: point %s: %w", ragerr.ErrStore, id, err)
		}
		if len(stored) != len(vector) {
			return nil, fmt.Errorf("%w: point %s has %d dimensions, query has %d",
				ErrDimensionMismatch, id, len(stored), len(vector))
		}
		decoded, err := decodePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: point %s payload: %w", ragerr.ErrStore, id, err)
		}
		hits = append(hits, ScoredPoint{
			ID:      id,
			Score:   cosineSimilarity(vector, stored),
			Payload: decoded,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search: %w", ragerr.ErrStore, err)
	}

	slices.SortFunc(hits, func(a, b ScoredPoint) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteSource removes all points of one source.
func (s *SQLiteStorage) DeleteSource(ctx context.Context, source string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM points WHERE collection = ? AND source = ?`, s.collection.Name, source)
	if err != nil {
		return fmt.Errorf("%w: delete source: %w", ragerr.ErrStore, err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (s *SQLiteStorage) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM points WHERE collection = ?`, s.collection.Name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", ragerr.ErrStore, err)
	}
	return n, nil
}

// decodePayload parses a JSON payload, keeping integral numbers as int64 the
// way Qdrant returns them.
func decodePayload(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	for k, v := range m {
		m[k] = normalizeNumber(v)
	}
	return m, nil
}

func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeNumber(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalizeNumber(item)
		}
		return t
	default:
		return v
	}
}
