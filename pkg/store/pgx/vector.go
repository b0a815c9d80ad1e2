package pgx

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/store"
)

var collectionName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// VectorStore keeps each collection in its own table with an HNSW cosine
// index. Collection dimensions are recorded in vector_collections.
type VectorStore struct {
	conn pgxIConn

	mu   sync.RWMutex
	dims map[string]int
}

func NewVectorStore(conn pgxIConn) *VectorStore {
	return &VectorStore{conn: conn, dims: make(map[string]int)}
}

func validateCollection(name string) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("%w: collection name %q", common.ErrInvalidInput, name)
	}
	return nil
}

func tableName(name string) string {
	return pgxv5.Identifier{name}.Sanitize()
}

func (s *VectorStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if err := validateCollection(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: collection %s dimension %d", common.ErrInvalidInput, name, dim)
	}
	if cached, ok := s.cachedDim(name); ok {
		return checkDim(name, cached, dim)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('vector_collections:' || $1))", name); err != nil {
		return fmt.Errorf("lock collection %s: %w", name, err)
	}

	var existing int
	err = tx.QueryRow(ctx, `SELECT dimension FROM vector_collections WHERE name = $1 FOR UPDATE`, name).Scan(&existing)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		s.setDim(name, existing)
		return checkDim(name, existing, dim)
	case !errors.Is(err, pgxv5.ErrNoRows):
		return err
	}

	tbl := tableName(name)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         uuid PRIMARY KEY,
			ext_id     text NOT NULL,
			type       text NOT NULL,
			payload    jsonb NOT NULL,
			embedding  vector(%d) NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`, tbl, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgxv5.Identifier{name + "_embedding_idx"}.Sanitize(), tbl),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (type)`,
			pgxv5.Identifier{name + "_type_idx"}.Sanitize(), tbl),
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO vector_collections (name, dimension, distance) VALUES ($1, $2, 'cosine')`, name, dim,
	); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.setDim(name, dim)
	logger.Info("[Vector] Created collection", "collection", name, "dimension", dim)
	return nil
}

func checkDim(name string, have, want int) error {
	if have != want {
		return fmt.Errorf("%w: collection %s has dimension %d, got %d", common.ErrDimensionMismatch, name, have, want)
	}
	return nil
}

func (s *VectorStore) cachedDim(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dims[name]
	return d, ok
}

func (s *VectorStore) setDim(name string, dim int) {
	s.mu.Lock()
	s.dims[name] = dim
	s.mu.Unlock()
}

func (s *VectorStore) Dimension(ctx context.Context, name string) (int, error) {
	if err := validateCollection(name); err != nil {
		return 0, err
	}
	if d, ok := s.cachedDim(name); ok {
		return d, nil
	}
	var dim int
	err := s.conn.QueryRow(ctx, `SELECT dimension FROM vector_collections WHERE name = $1`, name).Scan(&dim)
	switch {
	case errors.Is(err, pgxv5.ErrNoRows), isUndefinedTable(err):
		return 0, nil
	case err != nil:
		return 0, err
	}
	s.setDim(name, dim)
	return dim, nil
}

func (s *VectorStore) Upsert(ctx context.Context, name string, points []common.Point) error {
	if len(points) == 0 {
		return nil
	}
	dim, err := s.Dimension(ctx, name)
	if err != nil {
		return err
	}
	if dim == 0 {
		return fmt.Errorf("%w: collection %s", common.ErrNotFound, name)
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (id, ext_id, type, payload, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			ext_id = EXCLUDED.ext_id,
			type = EXCLUDED.type,
			payload = EXCLUDED.payload,
			embedding = EXCLUDED.embedding,
			updated_at = now()`, tableName(name))

	b := &pgxv5.Batch{}
	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("%w: point %s has dimension %d, collection %d", common.ErrDimensionMismatch, p.ID, len(p.Vector), dim)
		}
		extID, _ := p.Payload["ext_id"].(string)
		typ, _ := p.Payload["type"].(string)
		b.Queue(sql, p.ID, extID, typ, p.Payload, pgvector.NewVector(p.Vector))
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert points into %s: %w", name, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *VectorStore) Search(ctx context.Context, name string, vector []float32, k int, types []string) ([]common.ScoredPoint, error) {
	if err := validateCollection(name); err != nil {
		return nil, err
	}
	if dim, ok := s.cachedDim(name); ok && dim != len(vector) {
		return nil, checkDim(name, dim, len(vector))
	}
	if len(types) == 0 {
		types = nil
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT id::text, payload, 1 - (embedding <=> $1)
		FROM %s
		WHERE ($3::text[] IS NULL OR type = ANY($3))
		ORDER BY embedding <=> $1
		LIMIT $2`, tableName(name)),
		pgvector.NewVector(vector), k, types,
	)
	if isUndefinedTable(err) {
		return []common.ScoredPoint{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []common.ScoredPoint{}
	for rows.Next() {
		var hit common.ScoredPoint
		var score float64
		if err := rows.Scan(&hit.ID, &hit.Payload, &score); err != nil {
			return nil, err
		}
		hit.Score = float32(score)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return []common.ScoredPoint{}, nil
		}
		return nil, err
	}
	return hits, nil
}

func (s *VectorStore) Count(ctx context.Context, name string) (int, error) {
	if err := validateCollection(name); err != nil {
		return 0, err
	}
	var n int
	err := s.conn.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, tableName(name))).Scan(&n)
	if isUndefinedTable(err) {
		return 0, nil
	}
	return n, err
}

var (
	_ store.GraphStore  = (*GraphStore)(nil)
	_ store.VectorStore = (*VectorStore)(nil)
)
