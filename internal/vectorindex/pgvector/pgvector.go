package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"labrec/internal/domain"
	"labrec/internal/embedding"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Index is a PostgreSQL-based vector index using the pgvector extension.
type Index struct {
	db        *sql.DB
	table     string
	dimension int
}

type Config struct {
	DSN       string
	Table     string
	Dimension int
}

// NewIndex opens the database, verifies connectivity and creates the table
// and HNSW index when missing.
func NewIndex(ctx context.Context, cfg Config) (*Index, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	idx, err := newWithDB(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return idx, nil
}

func newWithDB(db *sql.DB, cfg Config) (*Index, error) {
	table := cfg.Table
	if table == "" {
		table = "catalog_entries"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", cfg.Dimension)
	}
	return &Index{db: db, table: table, dimension: cfg.Dimension}, nil
}

func (s *Index) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_metadata ON %s USING gin (metadata jsonb_path_ops)`, s.table, s.table),
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

// Upsert writes the batch in one transaction so a batch commits or fails
// as a unit.
func (s *Index) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	for _, e := range entries {
		if len(e.Vector) != s.dimension {
			return fmt.Errorf("entry %s: %w: got %d, want %d", e.ID, domain.ErrDimensionMismatch, len(e.Vector), s.dimension)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`, s.table)
	for _, e := range entries {
		md, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt, e.ID, formatEmbedding(e.Vector), string(md)); err != nil {
			return fmt.Errorf("upsert %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query orders by cosine distance. A zero vector has no cosine distance, so
// filter-only queries are ordered by id with score 0.
func (s *Index) Query(ctx context.Context, vector []float64, topK int, filter map[string]any) ([]domain.Match, error) {
	if topK <= 0 {
		topK = 5
	}
	var (
		where string
		args  []any
	)
	if len(filter) > 0 {
		f, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
		args = append(args, string(f))
		where = "WHERE metadata @> $1::jsonb"
	}
	var query string
	if embedding.IsZero(vector) {
		args = append(args, topK)
		query = fmt.Sprintf(`SELECT id, metadata, 0 AS score FROM %s %s ORDER BY id LIMIT $%d`, s.table, where, len(args))
	} else {
		args = append(args, formatEmbedding(vector))
		vecArg := len(args)
		args = append(args, topK)
		query = fmt.Sprintf(`SELECT id, metadata, 1 - (embedding <=> $%d) AS score FROM %s %s ORDER BY embedding <=> $%d, id LIMIT $%d`,
			vecArg, s.table, where, vecArg, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		var (
			m  domain.Match
			md []byte
		)
		if err := rows.Scan(&m.ID, &md, &m.Score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if len(md) > 0 {
			if err := json.Unmarshal(md, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", s.table, strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (s *Index) DescribeStats(ctx context.Context) (domain.IndexStats, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&count); err != nil {
		return domain.IndexStats{}, fmt.Errorf("count: %w", err)
	}
	return domain.IndexStats{TotalCount: count, Dimension: s.dimension}, nil
}

func (s *Index) ListIDs(ctx context.Context, limit int) ([]string, error) {
	query := fmt.Sprintf("SELECT id FROM %s ORDER BY id", s.table)
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *Index) Close() error {
	return s.db.Close()
}

// formatEmbedding converts a float64 slice to pgvector format: "[0.1,0.2,0.3]"
func formatEmbedding(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
