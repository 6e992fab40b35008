package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soyeahso/helpdesk/internal/domain"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PgvectorProvider searches a Postgres table with the pgvector extension using
// cosine distance (<=>).
type PgvectorProvider struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgvectorProvider connects to Postgres. The table must have columns
// id, title, content, category, metadata (jsonb), embedding (vector),
// updated_at.
func NewPgvectorProvider(ctx context.Context, connString, table string) (*PgvectorProvider, error) {
	if table == "" {
		table = "knowledge_base"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PgvectorProvider{pool: pool, table: table}, nil
}

// Close releases the pool.
func (p *PgvectorProvider) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PgvectorProvider) Search(ctx context.Context, vector []float32, category string, limit int) ([]domain.KnowledgeChunk, error) {
	q := fmt.Sprintf(`SELECT id::text, coalesce(title, ''), content, category, coalesce(metadata, '{}'::jsonb), updated_at,
	        1 - (embedding <=> $1::vector) AS score
	   FROM %s
	  WHERE embedding IS NOT NULL AND ($2 = '' OR category = $2)
	  ORDER BY embedding <=> $1::vector
	  LIMIT $3`, p.table)

	rows, err := p.pool.Query(ctx, q, VectorLiteral(vector), category, limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.KnowledgeChunk, error) {
		var (
			c        domain.KnowledgeChunk
			metadata []byte
		)
		if err := row.Scan(&c.ID, &c.Title, &c.Content, &c.Category, &metadata, &c.UpdatedAt, &c.Score); err != nil {
			return c, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
				return c, fmt.Errorf("decoding metadata for %s: %w", c.ID, err)
			}
		}
		return c, nil
	})
}

func (p *PgvectorProvider) Insert(ctx context.Context, chunk domain.KnowledgeChunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	if chunk.UpdatedAt.IsZero() {
		chunk.UpdatedAt = time.Now()
	}
	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, title, content, category, metadata, embedding, updated_at)
	    VALUES ($1, $2, $3, $4, $5::jsonb, $6::vector, $7)
	    ON CONFLICT (id) DO UPDATE SET
	      title = EXCLUDED.title, content = EXCLUDED.content, category = EXCLUDED.category,
	      metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`, p.table)
	_, err = p.pool.Exec(ctx, q, chunk.ID, chunk.Title, chunk.Content, chunk.Category,
		string(metadata), VectorLiteral(chunk.Embedding), chunk.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgvector insert: %w", err)
	}
	return nil
}

func (p *PgvectorProvider) Exists(ctx context.Context, title, category string) (bool, error) {
	var exists bool
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE title = $1 AND category = $2)`, p.table)
	if err := p.pool.QueryRow(ctx, q, title, category).Scan(&exists); err != nil {
		return false, fmt.Errorf("pgvector exists: %w", err)
	}
	return exists, nil
}

// VectorLiteral formats v in pgvector's text input form, e.g. "[0.1,0.2]".
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
