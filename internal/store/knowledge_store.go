package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// KnowledgeStore keeps the knowledge corpus and its embeddings in SQLite.
type KnowledgeStore struct {
	db *DB
}

// NewKnowledgeStore creates a knowledge store using the given database.
func NewKnowledgeStore(db *DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Insert stores a chunk with its embedding, assigning an id if needed.
func (k *KnowledgeStore) Insert(ctx context.Context, chunk domain.KnowledgeChunk) (*domain.KnowledgeChunk, error) {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	now := time.Now()
	if chunk.UpdatedAt.IsZero() {
		chunk.UpdatedAt = now
	}

	var metadata sql.NullString
	if len(chunk.Metadata) > 0 {
		b, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	_, err := k.db.sql.ExecContext(ctx,
		`INSERT INTO knowledge_base (id, title, content, category, metadata, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   content = excluded.content,
		   category = excluded.category,
		   metadata = excluded.metadata,
		   embedding = excluded.embedding,
		   updated_at = excluded.updated_at`,
		chunk.ID, chunk.Title, chunk.Content, chunk.Category, metadata,
		encodeVector(chunk.Embedding), formatTime(now), formatTime(chunk.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting knowledge chunk: %w", err)
	}
	return &chunk, nil
}

// Exists reports whether a chunk with this title and category is stored.
func (k *KnowledgeStore) Exists(ctx context.Context, title, category string) (bool, error) {
	var n int
	err := k.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_base WHERE title = ? AND category = ?`, title, category,
	).Scan(&n)
	return n > 0, err
}

// All returns every chunk, optionally restricted to one category.
func (k *KnowledgeStore) All(ctx context.Context, category string) ([]domain.KnowledgeChunk, error) {
	q := `SELECT id, title, content, category, metadata, embedding, updated_at FROM knowledge_base`
	var args []any
	if category != "" {
		q += ` WHERE category = ?`
		args = append(args, category)
	}

	rows, err := k.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.KnowledgeChunk
	for rows.Next() {
		var (
			c         domain.KnowledgeChunk
			metadata  sql.NullString
			embedding []byte
			updatedAt string
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.Content, &c.Category, &metadata, &embedding, &updatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for %s: %w", c.ID, err)
			}
		}
		c.Embedding = decodeVector(embedding)
		c.UpdatedAt = parseTime(updatedAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Count returns the number of chunks in the corpus.
func (k *KnowledgeStore) Count(ctx context.Context) (int, error) {
	var n int
	err := k.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_base`).Scan(&n)
	return n, err
}

// encodeVector packs float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
