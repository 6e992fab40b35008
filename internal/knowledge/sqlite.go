package knowledge

import (
	"context"
	"math"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/store"
)

// SQLiteProvider scores every stored chunk in process. Suitable for corpora of
// a few thousand chunks.
type SQLiteProvider struct {
	store *store.KnowledgeStore
}

// NewSQLiteProvider wraps a knowledge store.
func NewSQLiteProvider(s *store.KnowledgeStore) *SQLiteProvider {
	return &SQLiteProvider{store: s}
}

func (p *SQLiteProvider) Search(ctx context.Context, vector []float32, category string, limit int) ([]domain.KnowledgeChunk, error) {
	chunks, err := p.store.All(ctx, category)
	if err != nil {
		return nil, err
	}
	scored := make([]domain.KnowledgeChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		c.Score = Cosine(vector, c.Embedding)
		c.Embedding = nil
		scored = append(scored, c)
	}
	Rank(scored)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (p *SQLiteProvider) Insert(ctx context.Context, chunk domain.KnowledgeChunk) error {
	_, err := p.store.Insert(ctx, chunk)
	return err
}

func (p *SQLiteProvider) Exists(ctx context.Context, title, category string) (bool, error) {
	return p.store.Exists(ctx, title, category)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
