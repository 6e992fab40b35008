// Package knowledge retrieves scored passages from the support knowledge base.
package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

// Categories are the knowledge base partitions a search may be restricted to.
var Categories = []string{"faq", "policy", "product", "shipping"}

// ValidCategory reports whether c is empty (no filter) or a known category.
func ValidCategory(c string) bool {
	if c == "" {
		return true
	}
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider stores chunks and answers nearest-neighbour queries. Search returns
// up to limit candidates with Score set to cosine similarity.
type Provider interface {
	Search(ctx context.Context, vector []float32, category string, limit int) ([]domain.KnowledgeChunk, error)
	Insert(ctx context.Context, chunk domain.KnowledgeChunk) error
	Exists(ctx context.Context, title, category string) (bool, error)
}

// Retriever embeds queries and ranks provider results.
type Retriever struct {
	embedder  Embedder
	provider  Provider
	topK      int
	threshold float64
	log       *logging.Logger
}

// NewRetriever creates a retriever returning at most topK chunks per search.
func NewRetriever(embedder Embedder, provider Provider, topK int, threshold float64, log *logging.Logger) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	return &Retriever{
		embedder:  embedder,
		provider:  provider,
		topK:      topK,
		threshold: threshold,
		log:       log.Sub("knowledge"),
	}
}

// Threshold is the minimum score a chunk needs to count as evidence.
func (r *Retriever) Threshold() float64 { return r.threshold }

// TopK is the default result cap.
func (r *Retriever) TopK() int { return r.topK }

// Search returns at most k chunks (topK when k <= 0) ordered by score
// descending, then most recently updated, then id. Scores are clamped to
// [0,1] and NaN scores are discarded. An empty result is not an error.
func (r *Retriever) Search(ctx context.Context, query, category string, k int) ([]domain.KnowledgeChunk, error) {
	if k <= 0 || k > r.topK {
		k = r.topK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	// over-fetch so ties at the cut are broken here rather than by the backend
	candidates, err := r.provider.Search(ctx, vec, category, k*2)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge base: %w", err)
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if math.IsNaN(c.Score) {
			continue
		}
		c.Score = min(max(c.Score, 0), 1)
		kept = append(kept, c)
	}
	Rank(kept)
	if len(kept) > k {
		kept = kept[:k]
	}

	r.log.Debug().Str("category", category).Int("results", len(kept)).Msg("knowledge search")
	return kept, nil
}

// Rank sorts chunks in retrieval order.
func Rank(chunks []domain.KnowledgeChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}
