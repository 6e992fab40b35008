package knowledge

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
	"github.com/soyeahso/helpdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedEmbedder maps known texts to vectors and everything else to fallback.
type fixedEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
}

func (f fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

// staticProvider returns canned candidates.
type staticProvider struct {
	chunks    []domain.KnowledgeChunk
	lastLimit int
}

func (s *staticProvider) Search(_ context.Context, _ []float32, _ string, limit int) ([]domain.KnowledgeChunk, error) {
	s.lastLimit = limit
	out := make([]domain.KnowledgeChunk, len(s.chunks))
	copy(out, s.chunks)
	return out, nil
}
func (s *staticProvider) Insert(context.Context, domain.KnowledgeChunk) error { return nil }
func (s *staticProvider) Exists(context.Context, string, string) (bool, error) {
	return false, nil
}

func sqliteProvider(t *testing.T) *SQLiteProvider {
	t.Helper()
	db, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteProvider(store.NewKnowledgeStore(db))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 0}))
}

func TestRetriever_OrdersAndCaps(t *testing.T) {
	now := time.Now()
	p := &staticProvider{chunks: []domain.KnowledgeChunk{
		{ID: "c", Score: 0.80, UpdatedAt: now},
		{ID: "b", Score: 0.80, UpdatedAt: now},
		{ID: "a", Score: 0.80, UpdatedAt: now.Add(-time.Hour)},
		{ID: "d", Score: 0.95, UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: "nan", Score: math.NaN()},
		{ID: "negative", Score: -0.3},
		{ID: "e", Score: 0.10, UpdatedAt: now},
	}}
	r := NewRetriever(fixedEmbedder{fallback: []float32{1}}, p, 4, 0.7, logging.Nop())

	got, err := r.Search(context.Background(), "anything", "", 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "b", got[1].ID, "equal score and time: lower id first")
	assert.Equal(t, "c", got[2].ID)
	assert.Equal(t, "a", got[3].ID)
	assert.Equal(t, 8, p.lastLimit)

	for _, c := range got {
		assert.NotEqual(t, "nan", c.ID)
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestRetriever_ExactMatchIsKept(t *testing.T) {
	ctx := context.Background()
	p := sqliteProvider(t)
	vec, err := HashEmbedder{}.Embed(ctx, "How long do I have to return an item?")
	require.NoError(t, err)
	require.Len(t, vec, 256)
	require.NoError(t, p.Insert(ctx, domain.KnowledgeChunk{
		ID: "kb-returns", Title: "Return window", Content: "Unworn items can be returned within 30 days.",
		Category: "policy", Embedding: vec, UpdatedAt: time.Now(),
	}))

	r := NewRetriever(HashEmbedder{}, p, 3, 0.7, logging.Nop())
	got, err := r.Search(ctx, "How long do I have to return an item?", "", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kb-returns", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.LessOrEqual(t, got[0].Score, 1.0)
}

func TestRetriever_ClampsRoundingAboveOne(t *testing.T) {
	p := &staticProvider{chunks: []domain.KnowledgeChunk{{ID: "self", Score: 1.0000000000000002}, {ID: "other", Score: 0.9}}}
	r := NewRetriever(fixedEmbedder{fallback: []float32{1}}, p, 3, 0.7, logging.Nop())

	got, err := r.Search(context.Background(), "q", "", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "self", got[0].ID)
	assert.Equal(t, 1.0, got[0].Score)
}

func TestRetriever_KNeverExceedsTopK(t *testing.T) {
	p := &staticProvider{chunks: []domain.KnowledgeChunk{{ID: "a", Score: .9}, {ID: "b", Score: .8}, {ID: "c", Score: .7}}}
	r := NewRetriever(fixedEmbedder{fallback: []float32{1}}, p, 2, 0.7, logging.Nop())

	got, err := r.Search(context.Background(), "q", "", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = r.Search(context.Background(), "q", "", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRetriever_EmptyCorpus(t *testing.T) {
	r := NewRetriever(HashEmbedder{}, sqliteProvider(t), 3, 0.7, logging.Nop())
	got, err := r.Search(context.Background(), "what is your return policy?", "", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetriever_EmbedError(t *testing.T) {
	r := NewRetriever(fixedEmbedder{err: errors.New("boom")}, &staticProvider{}, 3, 0.7, logging.Nop())
	_, err := r.Search(context.Background(), "q", "", 0)
	assert.ErrorContains(t, err, "embedding query")
}

func TestSQLiteProvider_SearchWithCategory(t *testing.T) {
	ctx := context.Background()
	p := sqliteProvider(t)
	require.NoError(t, p.Insert(ctx, domain.KnowledgeChunk{ID: "1", Title: "Returns", Category: "policy", Content: "30 days", Embedding: []float32{1, 0, 0}}))
	require.NoError(t, p.Insert(ctx, domain.KnowledgeChunk{ID: "2", Title: "Shipping", Category: "shipping", Content: "5-7 days", Embedding: []float32{0.6, 0.8, 0}}))
	require.NoError(t, p.Insert(ctx, domain.KnowledgeChunk{ID: "3", Title: "Empty", Category: "faq", Content: "no vector"}))

	all, err := p.Search(ctx, []float32{1, 0, 0}, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID)
	assert.InDelta(t, 1.0, all[0].Score, 1e-6)
	assert.InDelta(t, 0.6, all[1].Score, 1e-6)
	assert.Nil(t, all[0].Embedding)

	shipping, err := p.Search(ctx, []float32{1, 0, 0}, "shipping", 10)
	require.NoError(t, err)
	require.Len(t, shipping, 1)
	assert.Equal(t, "2", shipping[0].ID)
}

func TestSeedSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	p := sqliteProvider(t)
	entries, err := DefaultEntries()
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	res, err := Seed(ctx, HashEmbedder{Dims: 64}, p, entries, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, len(entries), res.Added)
	assert.Zero(t, res.Skipped)

	res, err = Seed(ctx, HashEmbedder{Dims: 64}, p, entries, logging.Nop())
	require.NoError(t, err)
	assert.Zero(t, res.Added)
	assert.Equal(t, len(entries), res.Skipped)
}

func TestSeededCorpusAnswersReturnPolicy(t *testing.T) {
	ctx := context.Background()
	p := sqliteProvider(t)
	entries, err := DefaultEntries()
	require.NoError(t, err)
	_, err = Seed(ctx, HashEmbedder{}, p, entries, logging.Nop())
	require.NoError(t, err)

	r := NewRetriever(HashEmbedder{}, p, 3, 0.7, logging.Nop())
	got, err := r.Search(ctx, "What is your return policy?", "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "Return Policy", got[0].Title)
}

func TestParseEntriesValidation(t *testing.T) {
	_, err := ParseEntries([]byte(`[{"title":"x","category":"policy"}]`))
	assert.ErrorContains(t, err, "content is required")

	_, err = ParseEntries([]byte(`[{"title":"x","category":"misc","content":"y"}]`))
	assert.ErrorContains(t, err, "invalid category")

	got, err := ParseEntries([]byte(`[{"title":"x","category":"faq","content":"y"}]`))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	ctx := context.Background()
	h := HashEmbedder{Dims: 32}
	a, err := h.Embed(ctx, "Return policy for shoes")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "return POLICY for shoes!")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)

	zero, err := h.Embed(ctx, "the a an")
	require.NoError(t, err)
	assert.Len(t, zero, 32)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", VectorLiteral(nil))
	assert.Equal(t, "[0.5,-1,0.25]", VectorLiteral([]float32{0.5, -1, 0.25}))
}

func TestValidCategory(t *testing.T) {
	assert.True(t, ValidCategory(""))
	assert.True(t, ValidCategory("policy"))
	assert.False(t, ValidCategory("returns"))
}
