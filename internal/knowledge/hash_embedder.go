package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is an offline embedder that hashes word unigrams and bigrams
// into a fixed number of buckets. Texts sharing vocabulary score high; it
// needs no network and is deterministic, which makes it the fallback when no
// embedding provider is configured.
type HashEmbedder struct {
	Dims int
}

func (h HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = 256
	}
	vec := make([]float64, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	add := func(tok string, weight float64) {
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		vec[sum%uint64(dims)] += weight
	}
	for i, w := range words {
		if stopwords[w] {
			continue
		}
		add(w, 1)
		if i+1 < len(words) {
			add(w+" "+words[i+1], 0.5)
		}
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	out := make([]float32, dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, x := range vec {
		out[i] = float32(x / norm)
	}
	return out, nil
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "to": true, "of": true,
	"and": true, "or": true, "in": true, "on": true, "for": true, "my": true, "your": true,
	"i": true, "you": true, "we": true, "it": true, "do": true, "does": true, "what": true,
	"how": true, "can": true, "be": true, "with": true, "me": true, "our": true,
}
