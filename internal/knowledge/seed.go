package knowledge

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

//go:embed data/knowledge.json
var defaultCorpus []byte

// Entry is one seedable knowledge base document.
type Entry struct {
	Title    string         `json:"title"`
	Category string         `json:"category"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DefaultEntries returns the built-in FAQ and policy corpus.
func DefaultEntries() ([]Entry, error) {
	return ParseEntries(defaultCorpus)
}

// ParseEntries decodes a JSON array of entries.
func ParseEntries(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding knowledge entries: %w", err)
	}
	for i, e := range entries {
		if e.Content == "" {
			return nil, fmt.Errorf("entry %d (%q): content is required", i, e.Title)
		}
		if e.Category == "" || !ValidCategory(e.Category) {
			return nil, fmt.Errorf("entry %d (%q): invalid category %q", i, e.Title, e.Category)
		}
	}
	return entries, nil
}

// LoadEntries reads entries from a file, or from stdin when path is "-".
func LoadEntries(path string) ([]Entry, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseEntries(data)
}

// SeedResult counts what Seed did.
type SeedResult struct {
	Added   int
	Skipped int
}

// Seed embeds and inserts entries, skipping any whose (title, category) is
// already present.
func Seed(ctx context.Context, embedder Embedder, provider Provider, entries []Entry, log *logging.Logger) (SeedResult, error) {
	var res SeedResult
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		exists, err := provider.Exists(ctx, e.Title, e.Category)
		if err != nil {
			return res, err
		}
		if exists {
			res.Skipped++
			continue
		}
		vec, err := embedder.Embed(ctx, e.Content)
		if err != nil {
			return res, fmt.Errorf("embedding %q: %w", e.Title, err)
		}
		err = provider.Insert(ctx, domain.KnowledgeChunk{
			Title:     e.Title,
			Content:   e.Content,
			Category:  e.Category,
			Metadata:  e.Metadata,
			Embedding: vec,
		})
		if err != nil {
			return res, err
		}
		res.Added++
		log.Debug().Str("title", e.Title).Str("category", e.Category).Msg("seeded")
	}
	return res, nil
}
