// Package search ranks an owner's indexed journal entries against a query
// using in-process cosine similarity.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/spetr/journalmind/pkg/types"
)

// VectorSource loads stored embedding records.
type VectorSource interface {
	ListEmbeddings(ctx context.Context, owner, model string) ([]*types.EmbeddingRecord, error)
}

// EntrySource reads journal entries for result hydration.
type EntrySource interface {
	ListEntries(ctx context.Context, owner string) ([]*types.JournalEntry, error)
}

// Embedder computes the query embedding.
type Embedder interface {
	Embed(ctx context.Context, baseURL, apiKey, model, text string) ([]float32, error)
}

// SettingsSource reads the owner's typed AI configuration.
type SettingsSource interface {
	AISettings(ctx context.Context, owner string) (types.AISettings, error)
}

// Searcher performs brute-force nearest-neighbor retrieval. Scanning every
// record is adequate at journal scale; the index never needs an ANN
// structure for tens of thousands of entries per owner.
type Searcher struct {
	vectors  VectorSource
	entries  EntrySource
	settings SettingsSource
	embedder Embedder
}

// Config contains searcher dependencies.
type Config struct {
	Vectors  VectorSource
	Entries  EntrySource
	Settings SettingsSource
	Embedder Embedder
}

// New creates a searcher.
func New(cfg Config) *Searcher {
	return &Searcher{
		vectors:  cfg.Vectors,
		entries:  cfg.Entries,
		settings: cfg.Settings,
		embedder: cfg.Embedder,
	}
}

// QuerySimilar embeds queryText and returns up to limit entries ranked by
// cosine similarity, ties broken by entry date descending. A cold index
// yields an empty result, not an error. Records whose entry has vanished
// from the entry source are silently excluded.
func (s *Searcher) QuerySimilar(ctx context.Context, owner, queryText string, limit int) ([]types.DiarySearchResult, error) {
	if queryText == "" {
		return nil, types.ErrInvalidQuery
	}

	settings, err := s.settings.AISettings(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.EmbeddingComplete() {
		return nil, types.ErrConfigurationMissing
	}

	queryVec, err := s.embedder.Embed(ctx, settings.BaseURL, settings.APIKey, settings.EmbeddingModel, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	records, err := s.vectors.ListEmbeddings(ctx, owner, settings.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	entries, err := s.entries.ListEntries(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	byID := make(map[string]*types.JournalEntry, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
	}

	results := make([]types.DiarySearchResult, 0, len(records))
	for _, rec := range records {
		entry, ok := byID[rec.EntryID]
		if !ok {
			continue // stale record, entry deleted
		}
		results = append(results, types.DiarySearchResult{
			ID:      entry.ID,
			Date:    entry.Date,
			Mood:    entry.Mood,
			Weather: entry.Weather,
			Content: entry.Content,
			Score:   cosineSimilarity(queryVec, rec.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Date > results[j].Date
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// cosineSimilarity computes the normalized dot product of two vectors.
// Mismatched or zero-norm vectors score zero.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
