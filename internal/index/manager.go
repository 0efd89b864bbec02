// Package index builds and incrementally refreshes per-owner embedding
// indexes over journal entries.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spetr/journalmind/pkg/types"
)

// DefaultWorkers bounds the embedding fan-out per build so a bulk build does
// not hammer the provider.
const DefaultWorkers = 4

// EntrySource reads journal entries. The raw record store is external; only
// its read contract matters here.
type EntrySource interface {
	ListEntries(ctx context.Context, owner string) ([]*types.JournalEntry, error)
}

// VectorStore is the write/read contract the manager needs from the
// embedding persistence layer.
type VectorStore interface {
	UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error
	EmbeddingHashes(ctx context.Context, owner, model string) (map[string]string, error)
}

// Embedder computes a text embedding against the owner's provider.
type Embedder interface {
	Embed(ctx context.Context, baseURL, apiKey, model, text string) ([]float32, error)
}

// SettingsSource reads the owner's typed AI configuration.
type SettingsSource interface {
	AISettings(ctx context.Context, owner string) (types.AISettings, error)
}

// Manager is the embedding index manager. At most one build runs per owner;
// builds for different owners proceed independently.
type Manager struct {
	entries  EntrySource
	vectors  VectorStore
	settings SettingsSource
	embedder Embedder
	workers  int
	locks    *ownerLocks
}

// Config contains manager dependencies.
type Config struct {
	Entries  EntrySource
	Vectors  VectorStore
	Settings SettingsSource
	Embedder Embedder
	Workers  int
}

// New creates a manager.
func New(cfg Config) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Manager{
		entries:  cfg.Entries,
		vectors:  cfg.Vectors,
		settings: cfg.Settings,
		embedder: cfg.Embedder,
		workers:  workers,
		locks:    newOwnerLocks(),
	}
}

// BuildAll re-embeds every entry for the owner. Per-entry provider failures
// are counted, never fatal; empty entries are skipped. On context expiry the
// partial counts are returned together with the context error.
func (m *Manager) BuildAll(ctx context.Context, owner string) (*types.BuildResult, error) {
	return m.build(ctx, owner, false)
}

// BuildIncremental re-embeds only entries whose content hash changed since
// they were last indexed. Unchanged entries never reach the provider.
func (m *Manager) BuildIncremental(ctx context.Context, owner string) (*types.BuildResult, error) {
	return m.build(ctx, owner, true)
}

func (m *Manager) build(ctx context.Context, owner string, incremental bool) (*types.BuildResult, error) {
	if !m.locks.tryAcquire(owner) {
		return nil, types.ErrBuildInProgress
	}
	defer m.locks.release(owner)

	settings, err := m.settings.AISettings(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.EmbeddingComplete() {
		return nil, types.ErrConfigurationMissing
	}

	entries, err := m.entries.ListEntries(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	var stored map[string]string
	if incremental {
		stored, err = m.vectors.EmbeddingHashes(ctx, owner, settings.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("failed to load stored hashes: %w", err)
		}
	}

	start := time.Now()
	result := &types.BuildResult{}

	var mu sync.Mutex
	jobs := make(chan *types.JournalEntry)

	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				outcome := m.processEntry(ctx, owner, settings, entry)
				mu.Lock()
				switch outcome {
				case entryProcessed:
					result.Processed++
				case entryFailed:
					result.Failed++
				case entrySkipped:
					result.Skipped++
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, entry := range entries {
		if incremental {
			if hash, ok := stored[entry.ID]; ok && hash == types.ComputeContentHash(entry.Content) {
				result.Unchanged++
				continue
			}
		}
		select {
		case jobs <- entry:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	slog.Info("vector build finished",
		"owner", owner,
		"incremental", incremental,
		"processed", result.Processed,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"unchanged", result.Unchanged,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

type entryOutcome int

const (
	entryProcessed entryOutcome = iota
	entryFailed
	entrySkipped
)

func (m *Manager) processEntry(ctx context.Context, owner string, settings types.AISettings, entry *types.JournalEntry) entryOutcome {
	if entry.Content == "" {
		return entrySkipped
	}

	vector, err := m.embedder.Embed(ctx, settings.BaseURL, settings.APIKey, settings.EmbeddingModel, entry.Content)
	if err != nil {
		slog.Warn("failed to embed entry", "owner", owner, "entry", entry.ID, "error", err)
		return entryFailed
	}

	rec := &types.EmbeddingRecord{
		Owner:       owner,
		EntryID:     entry.ID,
		Vector:      vector,
		ContentHash: types.ComputeContentHash(entry.Content),
		Model:       settings.EmbeddingModel,
		Updated:     time.Now().UTC(),
	}
	if err := m.vectors.UpsertEmbedding(ctx, rec); err != nil {
		slog.Warn("failed to store embedding", "owner", owner, "entry", entry.ID, "error", err)
		return entryFailed
	}
	return entryProcessed
}

// GetStats joins the entry source against the stored records. Staleness is
// defined by hash mismatch only.
func (m *Manager) GetStats(ctx context.Context, owner string) (*types.IndexStats, error) {
	settings, err := m.settings.AISettings(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	entries, err := m.entries.ListEntries(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	stored, err := m.vectors.EmbeddingHashes(ctx, owner, settings.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored hashes: %w", err)
	}

	stats := &types.IndexStats{Total: len(entries)}
	for _, entry := range entries {
		hash, ok := stored[entry.ID]
		switch {
		case !ok:
			stats.Missing++
		case hash == types.ComputeContentHash(entry.Content):
			stats.Indexed++
		default:
			stats.Outdated++
		}
	}
	return stats, nil
}
