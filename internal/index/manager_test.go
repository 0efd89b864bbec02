package index

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spetr/journalmind/pkg/types"
)

type fakeEntries struct {
	entries []*types.JournalEntry
}

func (f *fakeEntries) ListEntries(ctx context.Context, owner string) ([]*types.JournalEntry, error) {
	return f.entries, nil
}

type fakeVectors struct {
	mu     sync.Mutex
	hashes map[string]string
	stored []*types.EmbeddingRecord
	fail   bool
}

func (f *fakeVectors) UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.stored = append(f.stored, rec)
	return nil
}

func (f *fakeVectors) EmbeddingHashes(ctx context.Context, owner, model string) (map[string]string, error) {
	if f.hashes == nil {
		return map[string]string{}, nil
	}
	return f.hashes, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool // text -> should fail
	block chan struct{}   // when set, Embed waits until closed
}

func (f *fakeEmbedder) Embed(ctx context.Context, baseURL, apiKey, model, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[text] {
		return nil, errors.New("provider error")
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSettings struct {
	settings types.AISettings
}

func (f *fakeSettings) AISettings(ctx context.Context, owner string) (types.AISettings, error) {
	return f.settings, nil
}

func configuredSettings() types.AISettings {
	return types.AISettings{
		APIKey:         "sk-test",
		BaseURL:        "http://localhost:11434",
		EmbeddingModel: "nomic-embed-text",
		ChatModel:      "llama3",
		Enabled:        true,
	}
}

func entry(id, content string) *types.JournalEntry {
	return &types.JournalEntry{ID: id, Owner: "alice", Content: content, Date: "2025-01-01"}
}

func newTestManager(entries *fakeEntries, vectors *fakeVectors, embedder *fakeEmbedder, settings types.AISettings) *Manager {
	return New(Config{
		Entries:  entries,
		Vectors:  vectors,
		Settings: &fakeSettings{settings: settings},
		Embedder: embedder,
		Workers:  2,
	})
}

func TestBuildAllCounts(t *testing.T) {
	entries := &fakeEntries{entries: []*types.JournalEntry{
		entry("e1", "went to the beach"),
		entry("e2", "hiked a mountain"),
		entry("e3", ""),
		entry("e4", "bad entry"),
	}}
	vectors := &fakeVectors{}
	embedder := &fakeEmbedder{fail: map[string]bool{"bad entry": true}}

	m := newTestManager(entries, vectors, embedder, configuredSettings())

	result, err := m.BuildAll(context.Background(), "alice")
	if err != nil {
		t.Fatalf("BuildAll failed: %v", err)
	}

	if result.Processed != 2 {
		t.Errorf("Processed = %d, want 2", result.Processed)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if len(vectors.stored) != 2 {
		t.Errorf("stored %d records, want 2", len(vectors.stored))
	}
	for _, rec := range vectors.stored {
		if rec.ContentHash == "" {
			t.Error("stored record has empty content hash")
		}
		if rec.Model != "nomic-embed-text" {
			t.Errorf("stored record model = %q", rec.Model)
		}
	}
}

func TestBuildIncrementalSkipsUnchanged(t *testing.T) {
	unchanged := entry("e1", "same as before")
	changed := entry("e2", "edited content")

	entries := &fakeEntries{entries: []*types.JournalEntry{unchanged, changed}}
	vectors := &fakeVectors{hashes: map[string]string{
		"e1": types.ComputeContentHash(unchanged.Content),
		"e2": types.ComputeContentHash("original content"),
	}}
	embedder := &fakeEmbedder{}

	m := newTestManager(entries, vectors, embedder, configuredSettings())

	result, err := m.BuildIncremental(context.Background(), "alice")
	if err != nil {
		t.Fatalf("BuildIncremental failed: %v", err)
	}

	if result.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1", result.Unchanged)
	}
	if result.Processed != 1 {
		t.Errorf("Processed = %d, want 1", result.Processed)
	}
	// Unchanged entries must never reach the provider.
	if got := embedder.callCount(); got != 1 {
		t.Errorf("embedder called %d times, want 1", got)
	}
}

func TestBuildMissingConfiguration(t *testing.T) {
	m := newTestManager(&fakeEntries{}, &fakeVectors{}, &fakeEmbedder{}, types.AISettings{
		APIKey:  "sk-test",
		BaseURL: "http://localhost",
		// no embedding model
	})

	_, err := m.BuildAll(context.Background(), "alice")
	if !errors.Is(err, types.ErrConfigurationMissing) {
		t.Fatalf("err = %v, want ErrConfigurationMissing", err)
	}
}

func TestBuildRejectsConcurrentRun(t *testing.T) {
	block := make(chan struct{})
	entries := &fakeEntries{entries: []*types.JournalEntry{entry("e1", "slow one")}}
	embedder := &fakeEmbedder{block: block}

	m := newTestManager(entries, &fakeVectors{}, embedder, configuredSettings())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := m.BuildAll(context.Background(), "alice"); err != nil {
			t.Errorf("first build failed: %v", err)
		}
	}()

	// Wait until the first build is inside the embedder.
	deadline := time.After(2 * time.Second)
	for embedder.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first build never started embedding")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := m.BuildAll(context.Background(), "alice"); !errors.Is(err, types.ErrBuildInProgress) {
		t.Errorf("concurrent build err = %v, want ErrBuildInProgress", err)
	}

	close(block)
	<-done

	// The lock is released after completion.
	if _, err := m.BuildAll(context.Background(), "alice"); err != nil {
		t.Errorf("build after completion failed: %v", err)
	}
}

func TestBuildReturnsPartialOnCancel(t *testing.T) {
	var many []*types.JournalEntry
	for i := 0; i < 50; i++ {
		many = append(many, entry(string(rune('a'+i%26))+"-entry", "some content"))
	}
	entries := &fakeEntries{entries: many}
	embedder := &fakeEmbedder{}

	m := newTestManager(entries, &fakeVectors{}, embedder, configuredSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := m.BuildAll(ctx, "alice")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result == nil {
		t.Fatal("cancelled build should still return partial counts")
	}
}

func TestGetStats(t *testing.T) {
	current := entry("e1", "indexed and current")
	stale := entry("e2", "edited after indexing")
	missing := entry("e3", "never indexed")

	entries := &fakeEntries{entries: []*types.JournalEntry{current, stale, missing}}
	vectors := &fakeVectors{hashes: map[string]string{
		"e1": types.ComputeContentHash(current.Content),
		"e2": types.ComputeContentHash("before the edit"),
	}}

	m := newTestManager(entries, vectors, &fakeEmbedder{}, configuredSettings())

	stats, err := m.GetStats(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.Indexed != 1 {
		t.Errorf("Indexed = %d, want 1", stats.Indexed)
	}
	if stats.Outdated != 1 {
		t.Errorf("Outdated = %d, want 1", stats.Outdated)
	}
	if stats.Missing != 1 {
		t.Errorf("Missing = %d, want 1", stats.Missing)
	}
}
