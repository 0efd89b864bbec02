// Package types contains shared data types used across the journalmind project.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// JournalEntry represents a single journal entry owned by a user.
type JournalEntry struct {
	ID      string    `json:"id"`
	Owner   string    `json:"owner"`
	Content string    `json:"content"`
	Date    string    `json:"date"` // YYYY-MM-DD
	Mood    string    `json:"mood,omitempty"`
	Weather string    `json:"weather,omitempty"`
	Updated time.Time `json:"updated"`
}

// ComputeContentHash calculates the SHA256 hash of embedded text.
// The hash is the single source of truth for embedding staleness;
// timestamps are never compared.
func ComputeContentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// EmbeddingRecord is the stored embedding for one (owner, entry, model) triple.
// At most one record exists per triple; the vector dimension is constant for
// all records sharing a model.
type EmbeddingRecord struct {
	Owner       string
	EntryID     string
	Vector      []float32
	ContentHash string
	Model       string
	Updated     time.Time
}

// BuildResult contains counters from a vector build run.
type BuildResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Unchanged int `json:"unchanged,omitempty"`
}

// IndexStats describes the state of an owner's embedding index.
// Indexed counts records whose stored hash matches the current content;
// Outdated counts records whose hash no longer matches.
type IndexStats struct {
	Total    int `json:"total"`
	Indexed  int `json:"indexed"`
	Missing  int `json:"missing"`
	Outdated int `json:"outdated"`
}

// Conversation groups chat messages for an owner.
type Conversation struct {
	ID      string    `json:"id"`
	Owner   string    `json:"owner"`
	Title   string    `json:"title"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Message is a single chat turn. Creation time defines history order.
type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation"`
	Role              string    `json:"role"` // "user" or "assistant"
	Content           string    `json:"content"`
	ReferencedDiaries []string  `json:"referenced_diaries,omitempty"`
	Owner             string    `json:"owner"`
	Created           time.Time `json:"created"`
}

// ChatMessage is a role/content pair on the provider wire.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DiarySearchResult is a ranked retrieval hit joined back to its entry.
type DiarySearchResult struct {
	ID      string  `json:"id"`
	Date    string  `json:"date"`
	Mood    string  `json:"mood,omitempty"`
	Weather string  `json:"weather,omitempty"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// ModelInfo describes a model reported by an OpenAI-compatible provider.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// AISettings is the typed view of an owner's AI configuration.
type AISettings struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	ChatModel      string `json:"chat_model"`
	EmbeddingModel string `json:"embedding_model"`
	Enabled        bool   `json:"enabled"`
}

// ChatComplete reports whether the settings required for chat are present.
func (s AISettings) ChatComplete() bool {
	return s.APIKey != "" && s.BaseURL != "" && s.ChatModel != ""
}

// EmbeddingComplete reports whether the settings required for indexing are present.
func (s AISettings) EmbeddingComplete() bool {
	return s.APIKey != "" && s.BaseURL != "" && s.EmbeddingModel != ""
}
