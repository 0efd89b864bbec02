// Package chat orchestrates retrieval-grounded streaming chat completions.
package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spetr/journalmind/pkg/types"
)

const (
	// retrievalLimit is how many entries ground each answer.
	retrievalLimit = 5
	// historyLimit is how many prior turns are replayed to the model.
	historyLimit = 20
)

// Retriever finds journal entries relevant to the user message.
type Retriever interface {
	QuerySimilar(ctx context.Context, owner, queryText string, limit int) ([]types.DiarySearchResult, error)
}

// MessageStore reads conversation history. Persisting the new exchange is the
// caller's responsibility; the orchestrator only reads.
type MessageStore interface {
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error)
}

// SettingsSource reads the owner's typed AI configuration.
type SettingsSource interface {
	AISettings(ctx context.Context, owner string) (types.AISettings, error)
}

// Streamer opens the provider's streaming completion.
type Streamer interface {
	ChatStream(ctx context.Context, baseURL, apiKey, model string, messages []types.ChatMessage) (io.ReadCloser, error)
}

// TokenSink receives chat tokens in arrival order. Push must not buffer
// beyond one token; Close signals that no more tokens will arrive.
type TokenSink interface {
	Push(token string) error
	Close() error
}

// Service is the streaming chat orchestrator.
type Service struct {
	retriever Retriever
	messages  MessageStore
	settings  SettingsSource
	streamer  Streamer
}

// Config contains service dependencies.
type Config struct {
	Retriever Retriever
	Messages  MessageStore
	Settings  SettingsSource
	Streamer  Streamer
}

// New creates a chat service.
func New(cfg Config) *Service {
	return &Service{
		retriever: cfg.Retriever,
		messages:  cfg.Messages,
		settings:  cfg.Settings,
		streamer:  cfg.Streamer,
	}
}

// streamChunk is one decoded SSE payload from the provider.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamChat answers message inside conversationID for owner, relaying
// tokens to sink as they arrive. It returns the assembled answer and the IDs
// of the entries used for grounding. A mid-stream failure returns the partial
// text together with ErrStreamInterrupted so the caller can decide whether to
// persist it.
func (s *Service) StreamChat(ctx context.Context, owner, conversationID, message string, sink TokenSink) (string, []string, error) {
	settings, err := s.settings.AISettings(ctx, owner)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.ChatComplete() {
		return "", nil, types.ErrConfigurationMissing
	}

	// Retrieval is best-effort: a failed lookup degrades to a context-free
	// answer instead of aborting the chat.
	var diaries []types.DiarySearchResult
	var referencedIDs []string
	diaries, err = s.retriever.QuerySimilar(ctx, owner, message, retrievalLimit)
	if err != nil {
		slog.Warn("failed to query similar entries", "owner", owner, "error", err)
		diaries = nil
	}
	for _, d := range diaries {
		referencedIDs = append(referencedIDs, d.ID)
	}

	messages := []types.ChatMessage{
		{Role: "system", Content: buildSystemPrompt(diaries)},
	}

	history, err := s.messages.RecentMessages(ctx, conversationID, historyLimit)
	if err != nil {
		slog.Warn("failed to load conversation history", "conversation", conversationID, "error", err)
	} else {
		for _, msg := range history {
			messages = append(messages, types.ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	messages = append(messages, types.ChatMessage{Role: "user", Content: message})

	body, err := s.streamer.ChatStream(ctx, settings.BaseURL, settings.APIKey, settings.ChatModel, messages)
	if err != nil {
		return "", nil, err
	}
	defer body.Close()

	full, err := s.relayStream(ctx, body, sink)
	if err != nil {
		return full, referencedIDs, err
	}
	return full, referencedIDs, nil
}

// relayStream consumes the provider SSE stream, forwarding each content
// delta to sink in arrival order. Malformed chunks are skipped and counted.
func (s *Service) relayStream(ctx context.Context, body io.Reader, sink TokenSink) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder
	malformed := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			malformed++
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		full.WriteString(content)
		if err := sink.Push(content); err != nil {
			return full.String(), fmt.Errorf("%w: sink: %v", types.ErrStreamInterrupted, err)
		}
	}

	if malformed > 0 {
		slog.Warn("skipped malformed stream chunks", "count", malformed)
	}

	// Cancellation surfaces as an aborted body read, so the context must be
	// consulted before classifying a scanner error as an interruption.
	if err := ctx.Err(); err != nil {
		return full.String(), err
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("%w: %v", types.ErrStreamInterrupted, err)
	}

	if err := sink.Close(); err != nil {
		return full.String(), fmt.Errorf("%w: sink close: %v", types.ErrStreamInterrupted, err)
	}
	return full.String(), nil
}

// buildSystemPrompt renders the persona preamble plus one block per
// retrieved entry, or an explicit notice when nothing was found.
func buildSystemPrompt(diaries []types.DiarySearchResult) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful AI assistant for a personal journal application. ")
	sb.WriteString("You help users reflect on their diary entries, summarize their experiences, ")
	sb.WriteString("and provide insights based on their personal journal.\n\n")

	if len(diaries) > 0 {
		sb.WriteString("Here are relevant diary entries from the user:\n\n")
		for i, diary := range diaries {
			fmt.Fprintf(&sb, "--- Diary Entry %d (Date: %s) ---\n", i+1, diary.Date)
			if diary.Mood != "" {
				fmt.Fprintf(&sb, "Mood: %s\n", diary.Mood)
			}
			if diary.Weather != "" {
				fmt.Fprintf(&sb, "Weather: %s\n", diary.Weather)
			}
			fmt.Fprintf(&sb, "Content:\n%s\n\n", diary.Content)
		}
		sb.WriteString("Use these diary entries to provide personalized and relevant responses. ")
		sb.WriteString("When referencing specific entries, mention the date.\n")
	} else {
		sb.WriteString("No relevant diary entries were found for this query. ")
		sb.WriteString("You can still help the user with general questions about journaling.\n")
	}

	return sb.String()
}
