package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/spetr/journalmind/pkg/types"
)

// sseSink relays chat tokens to the HTTP response as server-sent events.
// Each token is flushed immediately so the client sees tokens as they
// arrive, not at response end.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &sseSink{w: w, flusher: flusher}, nil
}

func (s *sseSink) Push(token string) error {
	payload, err := json.Marshal(map[string]string{"content": token})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Close() error {
	return nil
}

// writeEvent writes a raw SSE event outside the token path.
func (s *sseSink) writeEvent(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, owner string) {
	var body struct {
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx := r.Context()

	// Configuration problems must surface as a JSON error before the
	// response is committed to the SSE content type.
	settings, err := s.records.AISettings(ctx, owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !settings.Enabled || !settings.ChatComplete() {
		writeServiceError(w, types.ErrConfigurationMissing)
		return
	}

	conversation, err := s.resolveConversation(r, owner, body.ConversationID, body.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Conversation-ID", conversation.ID)
	w.WriteHeader(http.StatusOK)

	sink, err := newSSESink(w)
	if err != nil {
		slog.Error("streaming unsupported", "error", err)
		return
	}

	answer, referenced, streamErr := s.chatter.StreamChat(ctx, owner, conversation.ID, body.Content, sink)

	// The exchange is persisted only after the stream so the history the
	// orchestrator replays never contains the in-flight user turn.
	// Persistence runs on the background context so a dropped client cannot
	// lose the answer it already received.
	userMsg := &types.Message{
		ConversationID: conversation.ID,
		Owner:          owner,
		Role:           "user",
		Content:        body.Content,
	}
	if err := s.records.SaveMessage(context.WithoutCancel(ctx), userMsg); err != nil {
		slog.Error("failed to persist user message",
			"conversation", conversation.ID, "error", err)
	}

	if streamErr != nil {
		slog.Warn("chat stream ended with error",
			"owner", owner,
			"conversation", conversation.ID,
			"partial_len", len(answer),
			"error", streamErr,
		)
		if answer == "" {
			sink.writeEvent(map[string]string{"error": streamErr.Error()})
			return
		}
		// A partial answer is still worth keeping; the client already saw
		// the tokens.
		if !errors.Is(streamErr, types.ErrStreamInterrupted) && ctx.Err() == nil {
			sink.writeEvent(map[string]string{"error": streamErr.Error()})
		}
	}

	if answer != "" {
		assistantMsg := &types.Message{
			ConversationID:    conversation.ID,
			Owner:             owner,
			Role:              "assistant",
			Content:           answer,
			ReferencedDiaries: referenced,
		}
		if err := s.records.SaveMessage(context.WithoutCancel(ctx), assistantMsg); err != nil {
			slog.Error("failed to persist assistant message",
				"conversation", conversation.ID, "error", err)
		}
	}

	if streamErr == nil {
		if referenced == nil {
			referenced = []string{}
		}
		sink.writeEvent(map[string]any{
			"done":               true,
			"conversation_id":    conversation.ID,
			"referenced_diaries": referenced,
		})
	}
}

// resolveConversation loads the requested conversation or starts a new one
// titled after the opening message.
func (s *Server) resolveConversation(r *http.Request, owner, conversationID, content string) (*types.Conversation, error) {
	if conversationID == "" {
		return s.records.CreateConversation(r.Context(), owner, truncateTitle(content))
	}
	return s.records.GetConversation(r.Context(), owner, conversationID)
}

// truncateTitle derives a conversation title from the opening message,
// cut at a rune boundary.
func truncateTitle(s string) string {
	const max = 60
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
