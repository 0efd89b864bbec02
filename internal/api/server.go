// Package api exposes the HTTP surface: vector builds, stats, model listing,
// AI settings, journal entries and the SSE chat relay.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spetr/journalmind/internal/chat"
	"github.com/spetr/journalmind/pkg/types"
)

// Builder runs vector builds and reports index stats.
type Builder interface {
	BuildAll(ctx context.Context, owner string) (*types.BuildResult, error)
	BuildIncremental(ctx context.Context, owner string) (*types.BuildResult, error)
	GetStats(ctx context.Context, owner string) (*types.IndexStats, error)
}

// Chatter streams a grounded chat completion.
type Chatter interface {
	StreamChat(ctx context.Context, owner, conversationID, message string, sink chat.TokenSink) (string, []string, error)
}

// ModelLister fetches models from an OpenAI-compatible provider.
type ModelLister interface {
	ListModels(ctx context.Context, baseURL, apiKey string) ([]types.ModelInfo, error)
}

// Records is the persistence surface the handlers need.
type Records interface {
	SaveEntry(ctx context.Context, entry *types.JournalEntry) error
	ListEntries(ctx context.Context, owner string) ([]*types.JournalEntry, error)
	AISettings(ctx context.Context, owner string) (types.AISettings, error)
	SaveAISettings(ctx context.Context, owner string, settings types.AISettings) error
	CreateConversation(ctx context.Context, owner, title string) (*types.Conversation, error)
	GetConversation(ctx context.Context, owner, id string) (*types.Conversation, error)
	SaveMessage(ctx context.Context, msg *types.Message) error
}

// Server wires the handlers together.
type Server struct {
	builder      Builder
	chatter      Chatter
	models       ModelLister
	records      Records
	buildTimeout time.Duration
}

// Config contains server dependencies.
type Config struct {
	Builder      Builder
	Chatter      Chatter
	Models       ModelLister
	Records      Records
	BuildTimeout time.Duration
}

// New creates a server.
func New(cfg Config) *Server {
	timeout := cfg.BuildTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &Server{
		builder:      cfg.Builder,
		chatter:      cfg.Chatter,
		models:       cfg.Models,
		records:      cfg.Records,
		buildTimeout: timeout,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ai/vectors/build", s.requireOwner(s.handleBuildAll))
	mux.HandleFunc("POST /api/ai/vectors/build-incremental", s.requireOwner(s.handleBuildIncremental))
	mux.HandleFunc("GET /api/ai/vectors/stats", s.requireOwner(s.handleStats))
	mux.HandleFunc("POST /api/ai/models", s.requireOwner(s.handleModels))
	mux.HandleFunc("POST /api/ai/chat", s.requireOwner(s.handleChat))
	mux.HandleFunc("GET /api/ai/settings", s.requireOwner(s.handleGetSettings))
	mux.HandleFunc("PUT /api/ai/settings", s.requireOwner(s.handlePutSettings))
	mux.HandleFunc("POST /api/diaries", s.requireOwner(s.handleCreateDiary))
	mux.HandleFunc("GET /api/diaries", s.requireOwner(s.handleListDiaries))
	return mux
}

// requireOwner resolves the authenticated owner. Authentication itself is
// external; the upstream proxy injects the owner identity.
func (s *Server) requireOwner(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-Owner-ID")
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "missing owner identity")
			return
		}
		next(w, r, owner)
	}
}

func (s *Server) handleBuildAll(w http.ResponseWriter, r *http.Request, owner string) {
	ctx, cancel := context.WithTimeout(r.Context(), s.buildTimeout)
	defer cancel()

	result, err := s.builder.BuildAll(ctx, owner)
	s.writeBuildResult(w, result, err)
}

func (s *Server) handleBuildIncremental(w http.ResponseWriter, r *http.Request, owner string) {
	ctx, cancel := context.WithTimeout(r.Context(), s.buildTimeout)
	defer cancel()

	result, err := s.builder.BuildIncremental(ctx, owner)
	s.writeBuildResult(w, result, err)
}

func (s *Server) writeBuildResult(w http.ResponseWriter, result *types.BuildResult, err error) {
	// A deadline mid-build still yields the partial counts; a deadline
	// before dispatch has no counts to report and is an error like any other.
	if err != nil && (result == nil || !errors.Is(err, context.DeadlineExceeded)) {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, owner string) {
	stats, err := s.builder.GetStats(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, owner string) {
	var body struct {
		APIKey  string `json:"api_key"`
		BaseURL string `json:"base_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.APIKey == "" || body.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "api_key and base_url are required")
		return
	}

	models, err := s.models.ListModels(r.Context(), body.BaseURL, body.APIKey)
	if err != nil {
		slog.Error("failed to fetch models", "owner", owner, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request, owner string) {
	settings, err := s.records.AISettings(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request, owner string) {
	var settings types.AISettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if settings.Enabled && (!settings.ChatComplete() || settings.EmbeddingModel == "") {
		writeError(w, http.StatusBadRequest, "all AI settings must be configured before enabling AI features")
		return
	}
	if err := s.records.SaveAISettings(r.Context(), owner, settings); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleCreateDiary(w http.ResponseWriter, r *http.Request, owner string) {
	var entry types.JournalEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if entry.Content == "" || entry.Date == "" {
		writeError(w, http.StatusBadRequest, "content and date are required")
		return
	}
	entry.Owner = owner
	if err := s.records.SaveEntry(r.Context(), &entry); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListDiaries(w http.ResponseWriter, r *http.Request, owner string) {
	entries, err := s.records.ListEntries(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []*types.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps taxonomy errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var statusErr *types.UpstreamStatusError
	switch {
	case errors.Is(err, types.ErrBuildInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrConfigurationMissing), errors.Is(err, types.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &statusErr), errors.Is(err, types.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusBadRequest, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
