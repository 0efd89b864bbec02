// Package openai is a thin adapter to OpenAI-compatible providers. All calls
// are owner-scoped: base URL and API key come from the owner's settings, not
// from process configuration.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/spetr/journalmind/pkg/types"
)

// Client talks to an OpenAI-compatible HTTP API. It holds no per-owner state.
type Client struct {
	http *http.Client
}

// New creates a provider client. The timeout bounds non-streaming calls;
// streaming requests are bounded only by their context.
func New(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// normalizeBaseURL strips the trailing slash so path joining is uniform.
func normalizeBaseURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/")
}

// modelsResponse is the wire shape of GET /v1/models.
type modelsResponse struct {
	Object string            `json:"object"`
	Data   []types.ModelInfo `json:"data"`
}

// ListModels fetches the models available behind baseURL.
func (c *Client) ListModels(ctx context.Context, baseURL, apiKey string) ([]types.ModelInfo, error) {
	url := normalizeBaseURL(baseURL) + "/v1/models"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, types.NewUpstreamStatusError(resp.StatusCode, body)
	}

	var modelsResp modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, fmt.Errorf("%w: models response: %v", types.ErrDecode, err)
	}

	return modelsResp.Data, nil
}

// Embed computes the embedding vector for text using the given model.
func (c *Client) Embed(ctx context.Context, baseURL, apiKey, model, text string) ([]float32, error) {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = normalizeBaseURL(baseURL) + "/v1"
	cfg.HTTPClient = c.http
	client := goopenai.NewClientWithConfig(cfg)

	resp, err := client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: embedding response has no data", types.ErrDecode)
	}

	return resp.Data[0].Embedding, nil
}

// chatRequest is the wire shape of POST /v1/chat/completions.
type chatRequest struct {
	Model    string              `json:"model"`
	Messages []types.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

// ChatStream opens a streaming chat completion and returns the raw SSE body.
// The caller owns the returned reader and must close it; cancelling ctx
// closes the underlying connection.
func (c *Client) ChatStream(ctx context.Context, baseURL, apiKey, model string, messages []types.ChatMessage) (io.ReadCloser, error) {
	url := normalizeBaseURL(baseURL) + "/v1/chat/completions"

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout here: a chat stream may legitimately outlive any
	// fixed duration. The context bounds it instead.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, types.NewUpstreamStatusError(resp.StatusCode, b)
	}

	return resp.Body, nil
}

// mapOpenAIError translates go-openai errors into the shared taxonomy.
func mapOpenAIError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return types.NewUpstreamStatusError(apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode > 0 {
			return types.NewUpstreamStatusError(reqErr.HTTPStatusCode, []byte(reqErr.Error()))
		}
	}
	return fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
}
