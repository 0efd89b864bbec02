package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spetr/journalmind/pkg/types"
)

type fakeRetriever struct {
	results []types.DiarySearchResult
	err     error
}

func (f *fakeRetriever) QuerySimilar(ctx context.Context, owner, queryText string, limit int) ([]types.DiarySearchResult, error) {
	return f.results, f.err
}

type fakeMessages struct {
	history []types.Message
}

func (f *fakeMessages) RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	return f.history, nil
}

type fakeSettings struct {
	settings types.AISettings
}

func (f *fakeSettings) AISettings(ctx context.Context, owner string) (types.AISettings, error) {
	return f.settings, nil
}

// fakeStreamer serves a scripted SSE body and records the request.
type fakeStreamer struct {
	body     string
	err      error
	calls    int
	messages []types.ChatMessage
}

func (f *fakeStreamer) ChatStream(ctx context.Context, baseURL, apiKey, model string, messages []types.ChatMessage) (io.ReadCloser, error) {
	f.calls++
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

// collectSink records pushed tokens; pushErr makes Push fail after a number
// of successful pushes.
type collectSink struct {
	tokens    []string
	closed    bool
	failAfter int
	pushErr   error
}

func (c *collectSink) Push(token string) error {
	if c.pushErr != nil && len(c.tokens) >= c.failAfter {
		return c.pushErr
	}
	c.tokens = append(c.tokens, token)
	return nil
}

func (c *collectSink) Close() error {
	c.closed = true
	return nil
}

func chatSettings() types.AISettings {
	return types.AISettings{
		APIKey:    "sk-test",
		BaseURL:   "http://localhost:11434",
		ChatModel: "llama3",
		Enabled:   true,
	}
}

func sse(chunks ...string) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString("data: " + c + "\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return sb.String()
}

func newTestService(retriever *fakeRetriever, messages *fakeMessages, streamer *fakeStreamer, settings types.AISettings) *Service {
	return New(Config{
		Retriever: retriever,
		Messages:  messages,
		Settings:  &fakeSettings{settings: settings},
		Streamer:  streamer,
	})
}

func TestStreamChatRelaysTokens(t *testing.T) {
	streamer := &fakeStreamer{body: sse(
		`{"choices":[{"delta":{"content":"H"}}]}`,
		`{"choices":[{"delta":{"content":"i"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)}
	retriever := &fakeRetriever{results: []types.DiarySearchResult{
		{ID: "e1", Date: "2025-03-01", Content: "a day at the beach"},
	}}
	sink := &collectSink{}

	s := newTestService(retriever, &fakeMessages{}, streamer, chatSettings())

	full, referenced, err := s.StreamChat(context.Background(), "alice", "conv1", "how was the beach?", sink)
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	if full != "Hi" {
		t.Errorf("full text = %q, want %q", full, "Hi")
	}
	if len(sink.tokens) != 2 {
		t.Errorf("pushed %d tokens, want 2", len(sink.tokens))
	}
	if !sink.closed {
		t.Error("sink was not closed after stream end")
	}
	if len(referenced) != 1 || referenced[0] != "e1" {
		t.Errorf("referenced = %v, want [e1]", referenced)
	}
}

func TestStreamChatPromptLayout(t *testing.T) {
	streamer := &fakeStreamer{body: sse(`{"choices":[{"delta":{"content":"ok"}}]}`)}
	retriever := &fakeRetriever{results: []types.DiarySearchResult{
		{ID: "e1", Date: "2025-03-01", Mood: "happy", Content: "a day at the beach"},
	}}
	messages := &fakeMessages{history: []types.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}}

	s := newTestService(retriever, messages, streamer, chatSettings())

	if _, _, err := s.StreamChat(context.Background(), "alice", "conv1", "new question", &collectSink{}); err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	// system, two history turns, user message
	if len(streamer.messages) != 4 {
		t.Fatalf("sent %d messages, want 4", len(streamer.messages))
	}
	if streamer.messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", streamer.messages[0].Role)
	}
	if !strings.Contains(streamer.messages[0].Content, "a day at the beach") {
		t.Error("system prompt does not contain the retrieved entry")
	}
	if !strings.Contains(streamer.messages[0].Content, "Mood: happy") {
		t.Error("system prompt does not contain the entry mood")
	}
	if streamer.messages[1].Content != "earlier question" || streamer.messages[2].Content != "earlier answer" {
		t.Error("history turns not replayed in order")
	}
	last := streamer.messages[len(streamer.messages)-1]
	if last.Role != "user" || last.Content != "new question" {
		t.Errorf("last message = %+v, want the new user turn", last)
	}
}

func TestStreamChatMissingConfiguration(t *testing.T) {
	streamer := &fakeStreamer{}
	retriever := &fakeRetriever{}

	s := newTestService(retriever, &fakeMessages{}, streamer, types.AISettings{
		APIKey:  "sk-test",
		BaseURL: "http://localhost",
		// no chat model
	})

	_, _, err := s.StreamChat(context.Background(), "alice", "conv1", "hello", &collectSink{})
	if !errors.Is(err, types.ErrConfigurationMissing) {
		t.Fatalf("err = %v, want ErrConfigurationMissing", err)
	}
	if streamer.calls != 0 {
		t.Errorf("streamer called %d times, want 0", streamer.calls)
	}
}

func TestStreamChatRetrievalFailureDegrades(t *testing.T) {
	streamer := &fakeStreamer{body: sse(`{"choices":[{"delta":{"content":"ok"}}]}`)}
	retriever := &fakeRetriever{err: errors.New("index offline")}

	s := newTestService(retriever, &fakeMessages{}, streamer, chatSettings())

	full, referenced, err := s.StreamChat(context.Background(), "alice", "conv1", "hello", &collectSink{})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	if full != "ok" {
		t.Errorf("full text = %q, want %q", full, "ok")
	}
	if len(referenced) != 0 {
		t.Errorf("referenced = %v, want empty", referenced)
	}
	if !strings.Contains(streamer.messages[0].Content, "No relevant diary entries") {
		t.Error("system prompt should fall back to the no-entries notice")
	}
}

func TestStreamChatSkipsMalformedChunks(t *testing.T) {
	streamer := &fakeStreamer{body: sse(
		`{"choices":[{"delta":{"content":"a"}}]}`,
		`{not json`,
		`{"choices":[{"delta":{"content":"b"}}]}`,
	)}

	s := newTestService(&fakeRetriever{}, &fakeMessages{}, streamer, chatSettings())

	full, _, err := s.StreamChat(context.Background(), "alice", "conv1", "hello", &collectSink{})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	if full != "ab" {
		t.Errorf("full text = %q, want %q", full, "ab")
	}
}

func TestStreamChatSinkFailure(t *testing.T) {
	streamer := &fakeStreamer{body: sse(
		`{"choices":[{"delta":{"content":"a"}}]}`,
		`{"choices":[{"delta":{"content":"b"}}]}`,
	)}
	sink := &collectSink{failAfter: 1, pushErr: errors.New("client gone")}

	s := newTestService(&fakeRetriever{}, &fakeMessages{}, streamer, chatSettings())

	full, _, err := s.StreamChat(context.Background(), "alice", "conv1", "hello", sink)
	if !errors.Is(err, types.ErrStreamInterrupted) {
		t.Fatalf("err = %v, want ErrStreamInterrupted", err)
	}
	if full != "ab" {
		t.Errorf("partial text = %q, want %q", full, "ab")
	}
	if sink.closed {
		t.Error("sink should not be closed after interruption")
	}
}

// errReader yields some data and then a read error, like a connection that
// drops mid-stream.
type errReader struct {
	data string
	read bool
}

func (e *errReader) Read(p []byte) (int, error) {
	if !e.read {
		e.read = true
		return copy(p, e.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestStreamChatMidStreamReadError(t *testing.T) {
	body := &errReader{data: "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"}
	s := New(Config{
		Retriever: &fakeRetriever{},
		Messages:  &fakeMessages{},
		Settings:  &fakeSettings{settings: chatSettings()},
		Streamer:  &readerStreamer{body: body},
	})

	full, _, err := s.StreamChat(context.Background(), "alice", "conv1", "hello", &collectSink{})
	if !errors.Is(err, types.ErrStreamInterrupted) {
		t.Fatalf("err = %v, want ErrStreamInterrupted", err)
	}
	if full != "partial" {
		t.Errorf("partial text = %q, want %q", full, "partial")
	}
}

type readerStreamer struct {
	body io.Reader
}

func (r *readerStreamer) ChatStream(ctx context.Context, baseURL, apiKey, model string, messages []types.ChatMessage) (io.ReadCloser, error) {
	return io.NopCloser(r.body), nil
}

func TestStreamChatCancelledContext(t *testing.T) {
	streamer := &fakeStreamer{body: sse(
		`{"choices":[{"delta":{"content":"a"}}]}`,
		`{"choices":[{"delta":{"content":"b"}}]}`,
	)}

	s := newTestService(&fakeRetriever{}, &fakeMessages{}, streamer, chatSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	full, _, err := s.StreamChat(ctx, "alice", "conv1", "hello", &collectSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if full != "" {
		t.Errorf("full = %q, want empty before first token", full)
	}
}

// cancellingReader yields one token, then cancels the context and fails the
// next read, the way an aborted response body surfaces a cancellation.
type cancellingReader struct {
	cancel context.CancelFunc
	sent   bool
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n"), nil
	}
	r.cancel()
	return 0, errors.New("context canceled")
}

func TestStreamChatCancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{
		Retriever: &fakeRetriever{},
		Messages:  &fakeMessages{},
		Settings:  &fakeSettings{settings: chatSettings()},
		Streamer:  &readerStreamer{body: &cancellingReader{cancel: cancel}},
	})

	sink := &collectSink{}
	full, _, err := s.StreamChat(ctx, "alice", "conv1", "hello", sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if full != "first" {
		t.Errorf("partial text = %q, want %q", full, "first")
	}
	if len(sink.tokens) != 1 {
		t.Errorf("pushed %d tokens after cancellation, want 1", len(sink.tokens))
	}
}

func TestBuildSystemPromptNoEntries(t *testing.T) {
	prompt := buildSystemPrompt(nil)
	if !strings.Contains(prompt, "No relevant diary entries") {
		t.Error("empty retrieval should produce the no-entries notice")
	}
}
