package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/provider"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return New(provider.Endpoint{
		Kind:           provider.AnthropicDialect,
		BaseURL:        srv.URL,
		APIKey:         "k",
		MaxTokens:      256,
		RequestTimeout: 5 * time.Second,
		ConnectTimeout: time.Second,
	})
}

func TestChat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, provider.AnthropicAPIVersion, r.Header.Get("anthropic-version"))
		fmt.Fprint(w, `{"content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":3,"output_tokens":1}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	text, usage, err := c.Chat(context.Background(), []message.Message{message.System("be brief"), message.User("hello")}, "claude-x")
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
	assert.Equal(t, message.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4}, usage)
}

func TestChat_RetriesOn429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limited"}`)
			return
		}
		fmt.Fprint(w, `{"content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	start := time.Now()
	text, _, err := c.Chat(context.Background(), []message.Message{message.User("hi")}, "claude-x")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, elapsed, 3*time.Second)
}

// Streaming state machine using the JSON "type" field for termination.
func TestChatStream_TerminatesOnJSONType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		write := func(s string) {
			fmt.Fprint(w, s)
			flusher.Flush()
		}
		write("data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":5}}}\n\n")
		write("data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n")
		write("data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":2}}\n\n")
		write("data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	events, err := c.ChatStream(context.Background(), []message.Message{message.User("hi")}, "claude-x")
	require.NoError(t, err)

	var got []message.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "Hi", got[0].Delta)
	assert.False(t, got[0].Done)
	assert.True(t, got[1].Done)
	require.NotNil(t, got[1].Usage)
	assert.Equal(t, message.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, *got[1].Usage)
}

// Streaming state machine using the SSE "event:" line for termination
// (design note 9(ii): either signal is accepted).
func TestChatStream_TerminatesOnEventLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		write := func(s string) {
			fmt.Fprint(w, s)
			flusher.Flush()
		}
		write("event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":1}}}\n\n")
		write("event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"yo\"}}\n\n")
		write("event: message_stop\ndata: {}\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	events, err := c.ChatStream(context.Background(), []message.Message{message.User("hi")}, "claude-x")
	require.NoError(t, err)

	var got []message.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "yo", got[0].Delta)
	assert.True(t, got[1].Done)
}
