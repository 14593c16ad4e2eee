package openai

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
		Kind:           provider.OpenAIDialect,
		BaseURL:        srv.URL,
		APIKey:         "k",
		MaxTokens:      256,
		RequestTimeout: 5 * time.Second,
		ConnectTimeout: time.Second,
	})
}

// S1: unary OpenAI happy path.
func TestChat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	text, usage, err := c.Chat(context.Background(), []message.Message{message.User("hello")}, "gpt-x")
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
	assert.Equal(t, message.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4}, usage)
}

func TestChat_MissingUsageIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, _, err := c.Chat(context.Background(), []message.Message{message.User("hi")}, "gpt-x")
	require.Error(t, err)
	var upstreamErr *provider.UpstreamError
	assert.ErrorAs(t, err, &upstreamErr)
}

// S6: rate-limit retry — upstream returns 429 twice, then 200; elapsed
// time is at least 1+2=3s and exactly 3 requests were sent.
func TestChat_RetriesOn429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limited"}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	start := time.Now()
	text, _, err := c.Chat(context.Background(), []message.Message{message.User("hi")}, "gpt-x")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, elapsed, 3*time.Second)
}

// S2: streaming OpenAI.
func TestChatStream_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":2,\"total_tokens\":4}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	events, err := c.ChatStream(context.Background(), []message.Message{message.User("hi")}, "gpt-x")
	require.NoError(t, err)

	var got []message.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "He", got[0].Delta)
	assert.False(t, got[0].Done)
	assert.Equal(t, "llo", got[1].Delta)
	assert.False(t, got[1].Done)
	assert.True(t, got[2].Done)
	require.NotNil(t, got[2].Usage)
	assert.Equal(t, message.Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}, *got[2].Usage)
}

func TestChatStream_SuppressesKeepAlives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	events, err := c.ChatStream(context.Background(), []message.Message{message.User("hi")}, "gpt-x")
	require.NoError(t, err)

	var got []message.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.True(t, got[0].Done)
	assert.Equal(t, "", got[0].Delta)
}
