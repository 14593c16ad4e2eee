// Package testutil provides in-process upstream stub servers and a
// recorded-interaction fixture helper for the adapter test suite,
// fulfilling spec §2's "Test scaffolding" component.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
)

// OpenAIUnaryStub starts an httptest.Server that always returns the given
// JSON body with the given status, mirroring a non-streaming OpenAI
// chat-completions response.
func OpenAIUnaryStub(body string, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

// OpenAIStreamStub starts an httptest.Server that emits the given raw SSE
// lines (already including the "data: " prefix and any terminating
// blank line) one write-plus-flush at a time, mirroring a streaming
// OpenAI chat-completions response.
func OpenAIStreamStub(lines []string) *httptest.Server {
	return sseStub(lines)
}

// AnthropicUnaryStub starts an httptest.Server that always returns the
// given JSON body, mirroring a non-streaming Anthropic messages response.
func AnthropicUnaryStub(body string, status int) *httptest.Server {
	return OpenAIUnaryStub(body, status) // identical transport-level shape
}

// AnthropicStreamStub starts an httptest.Server that emits the given raw
// SSE lines, mirroring a streaming Anthropic messages response (named
// `event:`/`data:` pairs).
func AnthropicStreamStub(lines []string) *httptest.Server {
	return sseStub(lines)
}

func sseStub(lines []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprint(w, line)
			if !strings.HasSuffix(line, "\n") {
				fmt.Fprint(w, "\n")
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

// FlakyThenOKStub returns a stub that responds with `failStatus` for the
// first `failCount` requests, then `okBody`/200 afterward — used to
// exercise the adapters' 429 retry path (spec §8 S6) with a real
// in-process server instead of a mock transport.
func FlakyThenOKStub(failStatus int, failCount int, okBody string) *httptest.Server {
	calls := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= failCount {
			w.WriteHeader(failStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, okBody)
	}))
}
