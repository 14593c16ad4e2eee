// Package openai implements the OpenAI-dialect upstream adapter: request
// serialization, a unary call with 429 retry, a streaming call that
// produces unified message.StreamEvents, and raw passthrough for the
// gateway's byte-exact forwarding path.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/provider"
	"github.com/coreseekdev/emx-llm/internal/sse"
)

// Client implements provider.Client for the OpenAI chat-completions API.
type Client struct {
	baseURL   string
	apiKey    string
	maxTokens int
	http      *http.Client
}

// New builds a Client from a resolved endpoint. The endpoint's timeouts
// back the http.Client's own deadlines; a fresh context deadline per call
// still applies on top via ctx.
func New(ep provider.Endpoint) *Client {
	return NewWithHTTPClient(ep, &http.Client{
		Timeout: ep.RequestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: ep.ConnectTimeout}).DialContext,
		},
	})
}

// NewWithHTTPClient builds a Client around a caller-supplied http.Client,
// bypassing New's default transport construction. This is the seam the
// test suite uses to route calls through a recording/replaying transport
// (see internal/testutil.NewRecordedClient) instead of a live dialer.
func NewWithHTTPClient(ep provider.Endpoint, hc *http.Client) *Client {
	return &Client{
		baseURL:   ep.BaseURL,
		apiKey:    ep.APIKey,
		maxTokens: ep.MaxTokens,
		http:      hc,
	}
}

func (c *Client) Kind() provider.Kind { return provider.OpenAIDialect }
func (c *Client) BaseURL() string     { return c.baseURL }
func (c *Client) MaxTokens() int      { return c.maxTokens }

// --- wire types -------------------------------------------------------

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

func toWireMessages(msgs []message.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func (c *Client) endpoint() string { return c.baseURL + "/chat/completions" }

// modelRequest builds the POST body for a unary or streaming call.
func (c *Client) modelRequest(ctx context.Context, messages []message.Message, modelID string, stream bool) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{
		Model:     modelID,
		Messages:  toWireMessages(messages),
		Stream:    stream,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling openai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// Chat performs one unary call, retrying up to provider.MaxRetries times
// on HTTP 429 with exponential backoff.
func (c *Client) Chat(ctx context.Context, messages []message.Message, modelID string) (string, message.Usage, error) {
	var lastErr error

	for attempt := 0; attempt <= provider.MaxRetries; attempt++ {
		req, err := c.modelRequest(ctx, messages, modelID, false)
		if err != nil {
			return "", message.Usage{}, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return "", message.Usage{}, &provider.TransportError{Cause: err}
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &provider.UpstreamError{Status: resp.StatusCode, Body: string(body)}
			if attempt == provider.MaxRetries {
				break
			}
			if !sleepOrCancel(ctx, provider.RetryDelay(attempt+1)) {
				return "", message.Usage{}, ctx.Err()
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return "", message.Usage{}, &provider.UpstreamError{Status: resp.StatusCode, Body: string(body)}
		}

		defer resp.Body.Close()
		var cr chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return "", message.Usage{}, &provider.ParseError{Reason: "decoding openai response", Cause: err}
		}
		if len(cr.Choices) == 0 {
			return "", message.Usage{}, &provider.UpstreamError{Status: resp.StatusCode, Body: "response has no choices"}
		}
		if cr.Usage == nil {
			return "", message.Usage{}, &provider.UpstreamError{Status: resp.StatusCode, Body: "response has no usage"}
		}

		return cr.Choices[0].Message.Content, message.Usage{
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
			TotalTokens:      cr.Usage.TotalTokens,
		}, nil
	}

	return "", message.Usage{}, lastErr
}

// ChatStream performs a streaming call and emits unified StreamEvents.
// Never retried: once any byte has reached the caller, replaying the
// request would duplicate output.
func (c *Client) ChatStream(ctx context.Context, messages []message.Message, modelID string) (<-chan message.StreamEvent, error) {
	req, err := c.modelRequest(ctx, messages, modelID, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &provider.TransportError{Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &provider.UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	ch := make(chan message.StreamEvent)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var buf sse.Buffer
		var pending *message.Usage
		readBuf := make([]byte, 4096)
		finished := false // a done event has already been emitted

		emit := func(ev message.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			n, readErr := resp.Body.Read(readBuf)
			if n > 0 {
				buf.Extend(readBuf[:n])

				for {
					line, ok := buf.NextLine()
					if !ok {
						break
					}
					switch line.Kind {
					case sse.Done:
						if !finished {
							emit(message.StreamEvent{Done: true, Usage: pending})
						}
						return
					case sse.Data:
						var chunk streamChunk
						if err := json.Unmarshal([]byte(line.Payload), &chunk); err != nil {
							log.Printf("openai: skipping malformed stream chunk: %v", err)
							continue
						}
						if chunk.Usage != nil {
							pending = &message.Usage{
								PromptTokens:     chunk.Usage.PromptTokens,
								CompletionTokens: chunk.Usage.CompletionTokens,
								TotalTokens:      chunk.Usage.TotalTokens,
							}
						}
						if len(chunk.Choices) == 0 {
							continue
						}
						delta := chunk.Choices[0].Delta.Content
						done := chunk.Choices[0].FinishReason != nil && *chunk.Choices[0].FinishReason == "stop"
						if finished || (delta == "" && !done) {
							continue // keep-alive, not exposed to consumers
						}
						finished = done
						if !emit(message.StreamEvent{Delta: delta, Done: done, Usage: usageIf(done, pending)}) {
							return
						}
					case sse.Event, sse.Skip:
						// nothing to do
					}
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					log.Printf("openai: stream read error: %v", readErr)
				}
				return
			}
		}
	}()

	return ch, nil
}

func usageIf(done bool, u *message.Usage) *message.Usage {
	if !done {
		return nil
	}
	return u
}

// ChatRaw performs a unary call and returns the upstream response
// unparsed, for byte-exact gateway passthrough.
func (c *Client) ChatRaw(ctx context.Context, messages []message.Message, modelID string) (*provider.RawResponse, error) {
	req, err := c.modelRequest(ctx, messages, modelID, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &provider.TransportError{Cause: err}
	}
	return &provider.RawResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// ChatStreamRaw performs a streaming call and returns the upstream
// response unparsed.
func (c *Client) ChatStreamRaw(ctx context.Context, messages []message.Message, modelID string) (*provider.RawResponse, error) {
	req, err := c.modelRequest(ctx, messages, modelID, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &provider.TransportError{Cause: err}
	}
	return &provider.RawResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
