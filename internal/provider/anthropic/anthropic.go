// Package anthropic implements the Anthropic-dialect upstream adapter:
// system-message extraction, a unary call with 429 retry, a streaming
// state machine over Anthropic's named SSE events, and raw passthrough.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/provider"
	"github.com/coreseekdev/emx-llm/internal/sse"
)

// Client implements provider.Client for Anthropic's Messages API.
type Client struct {
	baseURL   string
	apiKey    string
	maxTokens int
	http      *http.Client
}

// New builds a Client from a resolved endpoint.
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

func (c *Client) Kind() provider.Kind { return provider.AnthropicDialect }
func (c *Client) BaseURL() string     { return c.baseURL }
func (c *Client) MaxTokens() int      { return c.maxTokens }

// --- wire types -------------------------------------------------------

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Stream    bool          `json:"stream,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Usage   wireUsage      `json:"usage"`
}

// streamEvent is a superset wrapper: every named Anthropic SSE event
// decodes into this struct and only the fields relevant to its Type are
// populated; the rest stay at their zero value.
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage wireUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type string `json:"type,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Usage *wireUsage `json:"usage,omitempty"`
}

// splitSystem partitions messages the way spec §4.6 requires: the content
// of every System-role message, joined with newlines in order, becomes
// the top-level "system" field; every non-System message becomes part of
// the messages array.
func splitSystem(msgs []message.Message) (string, []wireMessage) {
	var systemParts []string
	var rest []wireMessage
	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return strings.Join(systemParts, "\n"), rest
}

func (c *Client) endpoint() string { return c.baseURL + "/v1/messages" }

func (c *Client) newRequest(ctx context.Context, messages []message.Message, modelID string, stream bool) (*http.Request, error) {
	system, rest := splitSystem(messages)
	maxTokens := c.maxTokens
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	body, err := json.Marshal(messagesRequest{
		Model:     modelID,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  rest,
		Stream:    stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", provider.AnthropicAPIVersion)
	return req, nil
}

// Chat performs one unary call, retrying up to provider.MaxRetries times
// on HTTP 429 with exponential backoff — identical policy to the
// OpenAI-dialect adapter.
func (c *Client) Chat(ctx context.Context, messages []message.Message, modelID string) (string, message.Usage, error) {
	var lastErr error

	for attempt := 0; attempt <= provider.MaxRetries; attempt++ {
		req, err := c.newRequest(ctx, messages, modelID, false)
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
		var mr messagesResponse
		if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
			return "", message.Usage{}, &provider.ParseError{Reason: "decoding anthropic response", Cause: err}
		}
		if len(mr.Content) == 0 {
			return "", message.Usage{}, &provider.UpstreamError{Status: resp.StatusCode, Body: "response has no content"}
		}

		var text string
		for _, block := range mr.Content {
			if block.Type == "text" {
				text = block.Text
				break
			}
		}

		return text, message.Usage{
			PromptTokens:     mr.Usage.InputTokens,
			CompletionTokens: mr.Usage.OutputTokens,
			TotalTokens:      mr.Usage.InputTokens + mr.Usage.OutputTokens,
		}, nil
	}

	return "", message.Usage{}, lastErr
}

// ChatStream runs Anthropic's streaming state machine (spec §4.6) and
// emits unified StreamEvents. Terminal detection accepts either the SSE
// "event: message_stop" line or a JSON "type":"message_stop" payload,
// per design note 9(ii).
func (c *Client) ChatStream(ctx context.Context, messages []message.Message, modelID string) (<-chan message.StreamEvent, error) {
	req, err := c.newRequest(ctx, messages, modelID, true)
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
		sawStop := false

		emit := func(ev message.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		stop := func() bool {
			sawStop = true
			return emit(message.StreamEvent{Done: true, Usage: pending})
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
					case sse.Event:
						if line.Payload == "message_stop" {
							if !stop() {
								return
							}
							return
						}
					case sse.Data:
						var ev streamEvent
						if err := json.Unmarshal([]byte(line.Payload), &ev); err != nil {
							log.Printf("anthropic: skipping malformed stream event: %v", err)
							continue
						}
						switch ev.Type {
						case "message_start":
							if ev.Message != nil {
								pending = &message.Usage{
									PromptTokens: ev.Message.Usage.InputTokens,
								}
							}
						case "content_block_delta":
							if ev.Delta == nil || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
								continue
							}
							if !emit(message.StreamEvent{Delta: ev.Delta.Text}) {
								return
							}
						case "message_delta":
							if ev.Usage != nil {
								if pending == nil {
									pending = &message.Usage{}
								}
								pending.CompletionTokens = ev.Usage.OutputTokens
								pending.TotalTokens = pending.PromptTokens + pending.CompletionTokens
							}
						case "message_stop":
							if !stop() {
								return
							}
							return
						case "ping", "content_block_start", "content_block_stop":
							// nothing to do
						}
					case sse.Done, sse.Skip:
						// nothing to do
					}
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					log.Printf("anthropic: stream read error: %v", readErr)
				}
				if !sawStop {
					log.Printf("anthropic: stream ended without message_stop")
				}
				return
			}
		}
	}()

	return ch, nil
}

// ChatRaw performs a unary call and returns the upstream response
// unparsed, for byte-exact gateway passthrough.
func (c *Client) ChatRaw(ctx context.Context, messages []message.Message, modelID string) (*provider.RawResponse, error) {
	req, err := c.newRequest(ctx, messages, modelID, false)
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
	req, err := c.newRequest(ctx, messages, modelID, true)
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
