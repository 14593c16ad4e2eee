package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coreseekdev/emx-llm/internal/client"
	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/provider"
	"github.com/coreseekdev/emx-llm/internal/resolver"
)

// wireMessage is the shape of one message in an inbound request body,
// common to both surfaces.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequestBody is the inbound shape handlers decode just enough of to
// extract `model` and `messages`, per spec §4.8. Anthropic's optional
// top-level `system` field is folded into a leading System message.
type chatRequestBody struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	System   string        `json:"system"`
}

func (b chatRequestBody) toMessages() []message.Message {
	out := make([]message.Message, 0, len(b.Messages)+1)
	if b.System != "" {
		out = append(out, message.System(b.System))
	}
	for _, m := range b.Messages {
		out = append(out, message.Message{Role: message.Role(m.Role), Content: m.Content})
	}
	return out
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request, surface provider.Kind) (chatRequestBody, bool) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return body, false
		}
		errorWriterFor(surface)(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return body, false
	}
	if body.Model == "" {
		errorWriterFor(surface)(w, http.StatusBadRequest, "invalid_request_error", "missing `model`")
		return body, false
	}
	if len(body.Messages) == 0 {
		errorWriterFor(surface)(w, http.StatusBadRequest, "invalid_request_error", "missing `messages`")
		return body, false
	}
	return body, true
}

func errorWriterFor(surface provider.Kind) func(http.ResponseWriter, int, string, string) {
	if surface == provider.AnthropicDialect {
		return func(w http.ResponseWriter, status int, _ string, message string) {
			writeAnthropicError(w, status, message)
		}
	}
	return writeOpenAIError
}

// handleChat is shared by both POST endpoints: decode, resolve for the
// given surface, then dispatch to raw passthrough unary or streaming.
func (s *Server) handleChat(surface provider.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeChatRequest(w, r, surface)
		if !ok {
			return
		}

		rm, err := ResolveForSurface(s.tree, body.Model, surface)
		if err != nil {
			writeResolveError(w, surface, err)
			return
		}

		c, err := client.New(rm)
		if err != nil {
			writeUpstreamError(w, surface, err)
			return
		}

		messages := body.toMessages()

		if body.Stream {
			s.forwardStream(w, r, surface, c, messages, rm.UpstreamModelID)
			return
		}
		s.forwardUnary(w, r, surface, c, messages, rm.UpstreamModelID)
	}
}

// forwardUnary performs the raw passthrough unary call and copies the
// upstream response verbatim, per spec §4.8/§9 Open Question (iii).
func (s *Server) forwardUnary(w http.ResponseWriter, r *http.Request, surface provider.Kind, c provider.Client, messages []message.Message, modelID string) {
	raw, err := c.ChatRaw(r.Context(), messages, modelID)
	if err != nil {
		writeUpstreamError(w, surface, err)
		return
	}
	defer raw.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(raw.StatusCode)
	if _, err := io.Copy(w, raw.Body); err != nil {
		log.Printf("gateway: error copying unary response: %v", err)
	}
}

// forwardStream performs the raw passthrough streaming call and copies
// upstream bytes to the caller one chunk at a time, never buffering the
// whole body, per spec §5's backpressure model.
func (s *Server) forwardStream(w http.ResponseWriter, r *http.Request, surface provider.Kind, c provider.Client, messages []message.Message, modelID string) {
	raw, err := c.ChatStreamRaw(r.Context(), messages, modelID)
	if err != nil {
		writeUpstreamError(w, surface, err)
		return
	}
	defer raw.Body.Close()

	if raw.StatusCode < 200 || raw.StatusCode >= 300 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(raw.StatusCode)
		io.Copy(w, raw.Body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := raw.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				log.Printf("gateway: stream copy error: %v", readErr)
			}
			return
		}
	}
}

// handleModels lists configured models for one dialect, stripping the
// leading provider-alias segment from each path, per spec §4.8.
func (s *Server) handleModels(surface provider.Kind, stripPrefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := resolver.ListModels(s.tree)
		type modelEntry struct {
			ID string `json:"id"`
		}
		var entries []modelEntry
		for _, m := range all {
			if m.Model.Kind != surface {
				continue
			}
			id := strings.TrimPrefix(m.Path, stripPrefix+".")
			entries = append(entries, modelEntry{ID: id})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": entries})
	}
}

// handleHealth returns liveness plus a count of configured model nodes,
// per spec §4.8.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"providers": len(resolver.ListModels(s.tree)),
	})
}

// handleProviders returns a flat list of configured providers, per spec
// §4.8. api_key is never included — listing endpoints must not leak
// credentials, per spec §8 invariant #8.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	type providerEntry struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		APIBase string `json:"api_base"`
	}
	var entries []providerEntry

	llm, _ := s.tree.Child("llm")
	root, _ := llm.Child("provider")
	for _, p := range resolver.ListProviders(s.tree) {
		apiBase, _ := func() (string, bool) {
			if root == nil {
				return "", false
			}
			node, ok := root.Child(p.Name)
			if !ok {
				return "", false
			}
			return node.String("api_base")
		}()
		entries = append(entries, providerEntry{ID: p.Name, Type: p.Kind.String(), APIBase: apiBase})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
