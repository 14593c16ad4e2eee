// Package gateway wires the HTTP router, middleware stack, and request
// handlers for the two wire-compatible surfaces of spec §4.8, continuing
// the teacher's internal/server package generalized from one chat surface
// and one provider registry to two dialects resolved from a configuration
// tree.
package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/metrics"
	"github.com/coreseekdev/emx-llm/internal/provider"
)

// Server holds the HTTP router and the configuration tree handlers
// resolve against.
type Server struct {
	router  chi.Router
	tree    config.Tree
	metrics *metrics.Metrics

	// RateLimit, when non-zero at the moment routes are built, installs a
	// per-process inbound token-bucket throttle (requests/sec, burst =
	// same value). New builds the routes before returning, so a value
	// assigned to this field afterwards has no effect and a Server
	// returned by New runs without the throttle.
	RateLimit int
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(tree config.Tree, m *metrics.Metrics) *Server {
	s := &Server{tree: tree, metrics: m}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(bodyCap)
	if s.RateLimit > 0 {
		r.Use(inboundThrottle(rate.NewLimiter(rate.Limit(s.RateLimit), s.RateLimit)))
	}
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/v1/providers", s.handleProviders)

	r.Post("/openai/v1/chat/completions", s.handleChat(provider.OpenAIDialect))
	r.Get("/openai/v1/models", s.handleModels(provider.OpenAIDialect, "openai"))

	r.Post("/anthropic/v1/messages", s.handleChat(provider.AnthropicDialect))
	r.Get("/anthropic/v1/models", s.handleModels(provider.AnthropicDialect, "anthropic"))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler, so it can be passed
// directly to http.Server{Handler: s}.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
