package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustible/rustible/infrastructure/logging"
	"github.com/rustible/rustible/infrastructure/metrics"
	"github.com/rustible/rustible/infrastructure/middleware"
	"github.com/rustible/rustible/internal/state"
)

// EventSource is anything the /events endpoint can subscribe to for a
// live stream of task state transitions. *state.Store satisfies it.
type EventSource interface {
	Subscribe(buffer int) (<-chan state.TaskStateRecord, func())
}

// Server is the local observability HTTP server: Prometheus exposition,
// a liveness/readiness check, and a websocket feed of task transitions.
type Server struct {
	router       chi.Router
	health       *middleware.HealthChecker
	source       EventSource
	upgrade      websocket.Upgrader
	sharedSecret string
}

// NewServer builds a Server. version is surfaced by /healthz; source may
// be nil, in which case /events responds 503.
func NewServer(version string, source EventSource) *Server {
	return NewServerWithSecret(version, source, "")
}

// NewServerWithSecret builds a Server whose /events feed is gated behind
// middleware.HeaderGateMiddleware when sharedSecret is non-empty, so a
// dashboard or collector reaching it over an untrusted network has to
// present X-Rustible-Node/X-Shared-Secret headers rather than relying on
// network reachability alone.
func NewServerWithSecret(version string, source EventSource, sharedSecret string) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		health:       middleware.NewHealthChecker(version),
		source:       source,
		sharedSecret: sharedSecret,
		upgrade: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	logger := logging.NewFromEnv("telemetry")
	recoveryMw := middleware.NewRecoveryMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(nil)
	corsMw := middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: []string{"*"}})
	bodyLimitMw := middleware.NewBodyLimitMiddleware(0)

	// These four never wrap the ResponseWriter, so they're safe to apply
	// ahead of the websocket upgrade on /events as well as the plain
	// request/response routes.
	s.router.Use(recoveryMw.Handler, securityMw.Handler, corsMw.Handler, bodyLimitMw.Handler)

	// Logging, metrics and request-timeout middleware wrap the
	// ResponseWriter to observe status/duration, which defeats the
	// http.Hijacker the websocket upgrade on /events needs; restrict them
	// to the plain request/response routes.
	timeoutMw := middleware.NewTimeoutMiddleware(10 * time.Second)
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(logger), middleware.MetricsMiddleware(metrics.Global()), timeoutMw.Handler)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/healthz", s.health.Handler())
	})

	eventsHandler := http.HandlerFunc(s.handleEvents)
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.NewRateLimiterFromConfig(middleware.StrictRateLimiterConfig(logger)).Handler)
		if s.sharedSecret != "" {
			r.Use(middleware.HeaderGateMiddleware(s.sharedSecret))
		}
		r.Get("/events", eventsHandler.ServeHTTP)
	})
}

// Handler returns the server's http.Handler for use with http.Server or
// httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleEvents upgrades to a websocket and streams every TaskStateRecord
// the event source publishes as newline-delimited JSON frames, until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		http.Error(w, "event source not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, unsubscribe := s.source.Subscribe(64)
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for rec := range ch {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
