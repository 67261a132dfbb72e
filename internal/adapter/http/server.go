package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/ais-track-etl/internal/domain"
)

// Status reports the state of the running transform.
type Status interface {
	sharedobs.ReadinessChecker
	Tally() *domain.Tally
}

// Server exposes health, readiness, rejection, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /rejections, and
// /metrics routes.
func NewServer(addr string, status Status, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(status))
	mux.HandleFunc("GET /rejections", handleRejections(status))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type rejectionsResponse struct {
	Total    int64                         `json:"total"`
	ByReason map[domain.RejectReason]int64 `json:"by_reason"`
	Summary  string                        `json:"summary"`
}

// handleRejections reports the rejected row tally of the running transform.
func handleRejections(status Status) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		tally := status.Tally()
		sharedobs.WriteJSON(w, http.StatusOK, rejectionsResponse{
			Total:    tally.Total(),
			ByReason: tally.Snapshot(),
			Summary:  tally.String(),
		})
	}
}
