package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/burrowdev/burrow/pkg/log"
)

// AdminServer exposes /healthz, /livez and /metrics on the admin port.
type AdminServer struct {
	server *http.Server
}

// NewAdminServer builds the admin endpoint on the given port.
func NewAdminServer(port int) *AdminServer {
	r := chi.NewRouter()
	r.Get("/healthz", HealthHandler())
	r.Get("/livez", LivenessHandler())
	r.Handle("/metrics", Handler())

	return &AdminServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background until Stop.
func (s *AdminServer) Start() {
	logger := log.WithComponent("admin")
	go func() {
		logger.Info().Str("addr", s.server.Addr).Msg("admin endpoint listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin endpoint failed")
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *AdminServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
