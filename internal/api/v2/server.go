package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/observability/metrics"
)

const shutdownTimeout = 5 * time.Second

// Server hosts /healthz, /metrics and the /api/v2 routes.
type Server struct {
	echo *echo.Echo
	addr string
	log  logger.Logger
}

// NewServer builds the HTTP surface for engine. m may be nil, in which case
// /metrics answers 404.
func NewServer(addr string, engine Engine, m *metrics.Metrics, log logger.Logger) *Server {
	if log == nil {
		log = logger.Silent()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	ctrl := NewController(e.Group("/api/v2"), engine, log)
	e.GET("/healthz", ctrl.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	return &Server{echo: e, addr: addr, log: log.Module("api")}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(s.addr) }()
	s.log.Info("http server listening", logger.String("addr", s.addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Newf("http server failed: %w", err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("addr", s.addr).
			Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	<-errCh
	s.log.Info("http server stopped")
	return nil
}
