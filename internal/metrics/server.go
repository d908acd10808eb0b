package metrics

import (
	"context"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Channels     int    `json:"channels"`
	Participants int    `json:"participants"`
}

// HealthSource reports the registry's current occupancy for the health
// endpoint, without the metrics server needing to import internal/voice
// directly.
type HealthSource interface {
	ChannelCount() int
	ParticipantCount() int
}

// Server is the operator-facing HTTP surface: Prometheus scraping plus a
// liveness check. It listens on its own address, separate from the voice
// UDP socket.
type Server struct {
	echo   *echo.Echo
	source HealthSource
}

// NewServer constructs a Server and registers its routes. gatherer is
// scraped for /metrics — normally a Collectors' own private registry, never
// prometheus.DefaultGatherer, so a test process that builds several Servers
// never cross-contaminates exposition output.
func NewServer(source HealthSource, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{echo: e, source: source}
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return s
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:       "ok",
		Channels:     s.source.ChannelCount(),
		Participants: s.source.ParticipantCount(),
	})
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		if err := s.echo.Shutdown(context.Background()); err != nil {
			log.Printf("[metrics] shutdown: %v", err)
		}
	}()

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// jsonErrorHandler keeps every error response body consistent JSON
// ({"error": "message"}) instead of Echo's default, which varies between
// plain text and JSON depending on the failure.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
			return
		}
		c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
	}
}
