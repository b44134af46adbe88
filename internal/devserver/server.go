// Package devserver is a local stand-in for the PulsePal backend: the chat
// websocket namespace, the monitor namespace with synthetic readings, the
// history REST endpoint and the discovery health check. It exists so the
// client core can be exercised end-to-end without the real services.
package devserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/socket"
)

// Server is the stub backend.
type Server struct {
	echo     *echo.Echo
	hub      *Hub
	store    *messageStore
	validate *validator.Validate
	logger   *slog.Logger

	monitorInterval    time.Duration
	predictionInterval time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMonitorInterval overrides how often synthetic BP readings are pushed.
func WithMonitorInterval(d time.Duration) Option {
	return func(s *Server) { s.monitorInterval = d }
}

// WithPredictionInterval overrides how often synthetic predictions are pushed.
func WithPredictionInterval(d time.Duration) Option {
	return func(s *Server) { s.predictionInterval = d }
}

// New creates the stub backend and starts its hub.
func New(opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:               e,
		hub:                NewHub(),
		store:              newMessageStore(),
		validate:           validator.New(),
		logger:             slog.Default().With("service", "devserver"),
		monitorInterval:    2 * time.Second,
		predictionInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.GET("/health", s.handleHealth)
	e.GET("/api/chat/rooms/:roomID/messages", s.handleHistory)
	e.GET("/ws/chat", s.handleChatSocket)
	e.GET("/ws/monitor", s.handleMonitorSocket)

	go s.hub.Run()
	return s
}

// Handler exposes the HTTP handler, mainly for httptest in integration tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on the given address until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("dev server listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// SeedHistory preloads room history, for tests and demos.
func (s *Server) SeedHistory(roomID string, msgs []domain.Message) {
	for _, m := range msgs {
		s.store.Append(roomID, m)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": socket.MonitorServiceID,
		"status":  "ok",
	})
}

func (s *Server) handleHistory(c echo.Context) error {
	roomID := c.Param("roomID")

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	before := c.QueryParam("before")

	return c.JSON(http.StatusOK, map[string]any{
		"messages": s.store.Page(roomID, limit, before),
	})
}

// bearerToken extracts the token from the query param or Authorization header.
func bearerToken(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	auth := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// userIDFromToken derives a stable fake identity from the bearer token.
func userIDFromToken(token string) string {
	if len(token) > 8 {
		token = token[:8]
	}
	return "user-" + token
}
