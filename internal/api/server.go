package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"campuswire/internal/forum"
	"campuswire/internal/room"
	"campuswire/pkg/interfaces"
)

// StatsSource reports counters for /api/stats
type StatsSource interface {
	GetStats() map[string]int
}

// HealthChecker verifies a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options configures the HTTP server
type Options struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Debug          bool
	DisableReqLogs bool
}

// Dependencies are the services the API exposes. WebSocket is mounted
// under /ws/ when set.
type Dependencies struct {
	Auth      interfaces.Authenticator
	Forum     *forum.Service
	Resolver  *room.Resolver
	Messages  interfaces.RoomStore
	Health    HealthChecker
	Stats     map[string]StatsSource
	WebSocket http.Handler
}

// Server is the HTTP front door: forum producers, room history, health
// and the websocket endpoints
type Server struct {
	opts     Options
	deps     Dependencies
	app      *echo.Echo
	validate *validator.Validate
	logger   *zap.Logger
}

func NewServer(opts Options, deps Dependencies, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:     opts,
		deps:     deps,
		app:      echo.New(),
		validate: newValidator(),
		logger:   logger.With(zap.String("component", "api")),
	}
	s.setup()
	return s
}

// newValidator reports field errors under their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Debug = s.opts.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.logger)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(s.requestLogger())
	}
	s.app.Use(middleware.Recover())

	s.app.GET("/health", s.health)

	if s.deps.WebSocket != nil {
		s.app.GET("/ws/*", echo.WrapHandler(s.deps.WebSocket))
	}

	g := s.app.Group("/api", authMiddleware(s.deps.Auth))
	g.GET("/stats", s.stats)
	g.GET("/rooms/:roomType/:roomKey/messages", s.roomMessages)

	if s.deps.Forum != nil {
		registerForumAPI(g, s.deps.Forum, s.validate)
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.logger.Info("Request", fields...)
			return nil
		},
	})
}

// Start listens until Shutdown is called. Returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start() error {
	s.app.Server.ReadTimeout = s.opts.ReadTimeout
	s.app.Server.WriteTimeout = s.opts.WriteTimeout
	s.logger.Info("HTTP server listening", zap.String("address", s.opts.Address))
	return s.app.Start(s.opts.Address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

// ServeHTTP lets tests drive the server without a listener
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}
