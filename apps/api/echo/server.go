package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/core/feedback"
	"github.com/roxnlabs/mentora/core/session"
	"github.com/roxnlabs/mentora/core/user"
	"github.com/roxnlabs/mentora/services/monitor"
	"github.com/roxnlabs/mentora/services/signaling"
)

type (
	ServerDeps struct {
		Conf        *core.Config
		Logger      core.Logger
		Validate    *validator.Validate
		Translator  ut.Translator
		UserSvc     user.Service
		SessionSvc  session.Service
		FeedbackSvc feedback.Service
		Metrics     *monitor.Metrics
		Health      *monitor.HealthChecker
		Status      *monitor.StatusReporter
		Hub         *signaling.Hub
	}

	Server struct {
		*http.Server
		app      *echo.Echo
		deps     ServerDeps
		auth     *authenticator
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		Server: &http.Server{
			Addr:         deps.Conf.ServerAddress(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		app:      echo.New(),
		deps:     deps,
		auth:     newAuthenticator(deps.Conf, deps.UserSvc),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.Handler = s.app
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestID())
	if !conf.TestMode {
		s.app.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Skipper: func(ctx echo.Context) bool { return ctx.Path() == "/metrics" || ctx.Path() == "/health" },
		}))
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: conf.Server.CORSOrigins}))
	s.app.Use(middleware.BodyLimit(conf.Server.BodyLimit))
	if s.deps.Metrics != nil {
		s.app.Use(metricsMiddleware(s.app, s.deps.Metrics))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	registerMonitorAPI(s.app, s.deps.Health, s.deps.Status, s.deps.Metrics)

	api := s.app.Group("/api")
	jwt := middleware.JWTWithConfig(s.auth.jwtConfig)
	optionalJWT := middleware.JWTWithConfig(s.auth.optionalJWTConfig())
	limiter := newRateLimiter(conf.RateLimit.RPS, conf.RateLimit.Burst).middleware()

	registerUserAPI(api, jwt, limiter, s.auth, s.deps)
	registerSessionAPI(api, jwt, s.auth, s.deps)
	registerFeedbackAPI(api, jwt, optionalJWT, limiter, s.auth, s.deps)
	if s.deps.Hub != nil {
		registerSignalingAPI(api, middleware.JWTWithConfig(s.auth.queryJWTConfig()), s.auth, s.deps.Hub)
	}
}

// Start listens until the server is shut down; failures are sent to Errors.
func (s *Server) Start() {
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

// SignalShutdown asks the app to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.Server.Shutdown(ctx)
}

// ServeHTTP serves the app directly, for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
