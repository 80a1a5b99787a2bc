package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	apihttp "github.com/GriffinCanCode/AgentOS/dlkernel/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/app"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/ws"
)

// Server wraps the HTTP server and the system it exposes
type Server struct {
	sys    *app.System
	router *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

// New builds the router for sys.
func New(sys *app.System) *Server {
	cfg := sys.Config
	logger := sys.Logger.Component("http")

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(tracing.HTTPMiddleware(sys.Tracer))
	router.Use(monitoring.Middleware(sys.Metrics))
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.CORSOrigins
	}
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	var breaker *resilience.Breaker
	if sys.Remote != nil {
		breaker = sys.Remote.Breaker()
	}
	handlers := apihttp.NewHandlers(sys.Modules,
		apihttp.WithOps(sys.Source),
		apihttp.WithBreaker(breaker),
		apihttp.WithTracer(sys.Tracer),
		apihttp.WithMetrics(sys.Metrics),
		apihttp.WithLogger(logger),
	)
	handlers.Register(router)
	router.GET("/metrics", gin.WrapH(sys.Metrics.Handler()))
	router.GET("/shell", ws.NewHandler(sys.Modules, sys.Logger.Component("ws"), cfg.Server.ShellWait.D()).HandleConnection)

	return &Server{
		sys:    sys,
		router: router,
		logger: logger,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on l until ctx is cancelled, then shuts down
// within the configured timeout.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if n := s.sys.Config.Server.MaxConns; n > 0 {
		l = netutil.LimitListener(l, n)
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", l.Addr().String()))
		errc <- s.http.Serve(l)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	sctx, cancel := context.WithTimeout(context.Background(), s.sys.Config.Server.ShutdownTimeout.D())
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}
