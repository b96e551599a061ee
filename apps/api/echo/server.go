package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/appeal"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/feature"
)

type (
	Options struct {
		Address         string
		DisableReqLogs  bool
		Debug           bool
		TestMode        bool
		SecretKey       string
		AppealRateLimit int // appeal submissions per minute per IP, 0 disables the limit

		Logger         core.Logger
		MetricsHandler http.Handler // served on /metrics when set
		SignalShutdown func()

		TenantSvc  *eligibility.Service
		AppealSvc  *appeal.Service
		Features   *feature.Checker
		AuditStore audit.Store
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	if opts.Logger == nil {
		opts.Logger = core.NopLogger
	}
	if opts.SignalShutdown == nil {
		opts.SignalShutdown = func() {}
	}
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.opts.Debug || s.opts.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	jwtConf := newJWTConfig(s.opts.SecretKey)
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, jwtConf, s.opts.SignalShutdown)
	s.app.Debug = s.opts.Debug

	s.app.GET("/", home)
	if s.opts.MetricsHandler != nil {
		s.app.GET("/metrics", echo.WrapHandler(s.opts.MetricsHandler))
	}

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(jwtConf)

	registerVerificationAPI(v1, jwt, jwtConf, s.opts.TenantSvc, s.opts.AuditStore)
	registerTenantAPI(v1, jwt, jwtConf, s.opts.TenantSvc, s.opts.Features)
	registerAppealAPI(v1, jwt, jwtConf, s.opts.AppealSvc, s.opts.AppealRateLimit)
}

func (s *server) Start() {
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		s.opts.Logger.Fatal("server stopped", err)
	}
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Masomo Eligibility API!")
}
