// Package webserver serves the result snapshot and the agent's management
// endpoints over HTTP or HTTPS.
package webserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/auth"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Certificates is the certificate manager as seen by the webserver.
type Certificates interface {
	CSR() ([]byte, error)
	InstallCertificate(signed, ca []byte) error
}

// ConfigFiles reads and replaces the configuration documents.
type ConfigFiles interface {
	Read() (*config.Documents, error)
	Write(d *config.Documents) error
}

// Options configures a Server.
type Options struct {
	Addr  string
	Store *store.Store

	// Auth gates every route. Nil disables authentication.
	Auth *auth.Middleware

	// TLS enables HTTPS. Nil serves plain HTTP.
	TLS *tls.Config

	// Certificates serves /getCsr and /updateCrt. Nil reports autossl as
	// disabled. A successful install is expected to request the reload itself.
	Certificates Certificates

	// ConfigFiles enables /config. Nil leaves the route unmounted.
	ConfigFiles ConfigFiles

	// Reload is called after the configuration documents were replaced.
	Reload func()

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	ServiceName    string
	TracerProvider trace.TracerProvider
	Logger         *slog.Logger
}

// Server is the agent's HTTP endpoint.
type Server struct {
	opts     Options
	engine   *gin.Engine
	logger   *slog.Logger
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
}

// New creates a Server with all routes registered.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "openitcockpit-agent"
	}
	if opts.Reload == nil {
		opts.Reload = func() {}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(recovery(opts.Logger))
	if opts.TracerProvider != nil {
		engine.Use(otelgin.Middleware(opts.ServiceName, otelgin.WithTracerProvider(opts.TracerProvider)))
	}
	engine.Use(requestLogger(opts.Logger))
	if opts.Auth != nil && opts.Auth.Enabled() {
		engine.Use(opts.Auth.Gin())
	}

	s := &Server{opts: opts, engine: engine, logger: opts.Logger}
	h := &handler{opts: opts, logger: opts.Logger}

	engine.GET("/", h.snapshot)
	engine.GET("/getCsr", h.getCSR)
	engine.POST("/updateCrt", h.updateCrt)
	if opts.ConfigFiles != nil {
		engine.GET("/config", h.getConfig)
		engine.POST("/config", h.postConfig)
	}
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if s.opts.TLS != nil {
		listener = tls.NewListener(listener, s.opts.TLS)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.running = true

	srv := s.server
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webserver stopped", "error", err)
		}
	}()

	s.logger.Info("webserver listening", "addr", listener.Addr().String(), "tls", s.opts.TLS != nil)
	return nil
}

// Wait blocks until ctx is cancelled and then shuts the server down.
func (s *Server) Wait(ctx context.Context) error {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// URL returns the base URL of the server.
func (s *Server) URL() string {
	scheme := "http"
	if s.opts.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, s.Addr())
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
