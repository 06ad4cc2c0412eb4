// Package api provides the HTTP REST API and WebSocket server for fleetcore.
//
// It exposes automation rule management, device and scene CRUD, execution
// history, and a WebSocket feed of engine events (rule.fired,
// rule.auto_disabled, device.state).
//
// The server follows the same lifecycle pattern as the other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stokeworth/fleetcore/internal/audit"
	"github.com/stokeworth/fleetcore/internal/device"
	"github.com/stokeworth/fleetcore/internal/infrastructure/config"
	"github.com/stokeworth/fleetcore/internal/infrastructure/logging"
	"github.com/stokeworth/fleetcore/internal/rule"
	"github.com/stokeworth/fleetcore/internal/scene"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker reports the health of an infrastructure dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SceneActivator triggers a scene and returns the execution ID.
type SceneActivator interface {
	ActivateScene(ctx context.Context, sceneID, triggerType, triggerSource string) (string, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Rules       *rule.Store
	RuleRepo    rule.Repository
	Devices     *device.Registry
	Scenes      *scene.Registry
	SceneEngine SceneActivator
	SceneRepo   scene.Repository
	AuditRepo   audit.Repository
	Audit       *audit.Recorder
	MQTT        HealthChecker // optional: surfaced in /health
	History     HealthChecker // optional: surfaced in /health
	ExternalHub *Hub          // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for fleetcore.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	rules       *rule.Store
	ruleRepo    rule.Repository
	devices     *device.Registry
	scenes      *scene.Registry
	sceneEngine SceneActivator
	sceneRepo   scene.Repository
	auditRepo   audit.Repository
	audit       *audit.Recorder
	mqtt        HealthChecker
	history     HealthChecker
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("rule store is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger.With("component", "api"),
		rules:       deps.Rules,
		ruleRepo:    deps.RuleRepo,
		devices:     deps.Devices,
		scenes:      deps.Scenes,
		sceneEngine: deps.SceneEngine,
		sceneRepo:   deps.SceneRepo,
		auditRepo:   deps.AuditRepo,
		audit:       deps.Audit,
		mqtt:        deps.MQTT,
		history:     deps.History,
		version:     deps.Version,
	}

	// Use an externally-provided hub when the coordinator also broadcasts
	// through it.
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub. Valid after Start() unless an
// external hub was injected at construction.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
