// Package bridge exposes a local HTTP view of the running session: health,
// entity states, service calls, and recorded event history. It lets other
// local tools query Home Assistant without holding their own token.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthctl/hearth/internal/config"
	"github.com/hearthctl/hearth/internal/recorder"
	"github.com/hearthctl/hearth/pkg/haws"
)

// Session is the slice of the client the bridge needs. Narrowed for tests.
type Session interface {
	CurrentPhase() haws.Phase
	GetStates(ctx context.Context) ([]haws.State, error)
	CallService(ctx context.Context, domain, service string, data map[string]any, target *haws.ServiceTarget) (json.RawMessage, error)
}

// Server provides the bridge HTTP endpoints.
type Server struct {
	router    *gin.Engine
	cfg       *config.BridgeConfig
	logger    *slog.Logger
	session   Session
	history   *recorder.Store
	startedAt time.Time
}

// NewServer creates a bridge server. history may be nil when recording is
// disabled.
func NewServer(cfg *config.BridgeConfig, session Session, history *recorder.Store, logger *slog.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	s := &Server{
		router:    router,
		cfg:       cfg,
		logger:    logger.With("component", "bridge"),
		session:   session,
		history:   history,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/api/states", s.handleStates)
	s.router.POST("/api/services/:domain/:service", s.handleCallService)
	s.router.GET("/api/history", s.handleHistory)
}

// Router returns the underlying handler; tests drive it directly.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	addr := s.listenAddr()
	s.logger.Info("starting bridge", "address", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("bridge failed to start: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down bridge")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) listenAddr() string {
	port := s.cfg.Port
	if port == 0 {
		port = 18123
	}
	if s.cfg.Bind == "all" {
		return fmt.Sprintf("0.0.0.0:%d", port)
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func (s *Server) handleHealth(c *gin.Context) {
	phase := s.session.CurrentPhase()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"phase":         phase.Kind.String(),
		"serverVersion": phase.ServerVersion,
		"uptime":        time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStates(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	states, err := s.session.GetStates(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, states)
}

type callServiceBody struct {
	Data   map[string]any      `json:"data"`
	Target *haws.ServiceTarget `json:"target"`
}

func (s *Server) handleCallService(c *gin.Context) {
	var body callServiceBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	result, err := s.session.CallService(ctx, c.Param("domain"), c.Param("service"), body.Data, body.Target)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording disabled"})
		return
	}

	params := recorder.QueryParams{
		EntityID:  c.Query("entity_id"),
		EventType: c.Query("event_type"),
		Since:     c.Query("since"),
		Until:     c.Query("until"),
	}
	if limit := c.Query("limit"); limit != "" {
		fmt.Sscanf(limit, "%d", &params.Limit)
	}

	records, total, err := s.history.Query(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "events": records})
}

// loggerMiddleware logs each request through slog.
func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("bridge request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
