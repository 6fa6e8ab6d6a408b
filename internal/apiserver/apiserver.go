// Package apiserver exposes the notification core over HTTP. Grounded
// on internal/gateway/gateway.go's gin.Engine + middleware stack
// (rate limiter, correlation-ID tracing, circuit-breaker-wrapped
// handlers); the order/position/market routes become evaluate/
// stream/rules-reload routes for this domain.
package apiserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/notifyhub/prioritycore/internal/authtoken"
	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/internal/pipeline"
	"github.com/notifyhub/prioritycore/internal/rules"
	"github.com/notifyhub/prioritycore/internal/streaming"
	"github.com/notifyhub/prioritycore/pkg/circuit"
)

// Config holds the HTTP server's tunables.
type Config struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Server wires the pipeline orchestrator, the rules matcher's admin
// reload path, and the audit-tail stream behind gin.
type Server struct {
	router      *gin.Engine
	orchestrator *pipeline.Orchestrator
	rulesMatcher *rules.Matcher
	hub         *streaming.Hub
	tokens      *authtoken.Issuer
	breakers    *circuit.BreakerGroup
	rateLimiter *rateLimiter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New wires a Server. rulesMatcher and hub may be nil if those
// features are disabled for a given deployment.
func New(cfg Config, orch *pipeline.Orchestrator, rulesMatcher *rules.Matcher, hub *streaming.Hub, tokens *authtoken.Issuer) *Server {
	breakers := circuit.NewBreakerGroup(circuit.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 3,
	})

	s := &Server{
		router:       gin.Default(),
		orchestrator: orch,
		rulesMatcher: rulesMatcher,
		hub:          hub,
		tokens:       tokens,
		breakers:     breakers,
		rateLimiter: &rateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.rateLimitMiddleware())
	s.router.Use(s.tracingMiddleware())

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/evaluate", s.authMiddleware(), s.evaluate)
		v1.GET("/stream", s.authMiddleware(), s.streamAudit)
		v1.POST("/rules/reload", s.authMiddleware(), s.reloadRules)
	}
}

// Run starts the HTTP server on addr.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Router exposes the underlying gin.Engine for tests and for
// embedding behind a custom http.Server (graceful shutdown, TLS).
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token := header
		if len(header) > 7 && header[:7] == "Bearer " {
			token = header[7:]
		}

		claims, err := s.tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("claims", claims)
		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// evaluate runs a caller-supplied event through the pipeline and
// returns its Decision.
func (s *Server) evaluate(c *gin.Context) {
	var e domain.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := e.Valid(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := s.orchestrator.Evaluate(c.Request.Context(), e)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}

	c.JSON(http.StatusOK, d)
}

// reloadRules requires the rules:reload permission and coalesces
// concurrent admin-triggered reloads via internal/rules' singleflight
// group.
func (s *Server) reloadRules(c *gin.Context) {
	if s.rulesMatcher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "rules matcher not configured"})
		return
	}

	claims := c.MustGet("claims").(*authtoken.Claims)
	if !claims.HasPerm("rules:reload") {
		c.JSON(http.StatusForbidden, gin.H{"error": "missing rules:reload permission"})
		return
	}

	err := s.breakers.Execute(c.Request.Context(), "rules-reload", func() error {
		s.rulesMatcher.TriggerReload(c.Request.Context())
		return nil
	})
	if err != nil {
		if err == circuit.ErrCircuitOpen {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rules backing store temporarily unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "reload triggered"})
}

// streamAudit upgrades the connection to a WebSocket and tails the
// audit record feed until the client disconnects.
func (s *Server) streamAudit(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audit stream not configured"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(conn)
	defer s.hub.Unsubscribe(sub.ID)

	for {
		select {
		case env, ok := <-sub.Updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-sub.Done:
			return
		}
	}
}

// rateLimiter is a sliding-window-per-key limiter, grounded on
// internal/gateway/gateway.go's RateLimiter.
type rateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	requests := rl.requests[key]
	valid := make([]time.Time, 0, len(requests))
	for _, t := range requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}
