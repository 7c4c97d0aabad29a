// Package api assembles the HTTP surface: the health check, the
// Instagram/ManyChat webhook endpoints (delegated to pkg/webhook),
// and the tenant-authenticated direct-send endpoint. A single Server
// struct is constructed once at startup and setupRoutes registers
// every route exactly once.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/chatbridge-hq/chatbridge/pkg/breaker"
	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/database"
	"github.com/chatbridge-hq/chatbridge/pkg/metrics"
	"github.com/chatbridge-hq/chatbridge/pkg/queue"
	"github.com/chatbridge-hq/chatbridge/pkg/version"
	"github.com/chatbridge-hq/chatbridge/pkg/webhook"
)

// Server is the HTTP API server: a thin gin.Engine wrapper binding
// together the webhook router, the admin send endpoint, and health
// reporting.
type Server struct {
	engine     *gin.Engine
	cfg        *config.Config
	dbClient   *database.Client
	rdb        *redis.Client
	workerPool *queue.WorkerPool
	breakers   *breaker.Registry
	webhooks   *webhook.Handler
	send       *SendHandler
	deadLetter *DeadLetterHandler
	metrics    *metrics.Registry
}

// NewServer constructs the gin engine, applies the global middleware
// stack, and registers every route. cfg.Server.CORSOrigins is
// guaranteed non-empty by config.Validator. deadLetter may be nil,
// which omits the admin dead-letter routes entirely. metrics may be
// nil, in which case instrumentation and GET /metrics are no-ops.
func NewServer(cfg *config.Config, dbClient *database.Client, rdb *redis.Client, workerPool *queue.WorkerPool, breakers *breaker.Registry, webhooks *webhook.Handler, send *SendHandler, deadLetter *DeadLetterHandler, metricsReg *metrics.Registry) *Server {
	gin.SetMode(cfg.Server.Mode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(securityHeaders(cfg.Server.Production))
	e.Use(cors(cfg.Server.CORSOrigins))
	e.Use(bodyLimit(cfg.Server.MaxBodyBytes))
	e.Use(instrument(metricsReg))

	s := &Server{
		engine:     e,
		cfg:        cfg,
		dbClient:   dbClient,
		rdb:        rdb,
		workerPool: workerPool,
		breakers:   breakers,
		webhooks:   webhooks,
		send:       send,
		deadLetter: deadLetter,
		metrics:    metricsReg,
	}
	s.setupRoutes()
	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.webhooks.RegisterRoutes(s.engine)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/send", s.send.tenantAuth(), s.send.Handle)

	if s.deadLetter != nil {
		dl := v1.Group("/admin/tenants/:tenant_id/dead-letters", s.deadLetter.auth())
		dl.GET("/:id", s.deadLetter.inspect)
		dl.POST("/:id/redrive", s.deadLetter.redrive)
		dl.POST("/:id/redact", s.deadLetter.redact)
	}
}

// healthHandler answers GET /health: storage, queue,
// and kv component status alongside the process version.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{}
	status := "healthy"

	dbHealth, err := database.Health(reqCtx, s.dbClient.Pool)
	if err != nil {
		status = "unhealthy"
		components["storage"] = gin.H{"status": "unhealthy", "error": err.Error()}
	} else {
		components["storage"] = gin.H{"status": dbHealth.Status}
	}

	if err := s.rdb.Ping(reqCtx).Err(); err != nil {
		status = "unhealthy"
		components["kv"] = gin.H{"status": "unhealthy", "error": err.Error()}
	} else {
		components["kv"] = gin.H{"status": "healthy"}
	}

	if s.workerPool != nil {
		poolHealth := s.workerPool.Health(reqCtx)
		queueStatus := "healthy"
		if !poolHealth.IsHealthy {
			queueStatus = "unhealthy"
			if status == "healthy" {
				status = "degraded"
			}
		}
		components["queue"] = gin.H{"status": queueStatus, "queue_depth": poolHealth.QueueDepth}
	}

	if s.breakers != nil {
		snapshot := s.breakers.Snapshot()
		components["breakers"] = snapshot
		for upstream, state := range snapshot {
			s.metrics.SetBreakerState(upstream, state)
		}
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":     status,
		"version":    version.Full(),
		"components": components,
	})
}
