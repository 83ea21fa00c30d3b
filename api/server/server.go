package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"auditwatch/api/middleware"
	"auditwatch/internal/catalog"
	"auditwatch/internal/config"
	"auditwatch/internal/elasticsearch"
	"auditwatch/internal/events"
	"auditwatch/internal/ingest"
	"auditwatch/internal/logger"
	"auditwatch/internal/notification"
	"auditwatch/internal/store"
)

// RuleAdmin is the rule store as seen by the admin API.
type RuleAdmin interface {
	ListRules(ctx context.Context) ([]notification.RuleDefinition, error)
	GetRule(ctx context.Context, id uint) (notification.RuleDefinition, error)
	SaveRule(ctx context.Context, def *notification.RuleDefinition) error
	DeleteRule(ctx context.Context, id uint) error
}

// Invalidator drops cached rule lists after a write.
type Invalidator interface {
	Invalidate()
}

type EventIngester interface {
	Ingest(ctx context.Context, e *notification.Event) (ingest.Result, error)
}

type EventLister interface {
	ListEvents(ctx context.Context, q store.EventQuery) ([]notification.Event, int64, error)
}

type RuleEvaluator interface {
	DryRun(ctx context.Context, def notification.RuleDefinition, e *notification.Event) (notification.DryRunResult, error)
}

// Deps are the services behind the API. ES, Journal, Cache and RateLimiter may be nil.
type Deps struct {
	Ingester    EventIngester
	Events      EventLister
	Rules       RuleAdmin
	Cache       Invalidator
	Evaluator   RuleEvaluator
	ES          *elasticsearch.Client
	Journal     *logger.Journal
	Catalog     func() catalog.Source
	Registry    *events.Registry
	Gatherer    prometheus.Gatherer
	Config      *config.Config
	RateLimiter *middleware.IPRateLimiter
	Logger      *zap.Logger
}

type Server struct {
	router *gin.Engine
	deps   Deps
	logger *zap.Logger
}

func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.DefaultSource
	}
	if deps.Registry == nil {
		deps.Registry = events.NewRegistry()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	// Set timeout for request processing (30 seconds)
	router.Use(middleware.Timeout(30 * time.Second))

	s := &Server{
		router: router,
		deps:   deps,
		logger: deps.Logger,
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	if s.deps.RateLimiter != nil {
		api.Use(s.deps.RateLimiter.Middleware())
	}

	{
		// Audit events - using POST
		api.POST("/event/log", s.logEvent)
		api.POST("/event/search", s.searchEvents)
		api.POST("/event/stats", s.eventStats)

		// Notification rules - using POST
		api.POST("/notification/add", s.addRule)
		api.POST("/notification/list", s.listRules)
		api.POST("/notification/get", s.getRule)
		api.POST("/notification/update", s.updateRule)
		api.POST("/notification/remove", s.removeRule)
		api.POST("/notification/evaluate", s.evaluateRule)

		// Delivery journal
		api.POST("/delivery/logs", s.deliveryLogs)

		api.GET("/catalog", s.getCatalog)
		api.GET("/config", s.getConfig)
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
}

// Handler exposes the router for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// IDRequest 通用 ID 请求
type IDRequest struct {
	ID uint `json:"id" binding:"required"`
}
