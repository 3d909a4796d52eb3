package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/research"
	"github.com/kapu/guest-research-go/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ResearchRunner starts research runs.
type ResearchRunner interface {
	Run(ctx context.Context, req domain.ResearchRequest) (*research.Stream, error)
}

type QuestionGenerator interface {
	Generate(ctx context.Context, req domain.QuestionRequest) domain.QuestionResult
}

// Authenticator maps a bearer token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// KeyProvider returns a user's own provider keys.
type KeyProvider interface {
	GetAPIKeys(ctx context.Context, userID string) (domain.APIKeys, error)
}

type RunStore interface {
	GetRun(ctx context.Context, userID, runID string) (*domain.RunRecord, error)
	ListRuns(ctx context.Context, userID string, limit int) ([]domain.RunRecord, error)
}

// HealthCheck reports a dependency's health for /healthz.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Runner    ResearchRunner
	Questions QuestionGenerator
	Auth      Authenticator
	// Keys and Runs are optional.
	Keys KeyProvider
	Runs RunStore

	AllowedOrigins    []string
	MaxConcurrentRuns int
	RunTimeout        time.Duration
	// KeepAliveInterval spaces SSE comment frames while a run is quiet.
	KeepAliveInterval time.Duration
	HealthChecks      map[string]HealthCheck
}

type Server struct {
	opts   Options
	runs   *semaphore.Weighted
	engine *gin.Engine
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Server {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 1
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = defaultKeepAlive
	}
	s := &Server{
		opts:   opts,
		runs:   semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
		logger: util.OrNop(logger),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), cors.New(corsConfig(opts.AllowedOrigins)))
	s.RegisterRoutes(r)
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.healthz)

	api := r.Group("/api", s.authMiddleware())
	{
		api.POST("/research", s.startResearch)
		api.GET("/research/ws", s.researchSocket)
		api.POST("/questions", s.generateQuestions)
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "X-Run-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.opts.HealthChecks))
	for name, check := range s.opts.HealthChecks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
