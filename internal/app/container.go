package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kapu/guest-research-go/internal/config"
	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/research"
	"github.com/kapu/guest-research-go/internal/server"
	"github.com/kapu/guest-research-go/internal/service/ai"
	"github.com/kapu/guest-research-go/internal/service/cache"
	"github.com/kapu/guest-research-go/internal/service/database"
	"github.com/kapu/guest-research-go/internal/service/transcript"
	"github.com/kapu/guest-research-go/internal/service/wiki"
	"github.com/kapu/guest-research-go/internal/service/youtube"
	"go.uber.org/zap"
)

// Container bundles the assembled services behind the HTTP server.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Orchestrator *research.Orchestrator
	Questions    *ai.QuestionGenerator
	Server       *server.Server

	closers []func()
}

// Close releases cache and database connections in reverse order.
func (c *Container) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build assembles all infrastructure services and the research server. Redis
// and Postgres are optional; without Postgres, authentication falls back to
// the static token map and run history is off.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	healthChecks := make(map[string]server.HealthCheck)

	// Cache
	var store cache.Store
	if cfg.Redis.Enabled {
		cacheSvc, err := cache.NewCacheService(cache.CacheConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache service: %w", err)
		}
		closers = append(closers, func() {
			_ = cacheSvc.Close()
		})
		store = cacheSvc
		healthChecks["redis"] = func(ctx context.Context) error {
			if !cacheSvc.IsConnected(ctx) {
				return fmt.Errorf("redis unreachable")
			}
			return nil
		}
	} else {
		logger.Info("Redis disabled, caching is off")
	}

	// Database
	var (
		auth     server.Authenticator = server.StaticAuthenticator(cfg.Auth.StaticTokens)
		keys     server.KeyProvider
		runStore server.RunStore
		recorder research.RunRecorder
	)
	if cfg.Postgres.Enabled {
		postgresSvc, err := database.NewPostgresService(database.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres service: %w", err)
		}
		closers = append(closers, func() {
			_ = postgresSvc.Close()
		})

		if err := postgresSvc.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}

		users := database.NewUserRepository(postgresSvc, logger)
		runs := database.NewRunRepository(postgresSvc, logger)
		auth, keys = users, users
		runStore, recorder = runs, runs
		healthChecks["postgres"] = postgresSvc.Ping
	} else {
		logger.Info("Postgres disabled, using static tokens without run history",
			zap.Int("tokens", len(cfg.Auth.StaticTokens)))
	}

	// AI stack
	gemini := ai.NewGeminiProvider(cfg.Gemini.DefaultModel, logger)
	var fallback ai.Provider
	if cfg.OpenAI.EnableFallback && cfg.OpenAI.APIKey != "" {
		openAI := ai.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
		fallback = openAI
		logger.Info("AI providers configured",
			zap.String("primary_model", gemini.DefaultModel()),
			zap.String("fallback_model", openAI.DefaultModel()))
	} else {
		logger.Info("AI provider configured without fallback",
			zap.String("primary_model", gemini.DefaultModel()))
	}
	modelManager := ai.NewModelManager(
		gemini,
		fallback,
		ai.ModelManagerConfig{DefaultAPIKey: cfg.Gemini.APIKey},
		logger,
	)
	questions := ai.NewQuestionGenerator(modelManager, cfg.Gemini.QuestionModels, logger)

	// Research adapters
	httpClient := &http.Client{Timeout: constants.APIConfig.HTTPTimeout}
	searcher := youtube.NewSearcher(youtube.NewDataAPIClient(logger), store, logger)
	transcripts := transcript.NewFetcher(
		transcript.NewWatchPageSource(httpClient, constants.APIConfig.WatchPageBaseURL),
		store, logger, transcript.Options{},
	)
	encyclopedia := wiki.NewClient(
		&http.Client{Timeout: constants.APIConfig.WikipediaTimeout},
		cfg.Wikipedia.BaseURL, store, logger,
	)

	orchestrator := research.NewOrchestrator(research.Dependencies{
		NameChecker:  ai.NewNameChecker(modelManager, logger),
		Searcher:     searcher,
		Transcripts:  transcripts,
		Analyzer:     ai.NewVideoAnalyzer(modelManager, logger),
		Synthesizer:  ai.NewSynthesizer(modelManager, logger),
		Dossier:      ai.NewDossierBuilder(modelManager, logger),
		Encyclopedia: encyclopedia,
		Recorder:     recorder,
	}, research.OrchestratorConfig{
		DefaultKeys: domain.APIKeys{
			SearchKey: cfg.YouTube.APIKey,
			LLMKey:    cfg.Gemini.APIKey,
		},
	}, logger)

	srv := server.New(server.Options{
		Runner:            orchestrator,
		Questions:         questions,
		Auth:              auth,
		Keys:              keys,
		Runs:              runStore,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		MaxConcurrentRuns: cfg.Research.MaxConcurrentRuns,
		RunTimeout:        cfg.Research.RunTimeout,
		HealthChecks:      healthChecks,
	}, logger)

	logger.Info("Research services assembled",
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("postgres", cfg.Postgres.Enabled),
		zap.Bool("openai_fallback", fallback != nil),
		zap.Strings("question_models", cfg.Gemini.QuestionModels),
	)

	return &Container{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orchestrator,
		Questions:    questions,
		Server:       srv,
		closers:      closers,
	}, nil
}
