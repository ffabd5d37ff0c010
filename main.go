package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/drivana/sales-agent/internal/agent/graph"
	"github.com/drivana/sales-agent/internal/agent/model"
	"github.com/drivana/sales-agent/internal/catalog"
	"github.com/drivana/sales-agent/internal/core"
	"github.com/drivana/sales-agent/internal/repo"
	"github.com/drivana/sales-agent/internal/server"
	logx "github.com/drivana/sales-agent/pkg/logger"
	pkgredis "github.com/drivana/sales-agent/pkg/redis"
)

// AppConfig defines all configurable parameters of the service, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`

	// Infrastructure
	Redis   pkgredis.Config
	Catalog model.CatalogConfig
	Server  model.ServerConfig

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Router       model.RouterModelConfig
	Extraction   model.ExtractionModelConfig
	Response     model.ResponseModelConfig
	Prompt       model.PromptConfig
	Conversation model.ConversationConfig
	Financing    model.FinancingConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		logx.Warn().Err(err).Msg("Could not load .env file")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("Failed to process environment config")
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	rdb, err := cfg.Redis.New()
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
	}
	defer rdb.Close()
	logx.Info().Msg("Connected to Redis")

	store, err := catalog.Open(cfg.Catalog)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to open vehicle catalog")
	}
	defer store.Close()
	logx.Info().Str("driver", cfg.Catalog.Driver).Msg("Vehicle catalog ready")

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		logx.Fatal().Str("ttl", cfg.Conversation.TTL).Err(err).Msg("Invalid CONVERSATION_TTL")
	}
	states := repo.NewRedisStateRepository(rdb, ttl)

	runner, err := graph.BuildConversationGraph(ctx, graph.Config{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		RouterModel:     cfg.Router,
		ExtractionModel: cfg.Extraction,
		ResponseModel:   cfg.Response,
		Prompt:          cfg.Prompt,
		Conversation:    cfg.Conversation,
		Financing:       cfg.Financing,
		StateRepo:       states,
		Catalog:         store,
		Checkpoints:     repo.NewRedisCheckPointStore(rdb, ttl),
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build conversation graph")
	}

	srv, err := server.New(cfg.Server, runner, states, server.LogDeliverer{})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build HTTP server")
	}
	if err := srv.Run(); err != nil {
		logx.Error().Err(err).Msg("HTTP server stopped")
		os.Exit(1)
	}
}
