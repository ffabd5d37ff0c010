package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/drivana/sales-agent/internal/agent/model"
	logx "github.com/drivana/sales-agent/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey           string
	BaseURL          string
	RouterConfig     *model.RouterModelConfig
	ExtractionConfig *model.ExtractionModelConfig
	ResponseConfig   *model.ResponseModelConfig
}

// ChatModels groups the three models the graph talks to. Router classifies
// intent, Extraction pulls structured data out of user text, Response writes
// everything the user actually reads. Fields are interfaces so tests can
// substitute scripted models.
type ChatModels struct {
	Router     einomodel.BaseChatModel
	Extraction einomodel.BaseChatModel
	Response   einomodel.BaseChatModel

	RouterModelName     string
	ExtractionModelName string
	ResponseModelName   string
}

// NewChatModels creates the router, extraction and response chat models over
// a shared Gemini client.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.RouterConfig == nil || config.ExtractionConfig == nil || config.ResponseConfig == nil {
		return nil, fmt.Errorf("chat model config is incomplete")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	router, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.RouterConfig.Model,
		Temperature: &config.RouterConfig.Temperature,
		MaxTokens:   &config.RouterConfig.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating router model")
		return nil, fmt.Errorf("error creating router model: %w", err)
	}

	extraction, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.ExtractionConfig.Model,
		Temperature: &config.ExtractionConfig.Temperature,
		MaxTokens:   &config.ExtractionConfig.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating extraction model")
		return nil, fmt.Errorf("error creating extraction model: %w", err)
	}

	response, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.ResponseConfig.Model,
		Temperature: &config.ResponseConfig.Temperature,
		MaxTokens:   &config.ResponseConfig.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model: %w", err)
	}

	return &ChatModels{
		Router:              router,
		Extraction:          extraction,
		Response:            response,
		RouterModelName:     config.RouterConfig.Model,
		ExtractionModelName: config.ExtractionConfig.Model,
		ResponseModelName:   config.ResponseConfig.Model,
	}, nil
}
