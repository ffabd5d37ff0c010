package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/drivana/sales-agent/internal/agent/graph/flows"
	"github.com/drivana/sales-agent/internal/agent/graph/nodes"
	"github.com/drivana/sales-agent/internal/agent/graph/observers"
	"github.com/drivana/sales-agent/internal/agent/model"
	"github.com/drivana/sales-agent/internal/catalog"
	"github.com/drivana/sales-agent/internal/safety"
	logx "github.com/drivana/sales-agent/pkg/logger"
)

// Runner executes one conversation turn against the compiled graph.
type Runner interface {
	Invoke(ctx context.Context, in model.TurnInput) (string, error)
}

// Config holds everything needed to compose the full conversation graph
// end-to-end. This is a convenience layer over GraphConfig that also
// constructs the chat models.
type Config struct {
	APIKey  string
	BaseURL string

	RouterModel     model.RouterModelConfig
	ExtractionModel model.ExtractionModelConfig
	ResponseModel   model.ResponseModelConfig

	Prompt       model.PromptConfig
	Conversation model.ConversationConfig
	Financing    model.FinancingConfig

	StateRepo model.StateRepository
	Catalog   catalog.Store

	// Checkpoints is optional; when set, interrupted runs can resume.
	Checkpoints compose.CheckPointStore
}

// GraphConfig holds the constructed collaborators the graph wires together.
type GraphConfig struct {
	ChatModels   *nodes.ChatModels
	SafetyGate   *safety.Gate
	StateRepo    model.StateRepository
	Catalog      catalog.Store
	Prompt       *model.PromptConfig
	Conversation model.ConversationConfig
	Financing    model.FinancingConfig
	Checkpoints  compose.CheckPointStore
}

// GraphBuilder handles the construction of the conversation graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.TurnInput, string]
}

type graphRunner struct {
	runnable    compose.Runnable[model.TurnInput, string]
	checkpoints bool
}

func (r *graphRunner) Invoke(ctx context.Context, in model.TurnInput) (string, error) {
	opts := []compose.Option{compose.WithCallbacks(observers.NewAllCallbacks())}
	if r.checkpoints {
		// One checkpoint per conversation: re-invoking with the same
		// conversation ID picks up an interrupted run.
		opts = append(opts, compose.WithCheckPointID(in.ConversationID))
	}
	return r.runnable.Invoke(ctx, in, opts...)
}

// BuildConversationGraph composes the chat models, builds the graph and
// returns a Runner.
func BuildConversationGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.StateRepo == nil {
		return nil, fmt.Errorf("state repository is nil")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog store is nil")
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:           cfg.APIKey,
		BaseURL:          cfg.BaseURL,
		RouterConfig:     &cfg.RouterModel,
		ExtractionConfig: &cfg.ExtractionModel,
		ResponseConfig:   &cfg.ResponseModel,
	})
	if err != nil {
		return nil, err
	}

	runnable, err := BuildGraph(ctx, &GraphConfig{
		ChatModels:   cms,
		SafetyGate:   safety.NewGate(cms.Router),
		StateRepo:    cfg.StateRepo,
		Catalog:      cfg.Catalog,
		Prompt:       &cfg.Prompt,
		Conversation: cfg.Conversation,
		Financing:    cfg.Financing,
		Checkpoints:  cfg.Checkpoints,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Conversation graph built successfully")
	return &graphRunner{runnable: runnable, checkpoints: cfg.Checkpoints != nil}, nil
}

// BuildGraph constructs and returns the compiled conversation graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.TurnInput, string], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModels == nil || config.ChatModels.Router == nil ||
		config.ChatModels.Extraction == nil || config.ChatModels.Response == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if config.SafetyGate == nil {
		return nil, fmt.Errorf("safety gate is nil")
	}
	if config.StateRepo == nil || config.Catalog == nil {
		return nil, fmt.Errorf("state repository or catalog is nil")
	}
	if config.Prompt == nil {
		return nil, fmt.Errorf("prompt config is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.TurnInput, string](
			compose.WithGenLocalState(func(ctx context.Context) *model.ConversationState {
				return &model.ConversationState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}

	builder.addEdges()

	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes, including the two nested flow graphs,
// to the graph
func (b *GraphBuilder) addNodes() error {
	cfg := b.config

	b.graph.AddLambdaNode(nodes.NodeEntry,
		nodes.NewEntryNode(),
		compose.WithStatePreHandler(nodes.NewEntryPreHandler(cfg.StateRepo)),
	)

	b.graph.AddLambdaNode(nodes.NodeSafetyGate,
		nodes.NewSafetyGateNode(cfg.SafetyGate),
	)

	b.graph.AddLambdaNode(nodes.NodeRefusal,
		nodes.NewRefusalNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeSummarize,
		nodes.NewSummarizeNode(cfg.ChatModels.Extraction, cfg.Prompt, cfg.Conversation),
	)

	b.graph.AddLambdaNode(nodes.NodeIntentRouter,
		nodes.NewIntentRouterNode(cfg.ChatModels.Router, cfg.Prompt),
	)

	b.graph.AddLambdaNode(nodes.NodeCompanyInfo,
		nodes.NewCompanyInfoNode(cfg.ChatModels.Response, cfg.Prompt),
	)

	vehicleCfg := flows.VehicleSearchConfig{
		Extraction: cfg.ChatModels.Extraction,
		Response:   cfg.ChatModels.Response,
		Catalog:    cfg.Catalog,
		Prompt:     cfg.Prompt,
	}
	vehicleCfg.Search.MaxResults = cfg.Conversation.Search.MaxResults
	vehicleCfg.Search.MaxShown = cfg.Conversation.Search.MaxShown
	vehicleGraph, err := flows.BuildVehicleSearchGraph(vehicleCfg)
	if err != nil {
		return fmt.Errorf("build vehicle search flow: %w", err)
	}
	b.graph.AddGraphNode(nodes.NodeVehicleSearch, vehicleGraph)

	financingGraph, err := flows.BuildFinancingGraph(flows.FinancingConfig{
		Extraction: cfg.ChatModels.Extraction,
		Response:   cfg.ChatModels.Response,
		Prompt:     cfg.Prompt,
		AnnualRate: cfg.Financing.AnnualRate,
	})
	if err != nil {
		return fmt.Errorf("build financing flow: %w", err)
	}
	b.graph.AddGraphNode(nodes.NodeFinancing, financingGraph)

	b.graph.AddLambdaNode(nodes.NodeRespond,
		nodes.NewRespondNode(cfg.StateRepo),
	)

	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() {
	edges := [][2]string{
		{compose.START, nodes.NodeEntry},
		{nodes.NodeEntry, nodes.NodeSafetyGate},
		{nodes.NodeRefusal, nodes.NodeRespond},
		{nodes.NodeSummarize, nodes.NodeIntentRouter},
		{nodes.NodeCompanyInfo, nodes.NodeRespond},
		{nodes.NodeVehicleSearch, nodes.NodeRespond},
		{nodes.NodeFinancing, nodes.NodeRespond},
		{nodes.NodeRespond, compose.END},
	}

	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	safetyBranch := compose.NewGraphBranch(
		nodes.NewSafetyCondition(),
		map[string]bool{
			nodes.NodeRefusal:   true,
			nodes.NodeSummarize: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeSafetyGate, safetyBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding safety branch")
		return fmt.Errorf("error adding safety branch: %w", err)
	}

	intentBranch := compose.NewGraphBranch(
		nodes.NewIntentCondition(),
		map[string]bool{
			nodes.NodeCompanyInfo:   true,
			nodes.NodeVehicleSearch: true,
			nodes.NodeFinancing:     true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeIntentRouter, intentBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding intent branch")
		return fmt.Errorf("error adding intent branch: %w", err)
	}

	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, string], error) {
	// A turn visits at most a handful of nodes per graph level; this limit
	// only exists to stop a miswired branch from spinning.
	opts := []compose.GraphCompileOption{compose.WithMaxRunSteps(30)}
	if b.config.Checkpoints != nil {
		opts = append(opts, compose.WithCheckPointStore(b.config.Checkpoints))
	}

	runnable, err := b.graph.Compile(ctx, opts...)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
