package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/drivana/sales-agent/internal/agent/graph/parsers"
	"github.com/drivana/sales-agent/internal/agent/graph/prompts"
	"github.com/drivana/sales-agent/internal/agent/model"
	"github.com/drivana/sales-agent/internal/catalog"
	"github.com/drivana/sales-agent/internal/core/errx"
	logx "github.com/drivana/sales-agent/pkg/logger"
)

// Internal labels a flow node can hand to its branch besides a concrete next
// node. "finish" terminates the sub-flow; the respond node takes over.
const labelFinish = "finish"

const askCriteriaPrompt = "¿Que vehiculo estas buscando? Puedes decirme marca, " +
	"modelo, año o presupuesto."

const askWhichVehiclePrompt = "¿Cual de los vehiculos que te mostre te interesa?"

// criteriaPayload mirrors the JSON contract of the criteria extraction
// prompt. All fields are optional; absence means the user did not say.
type criteriaPayload struct {
	Marca             []string `json:"marca"`
	Modelo            []string `json:"modelo"`
	Version           []string `json:"version"`
	PrecioMinimo      *float64 `json:"precio_minimo"`
	PrecioMaximo      *float64 `json:"precio_maximo"`
	YearMinimo        *int     `json:"year_minimo"`
	YearMaximo        *int     `json:"year_maximo"`
	KilometrajeMaximo *int     `json:"kilometraje_maximo"`
	LargoMinimo       *float64 `json:"largo_minimo"`
	AnchoMinimo       *float64 `json:"ancho_minimo"`
	AltoMinimo        *float64 `json:"alto_minimo"`
	Bluetooth         *bool    `json:"bluetooth"`
	CarPlay           *bool    `json:"car_play"`
	NuevaBusqueda     *bool    `json:"nueva_busqueda"`
	UserResponse      string   `json:"user_response"`
}

func (p criteriaPayload) criteria() model.SearchCriteria {
	return model.SearchCriteria{
		Brands:     p.Marca,
		Models:     p.Modelo,
		Versions:   p.Version,
		PriceMin:   p.PrecioMinimo,
		PriceMax:   p.PrecioMaximo,
		YearMin:    p.YearMinimo,
		YearMax:    p.YearMaximo,
		MileageMax: p.KilometrajeMaximo,
		LengthMin:  p.LargoMinimo,
		WidthMin:   p.AnchoMinimo,
		HeightMin:  p.AltoMinimo,
		Bluetooth:  p.Bluetooth,
		CarPlay:    p.CarPlay,
	}
}

func (p criteriaPayload) wantsNewSearch() bool {
	return p.NuevaBusqueda != nil && *p.NuevaBusqueda
}

// pickPayload is the JSON contract of the vehicle pick prompt.
type pickPayload struct {
	StockID string `json:"stock_id"`
}

// VehicleSearchConfig wires the collaborators of the vehicle search flow.
type VehicleSearchConfig struct {
	Extraction einomodel.BaseChatModel
	Response   einomodel.BaseChatModel
	Catalog    catalog.Store
	Prompt     *model.PromptConfig
	Search     struct {
		MaxResults int
		MaxShown   int
	}
}

// BuildVehicleSearchGraph builds the nested graph for the vehicle search
// flow. It shares the parent graph's conversation state, so it carries no
// local state of its own.
//
// Shape:
//
//	START -> route -+-> extract_criteria -+-> clear_context -+-> run_query -> END
//	                |                     |                  `-> END (nothing left to search)
//	                |                     +-> run_query -> END
//	                |                     `-> END (asking the user)
//	                `-> pick_vehicle -+-> END (vehicle chosen)
//	                                  `-> extract_criteria (treat as refinement)
func BuildVehicleSearchGraph(cfg VehicleSearchConfig) (compose.AnyGraph, error) {
	if cfg.Extraction == nil || cfg.Response == nil || cfg.Catalog == nil || cfg.Prompt == nil {
		return nil, fmt.Errorf("vehicle search flow config is incomplete")
	}

	g := compose.NewGraph[string, string]()

	g.AddLambdaNode(nodeRoute, newVehicleRouteNode())
	g.AddLambdaNode(model.StepExtractCriteria, newExtractCriteriaNode(cfg))
	g.AddLambdaNode(model.StepClearContext, newClearContextNode())
	g.AddLambdaNode(model.StepRunQuery, newRunQueryNode(cfg))
	g.AddLambdaNode(model.StepPickVehicle, newPickVehicleNode(cfg))

	g.AddEdge(compose.START, nodeRoute)
	g.AddEdge(model.StepRunQuery, compose.END)

	if err := g.AddBranch(nodeRoute, compose.NewGraphBranch(labelCondition, map[string]bool{
		model.StepExtractCriteria: true,
		model.StepPickVehicle:     true,
		compose.END:               true,
	})); err != nil {
		return nil, fmt.Errorf("vehicle route branch: %w", err)
	}
	if err := g.AddBranch(model.StepExtractCriteria, compose.NewGraphBranch(labelCondition, map[string]bool{
		model.StepClearContext: true,
		model.StepRunQuery:     true,
		compose.END:            true,
	})); err != nil {
		return nil, fmt.Errorf("extract criteria branch: %w", err)
	}
	if err := g.AddBranch(model.StepClearContext, compose.NewGraphBranch(labelCondition, map[string]bool{
		model.StepRunQuery: true,
		compose.END:        true,
	})); err != nil {
		return nil, fmt.Errorf("clear context branch: %w", err)
	}
	if err := g.AddBranch(model.StepPickVehicle, compose.NewGraphBranch(labelCondition, map[string]bool{
		model.StepExtractCriteria: true,
		compose.END:               true,
	})); err != nil {
		return nil, fmt.Errorf("pick vehicle branch: %w", err)
	}

	return g, nil
}

// newVehicleRouteNode decides where the flow starts this turn. Seeing one of
// the flow's own steps already on CurrentStep means a node of this turn
// already ran, so the flow terminates instead of looping.
func newVehicleRouteNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		label := model.StepExtractCriteria
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			if s.InSubFlowStep(model.VehicleFlowSteps...) {
				label = labelFinish
				return nil
			}
			if len(s.SearchResults) > 0 && s.Selected == nil {
				label = model.StepPickVehicle
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("vehicle route state: %w", err)
		}
		return label, nil
	})
}

// newExtractCriteriaNode extracts search constraints from the message and
// merges them into the accumulated criteria by presence.
func newExtractCriteriaNode(cfg VehicleSearchConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var (
			summary      string
			criteriaJSON string
			hasCriteria  bool
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepExtractCriteria
			summary = s.Summary
			hasCriteria = !s.Criteria.IsEmpty()
			b, err := json.Marshal(s.Criteria)
			if err != nil {
				return fmt.Errorf("marshal criteria: %w", err)
			}
			criteriaJSON = string(b)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("extract criteria state: %w", err)
		}

		system, err := prompts.RenderCriteriaExtract(ctx, cfg.Prompt, summary, criteriaJSON)
		if err != nil {
			return "", err
		}
		raw, err := generate(ctx, cfg.Extraction, system, msg)
		if err != nil {
			return "", errx.WrapGeneration(err)
		}

		payload, ok := parsers.Decode[criteriaPayload](raw)
		if !ok {
			// Tolerant path: nothing extractable in the reply. Re-run
			// an existing search or ask, never fail the turn.
			logx.Warn().Msg("Criteria extraction returned no parseable payload")
			if hasCriteria {
				return model.StepRunQuery, nil
			}
			return askUser(ctx, askCriteriaPrompt)
		}

		extracted := payload.criteria()
		if payload.wantsNewSearch() {
			err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
				s.PendingCriteria = &extracted
				return nil
			})
			if err != nil {
				return "", fmt.Errorf("extract criteria state: %w", err)
			}
			return model.StepClearContext, nil
		}

		var empty bool
		err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.Criteria.Merge(extracted)
			empty = s.Criteria.IsEmpty()
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("extract criteria state: %w", err)
		}
		if empty {
			ask := payload.UserResponse
			if strings.TrimSpace(ask) == "" {
				ask = askCriteriaPrompt
			}
			return askUser(ctx, ask)
		}
		return model.StepRunQuery, nil
	})
}

// newClearContextNode resets the accumulated search and re-applies the
// criteria that triggered the reset, if any.
func newClearContextNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var empty bool
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepClearContext
			s.ResetSearch()
			if s.PendingCriteria != nil {
				s.Criteria.Merge(*s.PendingCriteria)
				s.PendingCriteria = nil
			}
			empty = s.Criteria.IsEmpty()
			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Bool("criteria_empty", empty).
				Msg("Search context cleared")
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("clear context state: %w", err)
		}
		if empty {
			return askUser(ctx, askCriteriaPrompt)
		}
		return model.StepRunQuery, nil
	})
}

// newRunQueryNode executes the catalog search for the accumulated criteria
// and formats the findings into the reply.
func newRunQueryNode(cfg VehicleSearchConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var criteria model.SearchCriteria
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepRunQuery
			criteria = s.Criteria
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("run query state: %w", err)
		}

		queryText, _ := catalog.BuildFilter(criteria, cfg.Search.MaxResults)
		results, err := cfg.Catalog.Search(ctx, criteria, cfg.Search.MaxResults)
		if err != nil {
			return "", err
		}

		shown := results
		if len(shown) > cfg.Search.MaxShown {
			shown = shown[:cfg.Search.MaxShown]
		}
		findings, err := json.Marshal(shown)
		if err != nil {
			return "", fmt.Errorf("marshal findings: %w", err)
		}

		system, err := prompts.RenderSearchRespond(ctx, cfg.Prompt, string(findings), cfg.Search.MaxShown)
		if err != nil {
			return "", err
		}
		reply, err := generate(ctx, cfg.Response, system, msg)
		if err != nil {
			return "", errx.WrapGeneration(err)
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.QueryText = queryText
			s.SearchResults = results
			s.Selected = nil
			s.FinalReply = reply
			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Int("result_count", len(results)).
				Msg("Catalog search finished")
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("run query state: %w", err)
		}
		return labelFinish, nil
	})
}

// newPickVehicleNode matches the user's choice against the last result set.
// An unrecognizable choice falls through to criteria extraction, treating the
// message as a refinement of the search.
func newPickVehicleNode(cfg VehicleSearchConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var (
			results  []model.Vehicle
			findings []byte
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepPickVehicle
			results = s.SearchResults
			b, err := json.Marshal(s.SearchResults)
			if err != nil {
				return fmt.Errorf("marshal findings: %w", err)
			}
			findings = b
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("pick vehicle state: %w", err)
		}

		system, err := prompts.RenderPickVehicle(ctx, cfg.Prompt, string(findings))
		if err != nil {
			return "", err
		}
		raw, err := generate(ctx, cfg.Extraction, system, msg)
		if err != nil {
			return "", errx.WrapGeneration(err)
		}

		payload, ok := parsers.Decode[pickPayload](raw)
		if !ok || strings.TrimSpace(payload.StockID) == "" {
			return model.StepExtractCriteria, nil
		}

		var chosen *model.Vehicle
		for i := range results {
			if results[i].StockID == payload.StockID {
				chosen = &results[i]
				break
			}
		}
		if chosen == nil {
			logx.Warn().Str("stock_id", payload.StockID).Msg("Picked stock id not in shown results")
			return model.StepExtractCriteria, nil
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			if err := s.SelectVehicle(*chosen); err != nil {
				return err
			}
			s.FinalReply = confirmSelectionReply(*chosen)
			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Str("stock_id", chosen.StockID).
				Msg("Vehicle selected")
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("pick vehicle state: %w", err)
		}
		return labelFinish, nil
	})
}

// confirmSelectionReply builds the deterministic confirmation after a pick.
func confirmSelectionReply(v model.Vehicle) string {
	return fmt.Sprintf(
		"¡Excelente eleccion! Apartamos el %s %s %d por $%.2f. "+
			"¿Te gustaria cotizar un plan de financiamiento?",
		v.Brand, v.Model, v.Year, v.Price,
	)
}

// askUser parks the flow on a question for the user.
func askUser(ctx context.Context, question string) (string, error) {
	err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
		s.PendingUserPrompt = question
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ask user state: %w", err)
	}
	return labelFinish, nil
}

// generate runs one system+user exchange against a chat model.
func generate(ctx context.Context, cm einomodel.BaseChatModel, system, user string) (string, error) {
	out, err := cm.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	})
	if err != nil {
		return "", fmt.Errorf("model generate: %w", err)
	}
	if out == nil {
		return "", fmt.Errorf("model generate: empty response")
	}
	return strings.TrimSpace(out.Content), nil
}

// labelCondition turns a node's label output into the branch target. The
// finish label, and any label the branch does not know, end the sub-flow.
func labelCondition(ctx context.Context, label string) (string, error) {
	if label == labelFinish || label == "" {
		return compose.END, nil
	}
	return label, nil
}

const nodeRoute = "route"
