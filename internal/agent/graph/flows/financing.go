package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	"github.com/drivana/sales-agent/internal/agent/graph/parsers"
	"github.com/drivana/sales-agent/internal/agent/graph/prompts"
	"github.com/drivana/sales-agent/internal/agent/model"
	"github.com/drivana/sales-agent/internal/core/errx"
	logx "github.com/drivana/sales-agent/pkg/logger"
)

const (
	minLoanYears = 1
	maxLoanYears = 7
)

const askSearchFirstPrompt = "Para cotizar un financiamiento primero necesito " +
	"saber que vehiculo te interesa. ¿Quieres que busquemos uno?"

const askTermsPrompt = "Para calcular tu mensualidad necesito saber el plazo " +
	"en años y el enganche que tienes pensado."

// termsPayload mirrors the JSON contract of the terms extraction prompt.
type termsPayload struct {
	Years        *int     `json:"years"`
	Enganche     *float64 `json:"enganche"`
	UserResponse string   `json:"user_response"`
}

func (p termsPayload) terms() model.FinancingTerms {
	return model.FinancingTerms{Years: p.Years, DownPayment: p.Enganche}
}

// financingPlan is what the summary prompt receives, serialized as JSON.
type financingPlan struct {
	Vehicle        model.Vehicle `json:"vehiculo"`
	Price          float64       `json:"precio"`
	DownPayment    float64       `json:"enganche"`
	Years          int           `json:"years"`
	AnnualRate     float64       `json:"tasa_anual"`
	MonthlyPayment float64       `json:"mensualidad"`
}

// FinancingConfig wires the collaborators of the financing flow.
type FinancingConfig struct {
	Extraction einomodel.BaseChatModel
	Response   einomodel.BaseChatModel
	Prompt     *model.PromptConfig
	AnnualRate float64
}

// MonthlyPayment computes the fixed monthly installment for a loan of the
// given principal over years at the annual rate, using standard French
// amortization. A zero rate degrades to straight division.
func MonthlyPayment(principal, annualRate float64, years int) float64 {
	months := float64(years * 12)
	monthlyRate := annualRate / 12
	if monthlyRate == 0 {
		return principal / months
	}
	factor := math.Pow(1+monthlyRate, months)
	return principal * monthlyRate * factor / (factor - 1)
}

// BuildFinancingGraph builds the nested graph for the financing flow. Like
// the vehicle search flow it shares the parent's conversation state.
//
// Shape:
//
//	START -> route -+-> select_vehicle -+-> extract_terms -+-> calculate -+-> financing_summary -> END
//	                |                   `-> END (asking)   `-> END (ask)  `-> END (invalid terms)
//	                `-> extract_terms ...
func BuildFinancingGraph(cfg FinancingConfig) (compose.AnyGraph, error) {
	if cfg.Extraction == nil || cfg.Response == nil || cfg.Prompt == nil {
		return nil, fmt.Errorf("financing flow config is incomplete")
	}
	if cfg.AnnualRate < 0 {
		return nil, fmt.Errorf("annual rate must not be negative")
	}

	g := compose.NewGraph[string, string]()

	g.AddLambdaNode(nodeRoute, newFinancingRouteNode())
	g.AddLambdaNode(model.StepSelectVehicle, newSelectVehicleNode(cfg))
	g.AddLambdaNode(model.StepExtractTerms, newExtractTermsNode(cfg))
	g.AddLambdaNode(model.StepCalculate, newCalculateNode(cfg))
	g.AddLambdaNode(model.StepFinancingSummary, newFinancingSummaryNode(cfg))

	g.AddEdge(compose.START, nodeRoute)
	g.AddEdge(model.StepFinancingSummary, compose.END)

	if err := g.AddBranch(nodeRoute, compose.NewGraphBranch(labelCondition, map[string]bool{
		model.StepSelectVehicle: true,
		model.StepExtractTerms:  true,
		compose.END:             true,
	})); err != nil {
		return nil, fmt.Errorf("financing route branch: %w", err)
	}
	if err := g.AddBranch(model.StepSelectVehicle, compose.NewGraphBranch(labelCondition, map[string]bool{
		model.StepExtractTerms: true,
		compose.END:            true,
	})); err != nil {
		return nil, fmt.Errorf("select vehicle branch: %w", err)
	}
	if err := g.AddBranch(model.StepExtractTerms, compose.NewGraphBranch(labelCondition, map[string]bool{
		model.StepCalculate: true,
		compose.END:         true,
	})); err != nil {
		return nil, fmt.Errorf("extract terms branch: %w", err)
	}
	if err := g.AddBranch(model.StepCalculate, compose.NewGraphBranch(labelCondition, map[string]bool{
		model.StepFinancingSummary: true,
		compose.END:                true,
	})); err != nil {
		return nil, fmt.Errorf("calculate branch: %w", err)
	}

	return g, nil
}

// newFinancingRouteNode starts the flow at vehicle selection when no vehicle
// has been chosen yet, otherwise at terms extraction.
func newFinancingRouteNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		label := model.StepExtractTerms
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			if s.InSubFlowStep(model.FinancingFlowSteps...) {
				label = labelFinish
				return nil
			}
			if s.Selected == nil {
				label = model.StepSelectVehicle
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("financing route state: %w", err)
		}
		return label, nil
	})
}

// newSelectVehicleNode resolves which vehicle to finance. Without prior
// search results there is nothing to select from, so the flow parks on a
// question instead of guessing.
func newSelectVehicleNode(cfg FinancingConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var (
			results  []model.Vehicle
			findings []byte
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepSelectVehicle
			results = s.SearchResults
			b, err := json.Marshal(s.SearchResults)
			if err != nil {
				return fmt.Errorf("marshal findings: %w", err)
			}
			findings = b
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("select vehicle state: %w", err)
		}

		if len(results) == 0 {
			return askUser(ctx, askSearchFirstPrompt)
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
			return askUser(ctx, askWhichVehiclePrompt)
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
			return askUser(ctx, askWhichVehiclePrompt)
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			return s.SelectVehicle(*chosen)
		})
		if err != nil {
			return "", fmt.Errorf("select vehicle state: %w", err)
		}
		return model.StepExtractTerms, nil
	})
}

// newExtractTermsNode extracts loan years and down payment from the message
// and merges them by presence, asking for whatever is still missing.
func newExtractTermsNode(cfg FinancingConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var (
			vehicleJSON []byte
			termsJSON   []byte
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepExtractTerms
			if s.Selected == nil {
				return fmt.Errorf("no vehicle selected for financing")
			}
			vb, err := json.Marshal(s.Selected)
			if err != nil {
				return fmt.Errorf("marshal vehicle: %w", err)
			}
			tb, err := json.Marshal(s.Terms)
			if err != nil {
				return fmt.Errorf("marshal terms: %w", err)
			}
			vehicleJSON, termsJSON = vb, tb
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("extract terms state: %w", err)
		}

		system, err := prompts.RenderTermsExtract(ctx, cfg.Prompt, string(vehicleJSON), string(termsJSON))
		if err != nil {
			return "", err
		}
		raw, err := generate(ctx, cfg.Extraction, system, msg)
		if err != nil {
			return "", errx.WrapGeneration(err)
		}

		payload, ok := parsers.Decode[termsPayload](raw)
		var complete bool
		err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			if ok {
				s.Terms.Merge(payload.terms())
			}
			complete = s.Terms.Complete()
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("extract terms state: %w", err)
		}
		if !complete {
			ask := payload.UserResponse
			if strings.TrimSpace(ask) == "" {
				ask = askTermsPrompt
			}
			return askUser(ctx, ask)
		}
		return model.StepCalculate, nil
	})
}

// newCalculateNode validates the terms against the selected vehicle and
// computes the monthly payment. The preconditions are re-checked here even
// though routing already enforced them.
func newCalculateNode(cfg FinancingConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		label := model.StepFinancingSummary
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepCalculate
			if s.Selected == nil || !s.Terms.Complete() {
				return fmt.Errorf("calculate reached without vehicle or complete terms")
			}

			years := *s.Terms.Years
			down := *s.Terms.DownPayment
			price := s.Selected.Price

			if years < minLoanYears || years > maxLoanYears {
				s.Terms.Years = nil
				s.PendingUserPrompt = fmt.Sprintf(
					"Los planes de credito van de %d a %d años. ¿Que plazo te acomoda?",
					minLoanYears, maxLoanYears,
				)
				label = labelFinish
				return nil
			}
			if down < 0 || down >= price {
				s.Terms.DownPayment = nil
				s.PendingUserPrompt = fmt.Sprintf(
					"El enganche debe ser menor al precio del vehiculo ($%.2f). ¿Cuanto puedes dar de enganche?",
					price,
				)
				label = labelFinish
				return nil
			}

			monthly := MonthlyPayment(price-down, cfg.AnnualRate, years)
			s.MonthlyPayment = &monthly
			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Float64("monthly_payment", monthly).
				Int("years", years).
				Msg("Financing plan calculated")
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("calculate state: %w", err)
		}
		return label, nil
	})
}

// newFinancingSummaryNode turns the computed plan into the reply.
func newFinancingSummaryNode(cfg FinancingConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var plan financingPlan
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepFinancingSummary
			if s.Selected == nil || !s.Terms.Complete() || s.MonthlyPayment == nil {
				return fmt.Errorf("financing summary reached without a computed plan")
			}
			plan = financingPlan{
				Vehicle:        *s.Selected,
				Price:          s.Selected.Price,
				DownPayment:    *s.Terms.DownPayment,
				Years:          *s.Terms.Years,
				AnnualRate:     cfg.AnnualRate,
				MonthlyPayment: math.Round(*s.MonthlyPayment*100) / 100,
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("financing summary state: %w", err)
		}

		planJSON, err := json.Marshal(plan)
		if err != nil {
			return "", fmt.Errorf("marshal plan: %w", err)
		}
		system, err := prompts.RenderFinancingSummary(ctx, cfg.Prompt, string(planJSON))
		if err != nil {
			return "", err
		}
		reply, err := generate(ctx, cfg.Response, system, msg)
		if err != nil {
			return "", errx.WrapGeneration(err)
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.FinalReply = reply
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("financing summary state: %w", err)
		}
		return labelFinish, nil
	})
}
