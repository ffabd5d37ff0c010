package nodes

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/drivana/sales-agent/internal/agent/graph/prompts"
	"github.com/drivana/sales-agent/internal/agent/model"
	"github.com/drivana/sales-agent/internal/core/errx"
	"github.com/drivana/sales-agent/internal/safety"
	logx "github.com/drivana/sales-agent/pkg/logger"
)

// Node names of the top-level graph. Flow nodes reuse their step tags so logs
// read the same whether they come from routing or from state.
const (
	NodeEntry         = model.StepEntry
	NodeSafetyGate    = model.StepSafetyGate
	NodeRefusal       = model.StepRefusal
	NodeSummarize     = model.StepSummarize
	NodeIntentRouter  = model.StepIntentRouter
	NodeCompanyInfo   = model.StepCompanyInfo
	NodeVehicleSearch = "vehicle_search"
	NodeFinancing     = "financing"
	NodeRespond       = model.StepRespond
)

// Route labels the intent router may emit. They intentionally match the node
// names they lead to.
const (
	RouteCompanyInfo   = NodeCompanyInfo
	RouteVehicleSearch = NodeVehicleSearch
	RouteFinancing     = NodeFinancing
)

// RefusalMessage is the fixed reply for blocked input. It never echoes any of
// the user's text.
const RefusalMessage = "Lo siento, no puedo ayudarte con esa solicitud. " +
	"Con gusto te apoyo a buscar un vehiculo o a cotizar un financiamiento."

// fallbackReply covers the case where a flow terminated without producing a
// reply, which should not happen but must never reach the user as silence.
const fallbackReply = "Disculpa, no logre procesar tu mensaje. " +
	"¿Podrias decirme que vehiculo buscas o en que puedo ayudarte?"

// NewEntryPreHandler loads the persisted conversation and starts the turn on
// the graph-local state.
func NewEntryPreHandler(repo model.StateRepository) func(context.Context, model.TurnInput, *model.ConversationState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.ConversationState) (model.TurnInput, error) {
		loaded, err := repo.LoadOrCreate(ctx, in.ConversationID)
		if err != nil {
			return in, fmt.Errorf("load conversation %s: %w", in.ConversationID, err)
		}
		*s = *loaded
		s.CorrelationID = in.CorrelationID
		s.BeginTurn(in.Message)

		logx.Debug().
			Str("conversation_id", s.ConversationID).
			Str("correlation_id", s.CorrelationID).
			Int("history_len", len(s.MessageHistory)).
			Str("resume_step", s.ResumeStep).
			Msg("Turn started")
		return in, nil
	}
}

// NewEntryNode passes the raw message downstream; the real work happened in
// the pre-handler.
func NewEntryNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (string, error) {
		return in.Message, nil
	})
}

// NewSafetyGateNode screens the inbound message and records the verdict on
// state. The message itself flows through unchanged.
func NewSafetyGateNode(gate *safety.Gate) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		verdict := gate.Screen(ctx, msg)

		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepSafetyGate
			s.InputSafe = !verdict.Blocked()
			s.WarnVerdict = verdict == safety.VerdictWarn
			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Str("verdict", string(verdict)).
				Bool("input_safe", s.InputSafe).
				Msg("Safety gate verdict")
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("safety gate state: %w", err)
		}
		return msg, nil
	})
}

// NewSafetyCondition routes blocked input to the refusal node and everything
// else onward to the summarizer.
func NewSafetyCondition() func(context.Context, string) (string, error) {
	return func(ctx context.Context, _ string) (string, error) {
		next := NodeRefusal
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			if s.InputSafe {
				next = NodeSummarize
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("safety condition state: %w", err)
		}
		return next, nil
	}
}

// NewRefusalNode sets the fixed refusal reply. The user's text is never fed
// to any model on this path.
func NewRefusalNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepRefusal
			s.FinalReply = RefusalMessage
			logx.Info().
				Str("conversation_id", s.ConversationID).
				Msg("Input blocked, refusing turn")
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("refusal state: %w", err)
		}
		return msg, nil
	})
}

// NewSummarizeNode compacts the history into the running summary once it
// outgrows the threshold. Below the threshold it is a pass-through.
func NewSummarizeNode(cm einomodel.BaseChatModel, promptCfg *model.PromptConfig, convCfg model.ConversationConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var (
			needed     bool
			hasSummary bool
			summary    string
			toCompact  []*schema.Message
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepSummarize
			if !s.NeedsCompaction(convCfg.History.CompactionThreshold) {
				return nil
			}
			needed = true
			hasSummary = s.Summary != ""
			summary = s.Summary
			keep := convCfg.History.KeepRecent
			if keep > len(s.MessageHistory) {
				keep = len(s.MessageHistory)
			}
			toCompact = s.MessageHistory[:len(s.MessageHistory)-keep]
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("summarize state: %w", err)
		}
		if !needed {
			return msg, nil
		}

		var system string
		if hasSummary {
			system, err = prompts.RenderSummaryExtend(ctx, promptCfg, summary)
		} else {
			system, err = prompts.RenderSummaryCreate(ctx, promptCfg)
		}
		if err != nil {
			return "", err
		}

		newSummary, err := generateText(ctx, cm, system, renderHistory(toCompact))
		if err != nil {
			// A failed summary should not kill the turn; keep the
			// full history and move on.
			logx.Warn().Err(err).Msg("Summary generation failed, keeping full history")
			return msg, nil
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CompactHistory(newSummary, convCfg.History.KeepRecent)
			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Int("history_len", len(s.MessageHistory)).
				Msg("History compacted into summary")
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("summarize state: %w", err)
		}
		return msg, nil
	})
}

// NewIntentRouterNode decides which flow handles the turn. A conversation
// parked mid-flow resumes there without consulting the model; otherwise the
// router model classifies the message into one of the three route labels,
// falling back to company info on anything unrecognized.
func NewIntentRouterNode(cm einomodel.BaseChatModel, promptCfg *model.PromptConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var (
			resume  string
			summary string
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepIntentRouter
			summary = s.Summary
			// A completed selection releases the vehicle flow: the next
			// message is usually about financing or something new.
			for _, st := range model.VehicleFlowSteps {
				if s.ResumeStep == st && s.Selected == nil {
					resume = RouteVehicleSearch
				}
			}
			for _, st := range model.FinancingFlowSteps {
				if s.ResumeStep == st {
					resume = RouteFinancing
				}
			}
			if resume != "" {
				logx.Debug().
					Str("conversation_id", s.ConversationID).
					Str("resume_step", s.ResumeStep).
					Str("route", resume).
					Msg("Resuming flow from previous turn")
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("intent router state: %w", err)
		}
		if resume != "" {
			return resume, nil
		}

		system, err := prompts.RenderIntentRouter(ctx, promptCfg, summary)
		if err != nil {
			return "", err
		}
		raw, err := generateText(ctx, cm, system, msg)
		if err != nil {
			logx.Warn().Err(err).Msg("Intent routing failed, defaulting to company info")
			return RouteCompanyInfo, nil
		}
		return normalizeRouteLabel(raw), nil
	})
}

// NewIntentCondition maps the router's label to the target node. Labels equal
// node names, so this is a membership check with a safe default.
func NewIntentCondition() func(context.Context, string) (string, error) {
	return func(ctx context.Context, label string) (string, error) {
		switch label {
		case RouteCompanyInfo, RouteVehicleSearch, RouteFinancing:
			return label, nil
		}
		logx.Warn().Str("label", label).Msg("Unknown route label, defaulting to company info")
		return RouteCompanyInfo, nil
	}
}

// NewCompanyInfoNode answers company questions grounded on the embedded
// knowledge document.
func NewCompanyInfoNode(cm einomodel.BaseChatModel, promptCfg *model.PromptConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg string) (string, error) {
		var summary string
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			summary = s.Summary
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("company info state: %w", err)
		}

		system, err := prompts.RenderCompanyQA(ctx, promptCfg, summary)
		if err != nil {
			return "", err
		}
		reply, err := generateText(ctx, cm, system, msg)
		if err != nil {
			return "", errx.WrapGeneration(err)
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.ConversationState) error {
			s.CurrentStep = model.StepCompanyInfo
			s.FinalReply = reply
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("company info state: %w", err)
		}
		return msg, nil
	})
}

// NewRespondNode finalizes the reply, screens it on the pattern tier, appends
// it to the history and persists the conversation. Its output is the graph
// output.
func NewRespondNode(repo model.StateRepository) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ string) (string, error) {
		var reply string
		err := compose.ProcessState(ctx, func(stateCtx context.Context, s *model.ConversationState) error {
			if s.FinalReply == "" {
				if s.PendingUserPrompt != "" {
					s.FinalReply = s.PendingUserPrompt
				} else {
					logx.Warn().
						Str("conversation_id", s.ConversationID).
						Str("step", s.CurrentStep).
						Msg("Flow produced no reply, using fallback")
					s.FinalReply = fallbackReply
				}
			}

			// Outbound text gets the cheap tier only; it is our own
			// generation, not user input. Listings are digit-heavy, so
			// the PII patterns do not apply here.
			if v, category := safety.OutputPatternVerdict(s.FinalReply); v.Blocked() {
				logx.Warn().
					Str("conversation_id", s.ConversationID).
					Str("category", category).
					Msg("Generated reply blocked by output screen")
				s.FinalReply = RefusalMessage
				s.OutputSafe = false
			} else {
				s.OutputSafe = true
			}

			s.MessageHistory = append(s.MessageHistory, schema.AssistantMessage(s.FinalReply, nil))
			reply = s.FinalReply

			if err := repo.Save(stateCtx, s); err != nil {
				return fmt.Errorf("save conversation %s: %w", s.ConversationID, err)
			}
			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Str("correlation_id", s.CorrelationID).
				Str("step", s.CurrentStep).
				Msg("Turn finished")
			return nil
		})
		if err != nil {
			return "", err
		}
		return reply, nil
	})
}
