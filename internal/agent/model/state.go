package model

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// Step tags recorded in ConversationState.CurrentStep. A sub-flow router that
// sees its own node name already in CurrentStep must terminate the turn
// instead of re-routing, which is what breaks graph cycles.
const (
	StepEntry            = "entry"
	StepSafetyGate       = "safety_gate"
	StepRefusal          = "manage_unsafe"
	StepSummarize        = "summarize_conversation"
	StepIntentRouter     = "intent_router"
	StepCompanyInfo      = "company_info"
	StepExtractCriteria  = "extract_criteria"
	StepRunQuery         = "run_query"
	StepPickVehicle      = "pick_vehicle"
	StepClearContext     = "clear_context"
	StepSelectVehicle    = "select_vehicle"
	StepExtractTerms     = "extract_terms"
	StepCalculate        = "calculate"
	StepFinancingSummary = "financing_summary"
	StepRespond          = "respond"
)

// VehicleFlowSteps are the step tags owned by the vehicle search flow. A
// conversation whose last completed step is one of these resumes there on the
// next turn instead of going back through intent routing.
var VehicleFlowSteps = []string{
	StepExtractCriteria, StepRunQuery, StepPickVehicle, StepClearContext,
}

// FinancingFlowSteps are the step tags owned by the financing flow. The plan
// summary is deliberately excluded: once a plan has been delivered the next
// turn routes fresh.
var FinancingFlowSteps = []string{
	StepSelectVehicle, StepExtractTerms, StepCalculate,
}

// TurnInput is the public input for one conversation turn.
type TurnInput struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`

	// CorrelationID is assigned by the transport layer for log correlation.
	CorrelationID string `json:"-"`
}

// Vehicle is one catalog record as returned by the catalog collaborator.
// Bluetooth and CarPlay are free text because the underlying schema stores
// feature flags as optional strings ("present"/"absent"/empty).
type Vehicle struct {
	StockID   string  `json:"stock_id"`
	Brand     string  `json:"brand"`
	Model     string  `json:"model"`
	Year      int     `json:"year"`
	Version   string  `json:"version,omitempty"`
	Price     float64 `json:"price"`
	Mileage   int     `json:"mileage,omitempty"`
	Length    float64 `json:"length,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
	Bluetooth string  `json:"bluetooth,omitempty"`
	CarPlay   string  `json:"car_play,omitempty"`
}

// SearchCriteria is the accumulated set of vehicle constraints extracted from
// user text. A nil/empty field means "the user never said" — absence, not
// null, represents unknown, and extraction steps must never write zero values
// for fields they did not see.
type SearchCriteria struct {
	Brands     []string `json:"brands,omitempty"`
	Models     []string `json:"models,omitempty"`
	Versions   []string `json:"versions,omitempty"`
	PriceMin   *float64 `json:"price_min,omitempty"`
	PriceMax   *float64 `json:"price_max,omitempty"`
	YearMin    *int     `json:"year_min,omitempty"`
	YearMax    *int     `json:"year_max,omitempty"`
	MileageMax *int     `json:"mileage_max,omitempty"`
	LengthMin  *float64 `json:"length_min,omitempty"`
	WidthMin   *float64 `json:"width_min,omitempty"`
	HeightMin  *float64 `json:"height_min,omitempty"`
	Bluetooth  *bool    `json:"bluetooth,omitempty"`
	CarPlay    *bool    `json:"car_play,omitempty"`
}

// IsEmpty reports whether no criterion has been extracted yet.
func (c SearchCriteria) IsEmpty() bool {
	return len(c.Brands) == 0 && len(c.Models) == 0 && len(c.Versions) == 0 &&
		c.PriceMin == nil && c.PriceMax == nil &&
		c.YearMin == nil && c.YearMax == nil && c.MileageMax == nil &&
		c.LengthMin == nil && c.WidthMin == nil && c.HeightMin == nil &&
		c.Bluetooth == nil && c.CarPlay == nil
}

// Merge folds a newer extraction into the receiver by presence: only fields
// the new extraction actually carries overwrite existing values. Absent
// fields never erase what an earlier turn established.
func (c *SearchCriteria) Merge(in SearchCriteria) {
	if len(in.Brands) > 0 {
		c.Brands = in.Brands
	}
	if len(in.Models) > 0 {
		c.Models = in.Models
	}
	if len(in.Versions) > 0 {
		c.Versions = in.Versions
	}
	if in.PriceMin != nil {
		c.PriceMin = in.PriceMin
	}
	if in.PriceMax != nil {
		c.PriceMax = in.PriceMax
	}
	if in.YearMin != nil {
		c.YearMin = in.YearMin
	}
	if in.YearMax != nil {
		c.YearMax = in.YearMax
	}
	if in.MileageMax != nil {
		c.MileageMax = in.MileageMax
	}
	if in.LengthMin != nil {
		c.LengthMin = in.LengthMin
	}
	if in.WidthMin != nil {
		c.WidthMin = in.WidthMin
	}
	if in.HeightMin != nil {
		c.HeightMin = in.HeightMin
	}
	if in.Bluetooth != nil {
		c.Bluetooth = in.Bluetooth
	}
	if in.CarPlay != nil {
		c.CarPlay = in.CarPlay
	}
}

// FinancingTerms is the accumulated loan request. Same merge-by-presence rule
// as SearchCriteria.
type FinancingTerms struct {
	Years       *int     `json:"years,omitempty"`
	DownPayment *float64 `json:"down_payment,omitempty"`
}

// Complete reports whether both fields have been extracted.
func (t FinancingTerms) Complete() bool {
	return t.Years != nil && t.DownPayment != nil
}

// Merge folds newer terms into the receiver by presence.
func (t *FinancingTerms) Merge(in FinancingTerms) {
	if in.Years != nil {
		t.Years = in.Years
	}
	if in.DownPayment != nil {
		t.DownPayment = in.DownPayment
	}
}

// ConversationState is the full per-conversation record, loaded and saved at
// the checkpoint boundary once per turn.
//
// Concurrency model:
//   - The struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers
//     (WithStatePreHandler, WithStatePostHandler, compose.ProcessState),
//     which Eino serializes, so no mutex is required.
//   - One turn per conversation runs to completion before the next; the
//     persistence layer never sees concurrent writes for one conversation ID.
type ConversationState struct {
	ConversationID string            `json:"conversation_id"`
	MessageHistory []*schema.Message `json:"message_history,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	CurrentStep    string            `json:"current_step,omitempty"`

	// Per-turn fields, reset by the entry node.
	RawInput    string `json:"raw_input,omitempty"`
	InputSafe   bool   `json:"is_input_safe"`
	OutputSafe  bool   `json:"is_output_safe"`
	WarnVerdict bool   `json:"warn_verdict,omitempty"`

	// Accumulated vehicle-search context. Persists across turns until a
	// new-search request clears it.
	Criteria      SearchCriteria `json:"search_criteria,omitempty"`
	QueryText     string         `json:"query_text,omitempty"`
	SearchResults []Vehicle      `json:"search_results,omitempty"`
	Selected      *Vehicle       `json:"selected_vehicle,omitempty"`

	// Accumulated financing context.
	Terms          FinancingTerms `json:"financing_terms,omitempty"`
	MonthlyPayment *float64       `json:"monthly_payment,omitempty"`

	PendingUserPrompt string `json:"pending_user_prompt,omitempty"`
	FinalReply        string `json:"final_reply,omitempty"`

	// ResumeStep is the step the previous turn ended on, captured by
	// BeginTurn before CurrentStep resets. The intent router uses it to
	// resume a flow that is waiting on the user. Not persisted.
	ResumeStep string `json:"-"`

	// PendingCriteria carries a fresh extraction across the clear-context
	// step within one turn, so resetting the search does not lose the
	// criteria that triggered the reset. Not persisted.
	PendingCriteria *SearchCriteria `json:"-"`

	// CorrelationID ties all log lines of one turn together. Not persisted.
	CorrelationID string `json:"-"`
}

// NewConversationState returns an empty state for a conversation identifier.
func NewConversationState(conversationID string) *ConversationState {
	return &ConversationState{ConversationID: conversationID}
}

// BeginTurn resets per-turn fields and records the inbound message. The step
// the previous turn ended on is preserved in ResumeStep so routing can pick a
// waiting flow back up.
func (s *ConversationState) BeginTurn(raw string) {
	s.ResumeStep = s.CurrentStep
	s.RawInput = raw
	s.InputSafe = false
	s.OutputSafe = false
	s.WarnVerdict = false
	s.PendingUserPrompt = ""
	s.FinalReply = ""
	s.PendingCriteria = nil
	s.CurrentStep = StepEntry
	s.MessageHistory = append(s.MessageHistory, schema.UserMessage(raw))
}

// SelectVehicle records the chosen vehicle. It fails when no search results
// exist, which keeps the selected_vehicle invariant out of reach of a
// confused router.
func (s *ConversationState) SelectVehicle(v Vehicle) error {
	if len(s.SearchResults) == 0 {
		return fmt.Errorf("no search results to select from")
	}
	s.Selected = &v
	return nil
}

// ResetSearch clears the accumulated search context. A new search invalidates
// the prior result set, so the selected vehicle goes with it.
func (s *ConversationState) ResetSearch() {
	s.Criteria = SearchCriteria{}
	s.QueryText = ""
	s.SearchResults = nil
	s.Selected = nil
}

// NeedsCompaction reports whether the history has outgrown the threshold.
func (s *ConversationState) NeedsCompaction(threshold int) bool {
	return len(s.MessageHistory) > threshold
}

// CompactHistory folds everything but the keep most recent messages into the
// given summary. Calling it on an already-short history is a no-op, which
// makes compaction idempotent under replay.
func (s *ConversationState) CompactHistory(summary string, keep int) {
	if keep < 0 {
		keep = 0
	}
	if len(s.MessageHistory) <= keep {
		return
	}
	s.Summary = summary
	tail := make([]*schema.Message, keep)
	copy(tail, s.MessageHistory[len(s.MessageHistory)-keep:])
	s.MessageHistory = tail
}

// InSubFlowStep reports whether CurrentStep matches any of the given node
// names. Routers use it as the re-entrancy guard.
func (s *ConversationState) InSubFlowStep(steps ...string) bool {
	for _, st := range steps {
		if s.CurrentStep == st {
			return true
		}
	}
	return false
}
