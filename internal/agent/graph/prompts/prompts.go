package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/drivana/sales-agent/internal/agent/model"
)

//go:embed template/intent_router.txt
var intentRouterPrompt string

//go:embed template/summary_create.txt
var summaryCreatePrompt string

//go:embed template/summary_extend.txt
var summaryExtendPrompt string

//go:embed template/criteria_extract.txt
var criteriaExtractPrompt string

//go:embed template/pick_vehicle.txt
var pickVehiclePrompt string

//go:embed template/terms_extract.txt
var termsExtractPrompt string

//go:embed template/financing_summary.txt
var financingSummaryPrompt string

//go:embed template/company_qa.txt
var companyQAPrompt string

//go:embed template/search_respond.txt
var searchRespondPrompt string

//go:embed template/company_info.md
var companyKnowledge string

// CompanyKnowledge returns the grounding document for company Q&A.
func CompanyKnowledge() string {
	return companyKnowledge
}

// RenderIntentRouter renders the routing system prompt with the running
// conversation summary as context.
func RenderIntentRouter(ctx context.Context, promptCfg *model.PromptConfig, summary string) (string, error) {
	if promptCfg == nil {
		return "", fmt.Errorf("prompt config is nil")
	}
	content := strings.NewReplacer(
		"{business_name}", promptCfg.BusinessName,
		"{business_type}", promptCfg.BusinessType,
		"{summary}", summary,
	).Replace(intentRouterPrompt)
	return render(ctx, content)
}

// RenderSummaryCreate renders the prompt that creates a fresh summary from the
// messages about to be compacted.
func RenderSummaryCreate(ctx context.Context, promptCfg *model.PromptConfig) (string, error) {
	if promptCfg == nil {
		return "", fmt.Errorf("prompt config is nil")
	}
	content := strings.NewReplacer(
		"{business_name}", promptCfg.BusinessName,
	).Replace(summaryCreatePrompt)
	return render(ctx, content)
}

// RenderSummaryExtend renders the prompt that folds new messages into an
// existing summary.
func RenderSummaryExtend(ctx context.Context, promptCfg *model.PromptConfig, summary string) (string, error) {
	if promptCfg == nil {
		return "", fmt.Errorf("prompt config is nil")
	}
	content := strings.NewReplacer(
		"{business_name}", promptCfg.BusinessName,
		"{summary}", summary,
	).Replace(summaryExtendPrompt)
	return render(ctx, content)
}

// RenderCriteriaExtract renders the search criteria extraction prompt.
// criteriaJSON is the JSON form of the criteria accumulated so far.
func RenderCriteriaExtract(ctx context.Context, promptCfg *model.PromptConfig, summary, criteriaJSON string) (string, error) {
	if promptCfg == nil {
		return "", fmt.Errorf("prompt config is nil")
	}
	content := strings.NewReplacer(
		"{business_name}", promptCfg.BusinessName,
		"{business_type}", promptCfg.BusinessType,
		"{summary}", summary,
		"{criteria}", criteriaJSON,
	).Replace(criteriaExtractPrompt)
	return render(ctx, content)
}

// RenderPickVehicle renders the prompt that matches the user's choice against
// the vehicles shown in the last search, passed as JSON.
func RenderPickVehicle(ctx context.Context, promptCfg *model.PromptConfig, findingsJSON string) (string, error) {
	if promptCfg == nil {
		return "", fmt.Errorf("prompt config is nil")
	}
	content := strings.NewReplacer(
		"{business_name}", promptCfg.BusinessName,
		"{findings}", findingsJSON,
	).Replace(pickVehiclePrompt)
	return render(ctx, content)
}

// RenderTermsExtract renders the financing terms extraction prompt for the
// selected vehicle, with terms accumulated so far as JSON.
func RenderTermsExtract(ctx context.Context, promptCfg *model.PromptConfig, vehicleJSON, termsJSON string) (string, error) {
	if promptCfg == nil {
		return "", fmt.Errorf("prompt config is nil")
	}
	content := strings.NewReplacer(
		"{business_name}", promptCfg.BusinessName,
		"{vehicle}", vehicleJSON,
		"{terms}", termsJSON,
	).Replace(termsExtractPrompt)
	return render(ctx, content)
}

// RenderFinancingSummary renders the prompt that presents a computed plan,
// passed as JSON, back to the user.
func RenderFinancingSummary(ctx context.Context, promptCfg *model.PromptConfig, planJSON string) (string, error) {
	if promptCfg == nil {
		return "", fmt.Errorf("prompt config is nil")
	}
	content := strings.NewReplacer(
		"{business_name}", promptCfg.BusinessName,
		"{plan}", planJSON,
	).Replace(financingSummaryPrompt)
	return render(ctx, content)
}

// RenderCompanyQA renders the grounded company question answering prompt.
func RenderCompanyQA(ctx context.Context, promptCfg *model.PromptConfig, summary string) (string, error) {
	if promptCfg == nil {
		return "", fmt.Errorf("prompt config is nil")
	}
	content := strings.NewReplacer(
		"{business_name}", promptCfg.BusinessName,
		"{business_type}", promptCfg.BusinessType,
		"{knowledge}", companyKnowledge,
		"{summary}", summary,
	).Replace(companyQAPrompt)
	return render(ctx, content)
}

// RenderSearchRespond renders the prompt that formats search findings, passed
// as JSON, into the reply shown to the user.
func RenderSearchRespond(ctx context.Context, promptCfg *model.PromptConfig, findingsJSON string, maxShown int) (string, error) {
	if promptCfg == nil {
		return "", fmt.Errorf("prompt config is nil")
	}
	content := strings.NewReplacer(
		"{business_name}", promptCfg.BusinessName,
		"{findings}", findingsJSON,
		"{max_shown}", strconv.Itoa(maxShown),
	).Replace(searchRespondPrompt)
	return render(ctx, content)
}

// render wraps the finished prompt via the Eino prompt component using a
// messages placeholder, so Prompt callbacks fire without FString touching the
// JSON braces inside the templates.
func render(ctx context.Context, content string) (string, error) {
	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("prompt callbacks: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("prompt callbacks: empty result")
	}
	return msgs[0].Content, nil
}
