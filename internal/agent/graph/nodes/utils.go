package nodes

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// generateText runs a single system+user exchange and returns the trimmed
// content. All nodes that talk to a model go through here.
func generateText(ctx context.Context, cm einomodel.BaseChatModel, system, user string) (string, error) {
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

// renderHistory flattens messages into the role-prefixed transcript the
// summarizer consumes.
func renderHistory(msgs []*schema.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case schema.User:
			b.WriteString("Usuario: ")
		case schema.Assistant:
			b.WriteString("Asistente: ")
		default:
			continue
		}
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n")
	}
	return b.String()
}

// normalizeRouteLabel maps raw router output onto the closed label set.
// Anything that does not contain exactly one known label becomes the company
// info route.
func normalizeRouteLabel(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, "\"'`.")

	switch cleaned {
	case RouteCompanyInfo, RouteVehicleSearch, RouteFinancing:
		return cleaned
	}

	// Routers occasionally wrap the label in prose; accept it only when a
	// single label appears.
	var found string
	for _, label := range []string{RouteCompanyInfo, RouteVehicleSearch, RouteFinancing} {
		if strings.Contains(cleaned, label) {
			if found != "" {
				return RouteCompanyInfo
			}
			found = label
		}
	}
	if found != "" {
		return found
	}
	return RouteCompanyInfo
}
