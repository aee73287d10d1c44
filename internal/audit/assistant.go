package audit

import (
	"context"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
	"github.com/nexus-fiscal/fiscal-cli/pkg/xai"
)

// XAIAssistant adapts the xai client to the Assistant interface.
type XAIAssistant struct {
	client xai.Client
}

func NewXAIAssistant(client xai.Client) *XAIAssistant {
	return &XAIAssistant{client: client}
}

func (a *XAIAssistant) Explanations(ctx context.Context, findings []model.AuditIssue, meta map[string]string) (map[string]string, error) {
	converted := make([]xai.Finding, len(findings))
	for i, f := range findings {
		converted[i] = xai.Finding{Code: f.Code, Message: f.Message, Details: f.Details}
	}
	return a.client.Explain(ctx, converted, meta)
}
