package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// Assistant produces contextual explanations for audit findings,
// keyed by rule code. Implemented by pkg/xai.
type Assistant interface {
	Explanations(ctx context.Context, findings []model.AuditIssue, meta map[string]string) (map[string]string, error)
}

// Explainer attaches an explanation to every finding in a report.
// With no assistant configured it always uses the deterministic
// offline wording, so pipelines never block on external calls.
type Explainer struct {
	assistant Assistant
}

func NewExplainer(assistant Assistant) *Explainer {
	return &Explainer{assistant: assistant}
}

func offlineMessage(issue model.AuditIssue, segment string) string {
	normative := issue.NormativeBase
	if normative == "" {
		normative = "Referência normativa não informada"
	}
	resumo := "sem detalhes adicionais"
	if len(issue.Details) > 0 {
		keys := make([]string, 0, len(issue.Details))
		for k := range issue.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, issue.Details[k]))
		}
		resumo = strings.Join(pairs, ", ")
	}
	if segment == "" {
		segment = "geral"
	}
	return fmt.Sprintf("%s. Base: %s. Segmento: %s. Detalhes: %s.", issue.Message, normative, segment, resumo)
}

// Enrich fills the Explanation field of every inconsistency in place.
// Remote failures fall back to the offline wording per finding.
func (ex *Explainer) Enrich(ctx context.Context, report *model.AuditReport, data model.DocumentData) {
	if report == nil || len(report.Inconsistencies) == 0 {
		return
	}
	segment := InferSegment(data)

	var remote map[string]string
	if ex.assistant != nil {
		var err error
		remote, err = ex.assistant.Explanations(ctx, report.Inconsistencies, map[string]string{"segmento": segment})
		if err != nil {
			zap.L().Warn("assistant explanations unavailable, using offline wording", zap.Error(err))
			remote = nil
		}
	}

	for i := range report.Inconsistencies {
		issue := &report.Inconsistencies[i]
		if text, ok := remote[issue.Code]; ok && text != "" {
			issue.Explanation = text
			continue
		}
		issue.Explanation = offlineMessage(*issue, segment)
	}
}
