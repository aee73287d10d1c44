package audit

import (
	"context"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// Service bundles the rule engine with the explanation step, which is
// part of the audit boundary as far as the pipeline is concerned.
type Service struct {
	engine    *Engine
	explainer *Explainer
}

func NewService(engine *Engine, explainer *Explainer) *Service {
	return &Service{engine: engine, explainer: explainer}
}

func (s *Service) Audit(ctx context.Context, doc *model.Document) (*model.AuditReport, error) {
	report := s.engine.Audit(doc)
	if s.explainer != nil {
		s.explainer.Enrich(ctx, report, doc.Data)
	}
	return report, nil
}
