package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nexus-fiscal/fiscal-cli/internal/classify"
	"github.com/nexus-fiscal/fiscal-cli/internal/extract"
	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// Auditor runs the conformity rules over a document, including the
// explanation enrichment.
type Auditor interface {
	Audit(ctx context.Context, doc *model.Document) (*model.AuditReport, error)
}

// Classifier labels a document with operation and branch.
type Classifier interface {
	Classify(ctx context.Context, doc *model.Document, override *classify.Override) (*model.ClassificationResult, error)
}

// TaxComputer produces the fiscal apuration for a document.
type TaxComputer interface {
	Compute(ctx context.Context, doc *model.Document) (*model.TaxResult, error)
}

// TaxFunc adapts a plain function to the TaxComputer interface.
type TaxFunc func(doc *model.Document) (*model.TaxResult, error)

func (f TaxFunc) Compute(_ context.Context, doc *model.Document) (*model.TaxResult, error) {
	return f(doc)
}

// Collaborators groups the stage implementations the pipeline drives.
type Collaborators struct {
	Extractor  extract.Extractor
	Auditor    Auditor
	Classifier Classifier
	Tax        TaxComputer
}

// publishFunc forwards a finalized stage event tagged with the owning
// document. May be nil when nobody is listening.
type publishFunc func(documentID string, ev model.StageEvent)

// docLogger accumulates a document's event log. Stages finish
// concurrently, so appends are serialized.
type docLogger struct {
	mu     sync.Mutex
	events []model.StageEvent
}

func (l *docLogger) append(ev model.StageEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *docLogger) snapshot() []model.StageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.StageEvent, len(l.events))
	copy(out, l.events)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// processDocument runs one document through extraction and the
// analysis fan-out under the batch gate. The returned log is always
// populated, even when processing fails.
func (r *Runner) processDocument(ctx context.Context, doc *model.Document, batchGate *semaphore.Weighted, publish publishFunc) (*model.DocumentReport, *model.DocumentLog, error) {
	if err := batchGate.Acquire(ctx, 1); err != nil {
		return nil, &model.DocumentLog{DocumentID: doc.ID, Name: doc.Name, Events: []model.StageEvent{}}, err
	}
	defer batchGate.Release(1)

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	zap.L().Info("document processing started", zap.String("document_id", doc.ID), zap.String("kind", string(doc.Kind)))

	logger := &docLogger{}
	sink := func(ev model.StageEvent) {
		logger.append(ev)
		if publish != nil {
			publish(doc.ID, ev)
		}
		zap.L().Debug("stage finished",
			zap.String("document_id", doc.ID),
			zap.String("stage", ev.Stage),
			zap.String("status", string(ev.Status)),
			zap.Float64("duration", ev.DurationSeconds))
	}
	docLog := func() *model.DocumentLog {
		return &model.DocumentLog{DocumentID: doc.ID, Name: doc.Name, Events: logger.snapshot()}
	}

	stageGate := semaphore.NewWeighted(r.cfg.stageConcurrency())

	if model.ExtractableKinds[doc.Kind] {
		text, err := runStage(ctx, StageExtract, stageGate, sink, func(ctx context.Context) (string, error) {
			return r.collab.Extractor.Extract(ctx, doc)
		})
		if err != nil {
			return nil, docLog(), err
		}
		doc.Data.Text = text
	} else {
		skipStage(StageExtract, "document-type", sink)
	}

	if doc.Data.Metadata == nil {
		doc.Data.Metadata = map[string]string{}
	}
	if doc.Data.Metadata["regime"] == "" {
		doc.Data.Metadata["regime"] = "simples_nacional"
	}

	var (
		compliance     *model.AuditReport
		classification *model.ClassificationResult
		taxes          *model.TaxResult

		auditErr    error
		classifyErr error
		taxErr      error
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		compliance, auditErr = runStage(ctx, StageAudit, stageGate, sink, func(ctx context.Context) (*model.AuditReport, error) {
			return r.collab.Auditor.Audit(ctx, doc)
		})
		return nil
	})
	g.Go(func() error {
		classification, classifyErr = runStage(ctx, StageClassify, stageGate, sink, func(ctx context.Context) (*model.ClassificationResult, error) {
			return r.collab.Classifier.Classify(ctx, doc, nil)
		})
		return nil
	})
	g.Go(func() error {
		taxes, taxErr = runStage(ctx, StageTax, stageGate, sink, func(ctx context.Context) (*model.TaxResult, error) {
			return r.collab.Tax.Compute(ctx, doc)
		})
		return nil
	})
	_ = g.Wait()

	for _, err := range []error{auditErr, classifyErr, taxErr} {
		if err != nil {
			return nil, docLog(), err
		}
	}

	report := &model.DocumentReport{
		DocumentID: doc.ID,
		Title:      fmt.Sprintf("Relatório - %s", titleName(doc)),
		KPIs: []model.KPI{
			{Label: "Itens", Value: float64(len(doc.Data.Itens))},
			{Label: "Score Conformidade", Value: compliance.Score},
			{Label: "Valor Total", Value: round2(doc.TotalItemValue())},
		},
		Classification: classification,
		Taxes:          taxes,
		Compliance:     compliance,
		Logs:           logger.snapshot(),
		Source: model.SourceSnapshot{
			Emitente:     doc.Data.Emitente,
			Destinatario: doc.Data.Destinatario,
			Itens:        doc.Data.Itens,
			Impostos:     doc.Data.Impostos,
		},
	}
	zap.L().Info("document processing finished", zap.String("document_id", doc.ID))
	return report, docLog(), nil
}

func titleName(doc *model.Document) string {
	if doc.Name != "" {
		return doc.Name
	}
	return doc.ID
}
