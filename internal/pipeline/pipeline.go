package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
	"github.com/nexus-fiscal/fiscal-cli/internal/progress"
	"github.com/nexus-fiscal/fiscal-cli/internal/resilience"
)

// Config bounds the pipeline's concurrency.
type Config struct {
	// BatchConcurrency caps documents processed at once. Default 8.
	BatchConcurrency int64
	// StageConcurrency caps concurrent stages within one document.
	// Default 3.
	StageConcurrency int64
	// DLQMaxRetries is recorded on dead letter entries. Default 3.
	DLQMaxRetries int
}

func (c Config) batchConcurrency() int64 {
	if c.BatchConcurrency < 1 {
		return 8
	}
	return c.BatchConcurrency
}

func (c Config) stageConcurrency() int64 {
	if c.StageConcurrency < 1 {
		return 3
	}
	return c.StageConcurrency
}

func (c Config) dlqMaxRetries() int {
	if c.DLQMaxRetries < 1 {
		return 3
	}
	return c.DLQMaxRetries
}

// Runner drives batches of documents through the analysis stages.
type Runner struct {
	cfg      Config
	collab   Collaborators
	registry *progress.Registry
}

func NewRunner(cfg Config, collab Collaborators, registry *progress.Registry) *Runner {
	return &Runner{cfg: cfg, collab: collab, registry: registry}
}

// Registry exposes the job registry for poll and stream consumers.
func (r *Runner) Registry() *progress.Registry {
	return r.registry
}

// Run processes the batch synchronously. Documents run concurrently
// under the batch gate; a document failure is recorded in its log and
// excluded from the reports without aborting siblings. Reports keep
// input order. The returned error is reserved for batch-scope failures
// outside any single document.
func (r *Runner) Run(ctx context.Context, docs []*model.Document, publish publishFunc) (*model.BatchResult, error) {
	batchGate := semaphore.NewWeighted(r.cfg.batchConcurrency())

	reports := make([]*model.DocumentReport, len(docs))
	logs := make([]*model.DocumentLog, len(docs))
	errs := make([]error, len(docs))

	g := new(errgroup.Group)
	for i, doc := range docs {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					errs[i] = fmt.Errorf("panic: %v", rec)
				}
			}()
			reports[i], logs[i], errs[i] = r.processDocument(ctx, doc, batchGate, publish)
			return nil
		})
	}
	_ = g.Wait()

	result := &model.BatchResult{
		Reports: []model.DocumentReport{},
		Logs:    []model.DocumentLog{},
	}
	for i := range docs {
		if logs[i] == nil {
			logs[i] = &model.DocumentLog{DocumentID: docs[i].ID, Name: docs[i].Name, Events: []model.StageEvent{}}
		}
		if errs[i] != nil {
			logs[i].Error = errs[i].Error()
		}
		result.Logs = append(result.Logs, *logs[i])
		if errs[i] == nil && reports[i] != nil {
			result.Reports = append(result.Reports, *reports[i])
		} else if errs[i] != nil {
			zap.L().Warn("document failed",
				zap.String("document_id", docs[i].ID),
				zap.Error(errs[i]))
		}
	}

	result.Aggregated = Aggregate(result.Reports)
	return result, nil
}

// DeadLetters extracts resubmission entries for every failed document
// in a batch result, using the last failed stage from its log.
func (r *Runner) DeadLetters(result *model.BatchResult) []resilience.DLQEntry {
	var entries []resilience.DLQEntry
	for _, dl := range result.Logs {
		if dl.Error == "" {
			continue
		}
		stage := ""
		for i := len(dl.Events) - 1; i >= 0; i-- {
			if dl.Events[i].Status == model.StageFailed {
				stage = dl.Events[i].Stage
				break
			}
		}
		entries = append(entries, resilience.NewDLQEntry(dl.DocumentID, dl.Name, stage, fmt.Errorf("%s", dl.Error), r.cfg.dlqMaxRetries()))
	}
	return entries
}

// StartJob runs the batch in the background, streaming progress into
// the job registry. It returns the new job id immediately. The job is
// always finalized, and a panicking batch surfaces as a failed job
// instead of a lost goroutine.
func (r *Runner) StartJob(docs []*model.Document) string {
	jobID := uuid.New().String()
	r.registry.CreateJob(jobID)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				msg := fmt.Sprintf("panic: %v", rec)
				zap.L().Error("job panicked", zap.String("job_id", jobID), zap.String("panic", msg))
				r.registry.SetResult(jobID, map[string]any{"status": "failed", "error": msg})
				ev := model.NewJobEvent(jobID, model.JobFailed)
				ev.Error = msg
				r.registry.Publish(jobID, ev)
			}
			r.registry.Finalize(jobID)
		}()

		started := model.NewJobEvent(jobID, model.JobStarted)
		started.TotalDocuments = len(docs)
		r.registry.Publish(jobID, started)

		result, err := r.Run(context.Background(), docs, func(documentID string, ev model.StageEvent) {
			r.registry.Publish(jobID, model.NewStageEvent(documentID, ev))
		})
		if err != nil {
			zap.L().Error("job failed", zap.String("job_id", jobID), zap.Error(err))
			r.registry.SetResult(jobID, map[string]any{"status": "failed", "error": err.Error()})
			ev := model.NewJobEvent(jobID, model.JobFailed)
			ev.Error = err.Error()
			r.registry.Publish(jobID, ev)
			return
		}

		r.registry.SetResult(jobID, result)
		ev := model.NewJobEvent(jobID, model.JobCompleted)
		ev.Result = result
		r.registry.Publish(jobID, ev)
	}()

	return jobID
}
