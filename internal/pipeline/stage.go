// Package pipeline orchestrates the per-document analysis stages with
// bounded concurrency and streams stage telemetry to subscribers.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// Stage names as they appear in event logs.
const (
	StageExtract  = "ocr"
	StageAudit    = "auditoria"
	StageClassify = "classificacao"
	StageTax      = "contabilidade"
)

// stageSink receives exactly one terminal StageEvent per stage
// invocation. Implementations must be safe for concurrent use.
type stageSink func(model.StageEvent)

func roundDuration(d time.Duration) float64 {
	return math.Round(d.Seconds()*1e4) / 1e4
}

// runStage runs work under the stage gate and reports a single
// terminal event. Timing starts at invocation, so the duration covers
// queueing for a free slot as well as the work itself. The slot is
// released on every exit path; failures are reported and returned for
// the caller to decide the document's fate.
func runStage[T any](ctx context.Context, name string, gate *semaphore.Weighted, sink stageSink, work func(context.Context) (T, error)) (T, error) {
	started := time.Now().UTC()
	finish := func(status model.StageStatus, details map[string]any) {
		finished := time.Now().UTC()
		if details == nil {
			details = map[string]any{}
		}
		sink(model.StageEvent{
			Stage:           name,
			Status:          status,
			StartedAt:       started,
			FinishedAt:      finished,
			DurationSeconds: roundDuration(finished.Sub(started)),
			Details:         details,
		})
	}

	var zero T
	if err := gate.Acquire(ctx, 1); err != nil {
		finish(model.StageFailed, map[string]any{"error": err.Error()})
		return zero, err
	}
	defer gate.Release(1)

	result, err := func() (res T, err error) {
		// Collaborator panics stay on this goroutine; errgroup does not
		// forward them to Wait, so convert here and let the document's
		// failure handling take over.
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return work(ctx)
	}()
	if err != nil {
		finish(model.StageFailed, map[string]any{"error": err.Error()})
		return zero, err
	}
	finish(model.StageCompleted, nil)
	return result, nil
}

// skipStage records that a stage was not applicable to the document.
// The collaborator is never invoked.
func skipStage(name, reason string, sink stageSink) {
	now := time.Now().UTC()
	sink(model.StageEvent{
		Stage:      name,
		Status:     model.StageSkipped,
		StartedAt:  now,
		FinishedAt: now,
		Details:    map[string]any{"reason": reason},
	})
}
