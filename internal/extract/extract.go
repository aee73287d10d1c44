// Package extract turns scanned document payloads into plain text.
package extract

import (
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
	"github.com/nexus-fiscal/fiscal-cli/internal/resilience"
	"github.com/nexus-fiscal/fiscal-cli/pkg/ocr"
)

// Extractor produces the text content of a PDF or image document.
type Extractor interface {
	Extract(ctx context.Context, doc *model.Document) (string, error)
}

// Local scans the raw payload for printable runs. It is the default
// engine when no OCR provider is configured and is good enough for
// text-layer PDFs; rasterized scans come back mostly empty.
type Local struct {
	// MinRun is the minimum printable run length kept, default 4.
	MinRun int
}

func (l *Local) Extract(_ context.Context, doc *model.Document) (string, error) {
	if len(doc.Raw) == 0 {
		return "", eris.Errorf("extract: document %s has no payload", doc.ID)
	}
	minRun := l.MinRun
	if minRun <= 0 {
		minRun = 4
	}

	var out strings.Builder
	var run []rune
	flush := func() {
		if len(run) >= minRun {
			out.WriteString(strings.TrimSpace(string(run)))
			out.WriteByte('\n')
		}
		run = run[:0]
	}
	for _, r := range string(doc.Raw) {
		if r == unicode.ReplacementChar || (!unicode.IsPrint(r) && r != ' ') {
			flush()
			continue
		}
		run = append(run, r)
	}
	flush()
	return strings.TrimSpace(out.String()), nil
}

// Remote delegates to the OCR service client. A circuit breaker fails
// fast when the service keeps erroring, so large batches don't stall
// waiting on a dead provider.
type Remote struct {
	client  ocr.Client
	breaker *resilience.CircuitBreaker
}

func NewRemote(client ocr.Client, breakerCfg resilience.CircuitBreakerConfig) *Remote {
	return &Remote{
		client:  client,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
	}
}

func (r *Remote) Extract(ctx context.Context, doc *model.Document) (string, error) {
	result, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*ocr.Result, error) {
		return r.client.Recognize(ctx, doc.Name, doc.Raw)
	})
	if err != nil {
		return "", eris.Wrapf(err, "extract: recognize %s", doc.ID)
	}
	return result.Text, nil
}
