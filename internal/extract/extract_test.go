package extract

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
	"github.com/nexus-fiscal/fiscal-cli/internal/resilience"
	"github.com/nexus-fiscal/fiscal-cli/pkg/ocr"
)

func TestLocal_PrintableRuns(t *testing.T) {
	raw := append([]byte("Emitente: Acme Ltda"), 0x00, 0x01, 0x02)
	raw = append(raw, []byte("CFOP 5102")...)
	raw = append(raw, 0xFF, 0xFE)
	raw = append(raw, []byte("ab")...) // below the minimum run, dropped

	doc := &model.Document{ID: "d1", Name: "scan.pdf", Kind: model.KindPDF, Raw: raw}
	text, err := (&Local{}).Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Contains(t, text, "Emitente: Acme Ltda")
	assert.Contains(t, text, "CFOP 5102")
	assert.NotContains(t, text, "ab")
}

func TestLocal_EmptyPayload(t *testing.T) {
	doc := &model.Document{ID: "d1", Name: "scan.pdf", Kind: model.KindPDF}
	_, err := (&Local{}).Extract(context.Background(), doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no payload")
}

type stubOCR struct {
	result *ocr.Result
	err    error
	name   string
}

func (s *stubOCR) Recognize(_ context.Context, name string, _ []byte) (*ocr.Result, error) {
	s.name = name
	return s.result, s.err
}

func TestRemote_DelegatesToClient(t *testing.T) {
	stub := &stubOCR{result: &ocr.Result{Text: "NF-e 42", Confidence: 0.9}}
	doc := &model.Document{ID: "d2", Name: "nota.png", Kind: model.KindImage, Raw: []byte("img")}

	text, err := NewRemote(stub, resilience.DefaultCircuitBreakerConfig()).Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "NF-e 42", text)
	assert.Equal(t, "nota.png", stub.name)
}

func TestRemote_BreakerOpensOnRepeatedTransientFailures(t *testing.T) {
	stub := &stubOCR{err: resilience.NewTransientError(eris.New("503"), 503)}
	remote := NewRemote(stub, resilience.FromCircuitConfig(3, 30))
	doc := &model.Document{ID: "d4", Name: "nota.png", Kind: model.KindImage, Raw: []byte("img")}

	for i := 0; i < 3; i++ {
		_, err := remote.Extract(context.Background(), doc)
		require.Error(t, err)
	}

	_, err := remote.Extract(context.Background(), doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestRemote_WrapsError(t *testing.T) {
	stub := &stubOCR{err: eris.New("upstream down")}
	doc := &model.Document{ID: "d3", Name: "nota.png", Kind: model.KindImage, Raw: []byte("img")}

	_, err := NewRemote(stub, resilience.DefaultCircuitBreakerConfig()).Extract(context.Background(), doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recognize d3")
}
