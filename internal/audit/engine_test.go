package audit

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	return e
}

func cleanDoc() *model.Document {
	// Taxes consistent with the simples_nacional expectations for a
	// 1000.00 total, so the tax checks stay quiet.
	return &model.Document{
		ID:   "doc-1",
		Name: "nota.xml",
		Kind: model.KindNFeXML,
		Data: model.DocumentData{
			Itens: []model.Item{
				{Descricao: "Notebook", NCM: "85287200", CFOP: "5102", CST: "00", Quantidade: 1, Valor: 1000},
			},
			Impostos: model.Taxes{ICMS: 30, PIS: 6.5, COFINS: 30, ISS: 20, IVA: 120},
			Metadata: map[string]string{"regime": "simples_nacional"},
		},
	}
}

func codes(report *model.AuditReport) []string {
	out := make([]string, 0, len(report.Inconsistencies))
	for _, inc := range report.Inconsistencies {
		out = append(out, inc.Code)
	}
	return out
}

func TestAudit_CleanDocument(t *testing.T) {
	report := newEngine(t).Audit(cleanDoc())
	assert.Empty(t, report.Inconsistencies)
	assert.Zero(t, report.Score)
}

func TestAudit_EmptyDocument(t *testing.T) {
	report := newEngine(t).Audit(&model.Document{ID: "x"})
	assert.Empty(t, report.Inconsistencies)
}

func TestAudit_InvalidCFOP(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens[0].CFOP = "9999"
	report := newEngine(t).Audit(doc)
	assert.Contains(t, codes(report), "CFOP_VALID")
}

func TestAudit_CFOPDotsStripped(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens[0].CFOP = "5.102"
	report := newEngine(t).Audit(doc)
	assert.NotContains(t, codes(report), "CFOP_VALID")
}

func TestAudit_CSTIncompatible(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens[0].CST = "77"
	report := newEngine(t).Audit(doc)
	assert.Contains(t, codes(report), "CST_COMPATIBILITY")
}

func TestAudit_NCMFormat(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens[0].NCM = "8528"
	report := newEngine(t).Audit(doc)
	assert.Contains(t, codes(report), "NCM_FORMAT")
}

func TestAudit_NegativeItemValue(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens = append(doc.Data.Itens, model.Item{Descricao: "Estorno", Valor: -10})
	report := newEngine(t).Audit(doc)
	assert.Contains(t, codes(report), "ITEM_VALOR_NEGATIVO")
}

func TestAudit_STSensitiveCFOP(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens[0].CFOP = "5403"
	doc.Data.Itens[0].CST = ""
	report := newEngine(t).Audit(doc)
	got := codes(report)
	assert.Contains(t, got, "ST_REQUIREMENT")
	// 5403 is not in the general CFOP table either.
	assert.Contains(t, got, "CFOP_VALID")
}

func TestAudit_ICMSOutsideTolerance(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Impostos.ICMS = 300
	report := newEngine(t).Audit(doc)
	assert.Contains(t, codes(report), "ICMS_BASE_CALC")
}

func TestAudit_ICMSWithinTolerance(t *testing.T) {
	doc := cleanDoc()
	// Expected 30.00, 5% tolerance allows up to 31.50.
	doc.Data.Impostos.ICMS = 31.4
	report := newEngine(t).Audit(doc)
	assert.NotContains(t, codes(report), "ICMS_BASE_CALC")
}

func TestAudit_ISSOutsideRange(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Impostos.ISS = 200
	report := newEngine(t).Audit(doc)
	assert.Contains(t, codes(report), "ISS_BASE_CALC")
}

func TestAudit_IVAMarkupBySegment(t *testing.T) {
	doc := cleanDoc()
	// Tecnologia da Informação allows 10% to 40% of the total.
	doc.Data.Impostos.IVA = 500
	report := newEngine(t).Audit(doc)
	require.Contains(t, codes(report), "IVA_MARKUP")
	for _, inc := range report.Inconsistencies {
		if inc.Code == "IVA_MARKUP" {
			assert.Equal(t, "Tecnologia da Informação", inc.Details["segment"])
		}
	}
}

func TestAudit_UnknownRegimeFallsBack(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Metadata["regime"] = "regime_inexistente"
	report := newEngine(t).Audit(doc)
	// simples_nacional expectations keep the clean document clean.
	assert.Empty(t, report.Inconsistencies)
}

func TestAudit_ScoreWeights(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens[0].CFOP = "9999" // ERROR, weight 3
	doc.Data.Itens[0].NCM = "123"   // WARN, weight 1
	report := newEngine(t).Audit(doc)
	assert.Equal(t, 4.0, report.Score)
}

func TestInferSegment(t *testing.T) {
	cases := map[string]string{
		"85287200": "Tecnologia da Informação",
		"30049099": "Saúde/Farma",
		"02013000": "Alimentos",
		"94036000": "Geral",
	}
	for ncm, want := range cases {
		data := model.DocumentData{Itens: []model.Item{{NCM: ncm}}}
		assert.Equal(t, want, InferSegment(data), "ncm %s", ncm)
	}
	assert.Equal(t, "Geral", InferSegment(model.DocumentData{}))
}

type stubAssistant struct {
	out map[string]string
	err error
}

func (s *stubAssistant) Explanations(_ context.Context, _ []model.AuditIssue, _ map[string]string) (map[string]string, error) {
	return s.out, s.err
}

func TestEnrich_OfflineWording(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens[0].NCM = "8528"
	report := newEngine(t).Audit(doc)
	require.NotEmpty(t, report.Inconsistencies)

	NewExplainer(nil).Enrich(context.Background(), report, doc.Data)

	exp := report.Inconsistencies[0].Explanation
	assert.Contains(t, exp, "NCM fora do formato de 8 dígitos")
	assert.Contains(t, exp, "Base: TIPI")
	assert.Contains(t, exp, "Segmento: Tecnologia da Informação")
	assert.Contains(t, exp, "value=8528")
}

func TestEnrich_AssistantWinsPerCode(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens[0].NCM = "8528"
	report := newEngine(t).Audit(doc)

	assistant := &stubAssistant{out: map[string]string{"NCM_FORMAT": "explicação contextual"}}
	NewExplainer(assistant).Enrich(context.Background(), report, doc.Data)
	assert.Equal(t, "explicação contextual", report.Inconsistencies[0].Explanation)
}

func TestEnrich_AssistantFailureFallsBack(t *testing.T) {
	doc := cleanDoc()
	doc.Data.Itens[0].NCM = "8528"
	report := newEngine(t).Audit(doc)

	assistant := &stubAssistant{err: eris.New("upstream unavailable")}
	NewExplainer(assistant).Enrich(context.Background(), report, doc.Data)
	assert.Contains(t, report.Inconsistencies[0].Explanation, "NCM fora do formato")
}
