package export

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

func sampleReport() model.DocumentReport {
	return model.DocumentReport{
		DocumentID: "doc-1",
		Title:      "Relatório - nota.xml",
		KPIs: []model.KPI{
			{Label: "Itens", Value: 2},
			{Label: "Valor Total", Value: 1550},
		},
		Compliance: &model.AuditReport{
			Score: 3,
			Inconsistencies: []model.AuditIssue{
				{Code: "CFOP_VALID", Field: "itens[0].cfop", Severity: "ERROR", Message: "CFOP inexistente"},
			},
		},
		Taxes: &model.TaxResult{
			Lancamentos: []model.AccountingEntry{
				{Debito: "1.1.05.001", Credito: "2.1.01.001", Valor: 1550, Historico: "Entrada de mercadorias"},
				{Debito: "1.1.09.002", Credito: "2.1.01.001", Valor: 46.5},
			},
		},
	}
}

func TestHTML(t *testing.T) {
	payload, err := HTML(sampleReport())
	require.NoError(t, err)
	html := string(payload)

	assert.Contains(t, html, "<title>Relatório - nota.xml</title>")
	assert.Contains(t, html, "<td>Itens</td><td>2.00</td>")
	assert.Contains(t, html, "<td>CFOP_VALID</td>")
	assert.Contains(t, html, "<td>ERROR</td>")
}

func TestHTML_DefaultTitle(t *testing.T) {
	payload, err := HTML(model.DocumentReport{})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "Relatório Fiscal")
}

func TestHTML_EscapesContent(t *testing.T) {
	report := sampleReport()
	report.Compliance.Inconsistencies[0].Message = `<script>alert("x")</script>`
	payload, err := HTML(report)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "<script>")
}

func TestSPED(t *testing.T) {
	payload, err := SPED(sampleReport())
	require.NoError(t, err)

	out := string(payload)
	assert.True(t, strings.HasPrefix(out, xml.Header))

	var decoded efd
	require.NoError(t, xml.Unmarshal(payload, &decoded))
	assert.Equal(t, "Relatório - nota.xml", decoded.Titulo)
	assert.NotEmpty(t, decoded.GeradoEm)
	require.Len(t, decoded.KPIs, 2)
	assert.Equal(t, "1550.00", decoded.KPIs[1].Valor)
	require.Len(t, decoded.Inconsistencias, 1)
	assert.Equal(t, "CFOP_VALID", decoded.Inconsistencias[0].Codigo)
	require.Len(t, decoded.Lancamentos, 2)
	assert.Equal(t, "46.50", decoded.Lancamentos[1].Valor)
	assert.Equal(t, "Entrada de mercadorias", decoded.Lancamentos[0].Historico)
}

func TestSPED_EmptyReportDefaults(t *testing.T) {
	payload, err := SPED(model.DocumentReport{})
	require.NoError(t, err)

	var decoded efd
	require.NoError(t, xml.Unmarshal(payload, &decoded))
	assert.Equal(t, "Relatorio Fiscal", decoded.Titulo)
	assert.Empty(t, decoded.KPIs)
	assert.Empty(t, decoded.Lancamentos)
}

func TestSPED_MissingSeverityDefaultsInfo(t *testing.T) {
	report := model.DocumentReport{
		Compliance: &model.AuditReport{
			Inconsistencies: []model.AuditIssue{{Code: "X"}},
		},
	}
	payload, err := SPED(report)
	require.NoError(t, err)

	var decoded efd
	require.NoError(t, xml.Unmarshal(payload, &decoded))
	require.Len(t, decoded.Inconsistencias, 1)
	assert.Equal(t, "INFO", decoded.Inconsistencias[0].Severidade)
}
