package tax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

func docWith(regime string, dest *model.Party, values ...float64) *model.Document {
	items := make([]model.Item, len(values))
	for i, v := range values {
		items[i] = model.Item{Descricao: "item", Valor: v}
	}
	meta := map[string]string{}
	if regime != "" {
		meta["regime"] = regime
	}
	return &model.Document{
		ID:   "doc-1",
		Name: "nota.xml",
		Kind: model.KindNFeXML,
		Data: model.DocumentData{Destinatario: dest, Itens: items, Metadata: meta},
	}
}

func TestLookupRegime_Fallback(t *testing.T) {
	assert.Equal(t, "Simples Nacional", LookupRegime("").Name)
	assert.Equal(t, "Simples Nacional", LookupRegime("desconhecido").Name)
	assert.Equal(t, "Lucro Real", LookupRegime(" LUCRO_REAL ").Name)
}

func TestCompute_SimplesNacional(t *testing.T) {
	result, err := Compute(docWith("simples_nacional", nil, 600, 400))
	require.NoError(t, err)

	assert.Equal(t, "Simples Nacional", result.Regime)
	assert.Equal(t, 30.0, result.Resumo["totalICMS"])
	assert.Equal(t, 6.5, result.Resumo["totalPIS"])
	assert.Equal(t, 30.0, result.Resumo["totalCOFINS"])
	assert.Equal(t, 20.0, result.Resumo["totalISS"])
	assert.Equal(t, 120.0, result.Resumo["totalIVA"])
	assert.Regexp(t, `^\d{4}-\d{2}$`, result.Competencia)
}

func TestCompute_ISSCityOverride(t *testing.T) {
	dest := &model.Party{Nome: "Cliente", Municipio: "rj"}
	result, err := Compute(docWith("lucro_real", dest, 1000))
	require.NoError(t, err)
	// RJ override 0.04 instead of the regime base 0.035.
	assert.Equal(t, 40.0, result.Resumo["totalISS"])
}

func TestCompute_ISSUFFallback(t *testing.T) {
	dest := &model.Party{Nome: "Cliente", Municipio: "Campinas", UF: "SP"}
	result, err := Compute(docWith("lucro_presumido", dest, 1000))
	require.NoError(t, err)
	assert.Equal(t, 50.0, result.Resumo["totalISS"])
}

func TestCompute_EntriesBalancedAndLabelled(t *testing.T) {
	result, err := Compute(docWith("lucro_presumido", nil, 100))
	require.NoError(t, err)
	require.Len(t, result.Lancamentos, 6)

	first := result.Lancamentos[0]
	assert.Equal(t, "1.1.05.001", first.Debito)
	assert.Equal(t, "2.1.01.001", first.Credito)
	assert.Equal(t, 100.0, first.Valor)
	assert.Equal(t, "Entrada de mercadorias", first.Historico)

	historicos := make([]string, 0, len(result.Lancamentos))
	for _, e := range result.Lancamentos {
		assert.Positive(t, e.Valor)
		historicos = append(historicos, e.Historico)
	}
	assert.Contains(t, historicos, "Crédito ICMS")
	assert.Contains(t, historicos, "Provisão ISS")
	assert.Contains(t, historicos, "Ajuste IVA")
}

func TestCompute_ZeroTotal_NoEntries(t *testing.T) {
	result, err := Compute(docWith("simples_nacional", nil))
	require.NoError(t, err)
	assert.Empty(t, result.Lancamentos)
	assert.Equal(t, 0.0, result.Resumo["totalICMS"])
}

func TestCompute_RoundsHalfUp(t *testing.T) {
	// 33.33 * 0.0065 = 0.216645 rounds to 0.22.
	result, err := Compute(docWith("simples_nacional", nil, 33.33))
	require.NoError(t, err)
	assert.Equal(t, 0.22, result.Resumo["totalPIS"])
}
