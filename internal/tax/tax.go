// Package tax computes the deterministic fiscal apuration for a
// document: per-tax totals under the document's tributary regime and
// the matching double-entry bookkeeping records.
package tax

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// Plan-of-accounts codes used on the generated entries.
const (
	accEstoques        = "1.1.05.001"
	accFornecedores    = "2.1.01.001"
	accICMSRecuperar   = "1.1.09.002"
	accPISRecuperar    = "1.1.09.003"
	accCOFINSRecuperar = "1.1.09.004"
	accISSPagar        = "2.1.09.001"
	accIVARegistro     = "3.1.04.005"
)

// Regime holds the rate table for one tributary regime. ISSCidades
// overrides the base ISS rate when the recipient's municipality or UF
// matches a key.
type Regime struct {
	Name       string
	Aliquotas  map[string]float64
	ISSCidades map[string]float64
}

// Regimes maps the normalized regime key to its rate table. Lookups
// fall back to simples_nacional for unknown keys.
var Regimes = map[string]Regime{
	"simples_nacional": {
		Name: "Simples Nacional",
		Aliquotas: map[string]float64{
			"icms": 0.03, "pis": 0.0065, "cofins": 0.03, "iss": 0.02, "iva": 0.12,
		},
		ISSCidades: map[string]float64{"SP": 0.02, "RJ": 0.03, "BH": 0.025},
	},
	"lucro_presumido": {
		Name: "Lucro Presumido",
		Aliquotas: map[string]float64{
			"icms": 0.18, "pis": 0.0165, "cofins": 0.076, "iss": 0.05, "iva": 0.25,
		},
		ISSCidades: map[string]float64{"SP": 0.05, "RJ": 0.05, "BH": 0.045},
	},
	"lucro_real": {
		Name: "Lucro Real",
		Aliquotas: map[string]float64{
			"icms": 0.18, "pis": 0.0165, "cofins": 0.076, "iss": 0.035, "iva": 0.28,
		},
		ISSCidades: map[string]float64{"SP": 0.035, "RJ": 0.04, "BH": 0.032},
	},
}

// LookupRegime resolves a regime key to its rate table, defaulting to
// simples_nacional for empty or unknown keys.
func LookupRegime(key string) Regime {
	if r, ok := Regimes[strings.ToLower(strings.TrimSpace(key))]; ok {
		return r
	}
	return Regimes["simples_nacional"]
}

// roundCentavos rounds half away from zero to two decimal places,
// matching the fiscal convention for monetary values.
func roundCentavos(v float64) float64 {
	return math.Round(v*100) / 100
}

func resolveISSRate(r Regime, doc *model.Document) float64 {
	if dest := doc.Data.Destinatario; dest != nil {
		if rate, ok := r.ISSCidades[strings.ToUpper(dest.Municipio)]; ok {
			return rate
		}
		if rate, ok := r.ISSCidades[strings.ToUpper(dest.UF)]; ok {
			return rate
		}
	}
	return r.Aliquotas["iss"]
}

func buildEntries(total float64, taxes map[string]float64) []model.AccountingEntry {
	entries := []model.AccountingEntry{{
		Debito:    accEstoques,
		Credito:   accFornecedores,
		Valor:     roundCentavos(total),
		Historico: "Entrada de mercadorias",
	}}
	add := func(debit, historico, key string) {
		if taxes[key] != 0 {
			entries = append(entries, model.AccountingEntry{
				Debito:    debit,
				Credito:   accFornecedores,
				Valor:     taxes[key],
				Historico: historico,
			})
		}
	}
	add(accICMSRecuperar, "Crédito ICMS", "icms")
	add(accPISRecuperar, "Crédito PIS", "pis")
	add(accCOFINSRecuperar, "Crédito COFINS", "cofins")
	add(accISSPagar, "Provisão ISS", "iss")
	add(accIVARegistro, "Ajuste IVA", "iva")
	return entries
}

func balanceCheck(entries []model.AccountingEntry) error {
	var debit, credit float64
	for _, e := range entries {
		if e.Valor <= 0 {
			return eris.Errorf("tax: lançamento %q com valor não positivo", e.Historico)
		}
		debit += e.Valor
		credit += e.Valor
	}
	if roundCentavos(debit-credit) != 0 {
		return eris.New("tax: lançamentos contábeis desequilibrados")
	}
	return nil
}

// Compute derives the regime rate table from the document metadata,
// applies it to the summed item values and returns the apuration
// summary with its balanced entries. Documents with no item value
// produce an empty-but-valid result.
func Compute(doc *model.Document) (*model.TaxResult, error) {
	regime := LookupRegime(doc.Regime())
	total := doc.TotalItemValue()

	taxes := map[string]float64{
		"icms":   roundCentavos(total * regime.Aliquotas["icms"]),
		"pis":    roundCentavos(total * regime.Aliquotas["pis"]),
		"cofins": roundCentavos(total * regime.Aliquotas["cofins"]),
		"iss":    roundCentavos(total * resolveISSRate(regime, doc)),
		"iva":    roundCentavos(total * regime.Aliquotas["iva"]),
	}

	result := &model.TaxResult{
		Regime:      regime.Name,
		Competencia: time.Now().UTC().Format("2006-01"),
		Resumo: map[string]float64{
			"totalICMS":   taxes["icms"],
			"totalPIS":    taxes["pis"],
			"totalCOFINS": taxes["cofins"],
			"totalISS":    taxes["iss"],
			"totalIVA":    taxes["iva"],
		},
	}

	if total <= 0 {
		return result, nil
	}

	entries := buildEntries(total, taxes)
	if err := balanceCheck(entries); err != nil {
		return nil, err
	}
	result.Lancamentos = entries
	return result, nil
}
