// Package fiscal holds cross-document comparison utilities used by the
// consultant endpoints and the CLI compare command.
package fiscal

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Fiscal attribute keys compared pairwise when both sides carry a value.
var fiscalKeys = []string{
	"cfop",
	"cst",
	"ncm",
	"regime",
	"aliquota_icms",
	"aliquota_pis",
	"aliquota_cofins",
}

// Monetary totals compared pairwise with a delta.
var totalKeys = []string{"vNF", "vProd", "vICMS", "vPIS", "vCOFINS"}

// Doc is one normalized fiscal record submitted for comparison. Fields
// carries the fiscal attributes (cfop, cst, ncm, regime, aliquotas) and
// Totals the monetary figures.
type Doc struct {
	Source   string             `json:"source,omitempty"`
	Emitente string             `json:"emitente,omitempty"`
	Fields   map[string]string  `json:"fields,omitempty"`
	Totals   map[string]float64 `json:"totals,omitempty"`
}

// FieldDiff is a pairwise mismatch of one fiscal attribute.
type FieldDiff struct {
	A string `json:"a"`
	B string `json:"b"`
}

// TotalDiff is a pairwise mismatch of one monetary total.
type TotalDiff struct {
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	Delta float64 `json:"delta"`
}

// Discrepancy records every difference found between one pair of docs.
type Discrepancy struct {
	ASource    string               `json:"a_source,omitempty"`
	BSource    string               `json:"b_source,omitempty"`
	AEmitente  string               `json:"a_emitente,omitempty"`
	BEmitente  string               `json:"b_emitente,omitempty"`
	FieldDiffs map[string]FieldDiff `json:"field_diffs,omitempty"`
	TotalDiffs map[string]TotalDiff `json:"total_diffs,omitempty"`
}

// Result is the full outcome of an inter-document comparison.
type Result struct {
	Summary       map[string]map[string]int `json:"summary"`
	Discrepancies []Discrepancy             `json:"discrepancies"`
	Insights      []string                  `json:"insights"`
}

func norm(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// CompareDocs compares every pair of normalized documents and
// highlights fiscal discrepancies. Attribute values are compared after
// trimming and upper-casing; empty values never count as a mismatch.
func CompareDocs(docs []Doc) Result {
	summary := map[string]map[string]int{
		"by_cfop": {},
		"by_ncm":  {},
		"by_cst":  {},
	}
	for _, doc := range docs {
		summary["by_cfop"][norm(doc.Fields["cfop"])]++
		summary["by_ncm"][norm(doc.Fields["ncm"])]++
		summary["by_cst"][norm(doc.Fields["cst"])]++
	}

	var discrepancies []Discrepancy
	for i := 0; i < len(docs); i++ {
		for j := i + 1; j < len(docs); j++ {
			a, b := docs[i], docs[j]

			fieldDiffs := map[string]FieldDiff{}
			for _, key := range fiscalKeys {
				av, bv := norm(a.Fields[key]), norm(b.Fields[key])
				if av != "" && bv != "" && av != bv {
					fieldDiffs[key] = FieldDiff{A: av, B: bv}
				}
			}

			totalDiffs := map[string]TotalDiff{}
			for _, key := range totalKeys {
				av, bv := a.Totals[key], b.Totals[key]
				if math.Abs(av-bv) > 1e-6 {
					totalDiffs[key] = TotalDiff{A: av, B: bv, Delta: bv - av}
				}
			}

			if len(fieldDiffs) > 0 || len(totalDiffs) > 0 {
				discrepancies = append(discrepancies, Discrepancy{
					ASource:    a.Source,
					BSource:    b.Source,
					AEmitente:  a.Emitente,
					BEmitente:  b.Emitente,
					FieldDiffs: fieldDiffs,
					TotalDiffs: totalDiffs,
				})
			}
		}
	}

	return Result{
		Summary:       summary,
		Discrepancies: discrepancies,
		Insights:      compareInsights(discrepancies),
	}
}

func compareInsights(discrepancies []Discrepancy) []string {
	hasField := func(key string) bool {
		for _, d := range discrepancies {
			if _, ok := d.FieldDiffs[key]; ok {
				return true
			}
		}
		return false
	}

	var insights []string
	if hasField("cfop") {
		insights = append(insights, "Divergências de CFOP detectadas entre documentos: revisar classificação operacional.")
	}
	if hasField("cst") {
		insights = append(insights, "CST conflitante entre documentos semelhantes: verificar regime e tributação aplicável.")
	}
	if hasField("ncm") {
		insights = append(insights, "NCM divergente para itens aparentados: investigar cadastro do produto.")
	}
	return insights
}

// CompareTotals diffs two total maps, one value per key present on
// either side. Positive values mean the current period grew.
func CompareTotals(previous, current map[string]float64) map[string]float64 {
	differences := map[string]float64{}
	for key := range previous {
		differences[key] = current[key] - previous[key]
	}
	for key := range current {
		if _, ok := differences[key]; !ok {
			differences[key] = current[key]
		}
	}
	return differences
}

// DescribeTotals renders a compact human-readable view of a totals
// diff, ordered by the canonical total keys first.
func DescribeTotals(differences map[string]float64) []string {
	var lines []string
	seen := map[string]bool{}
	emit := func(key string) {
		delta := differences[key]
		lines = append(lines, fmt.Sprintf("%s: %+.2f", key, delta))
		seen[key] = true
	}
	for _, key := range totalKeys {
		if _, ok := differences[key]; ok {
			emit(key)
		}
	}
	var rest []string
	for key := range differences {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		emit(key)
	}
	return lines
}
