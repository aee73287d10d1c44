package pipeline

import "github.com/nexus-fiscal/fiscal-cli/internal/model"

// Aggregate rolls per-document reports into batch totals. Product and
// note values come from the source items; tax totals come from each
// report's computed summary.
func Aggregate(reports []model.DocumentReport) model.AggregateTotals {
	totals := map[string]float64{
		"vNF":     0,
		"vProd":   0,
		"vICMS":   0,
		"vPIS":    0,
		"vCOFINS": 0,
	}
	docs := make([]model.AggregateDoc, 0, len(reports))

	for _, rep := range reports {
		var valorProdutos float64
		for _, item := range rep.Source.Itens {
			valorProdutos += item.Valor
		}
		valorProdutos = round2(valorProdutos)

		totals["vProd"] += valorProdutos
		totals["vNF"] += valorProdutos
		if rep.Taxes != nil {
			totals["vICMS"] += rep.Taxes.Resumo["totalICMS"]
			totals["vPIS"] += rep.Taxes.Resumo["totalPIS"]
			totals["vCOFINS"] += rep.Taxes.Resumo["totalCOFINS"]
		}

		var score float64
		if rep.Compliance != nil {
			score = rep.Compliance.Score
		}
		docs = append(docs, model.AggregateDoc{
			DocumentID:    rep.DocumentID,
			Title:         rep.Title,
			ValorProdutos: valorProdutos,
			Score:         score,
		})
	}

	for k, v := range totals {
		totals[k] = round2(v)
	}
	return model.AggregateTotals{Docs: docs, Totals: totals}
}
