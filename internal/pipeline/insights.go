package pipeline

import (
	"fmt"
	"time"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// GenerateInsights derives the managerial summary of a batch. It is
// deterministic: everything comes from the reports and the aggregated
// totals, with no external calls.
func GenerateInsights(reports []model.DocumentReport, aggregated model.AggregateTotals) model.Insight {
	now := time.Now().UTC()

	var summaries []string
	if len(reports) == 0 {
		summaries = append(summaries, "Nenhum documento disponível para análise.")
	} else {
		summaries = append(summaries, fmt.Sprintf("%d documento(s) processado(s) até %s.", len(reports), now.Format("2006-01-02")))

		var scoreSum float64
		segments := map[string]int{}
		for _, rep := range reports {
			if rep.Compliance != nil {
				scoreSum += rep.Compliance.Score
			}
			if rep.Classification != nil && rep.Classification.Ramo != "" {
				segments[rep.Classification.Ramo]++
			}
		}
		summaries = append(summaries, fmt.Sprintf("Score médio de conformidade: %.2f (quanto menor, melhor).", scoreSum/float64(len(reports))))

		if segment, count := predominantSegment(segments); segment != "" {
			summaries = append(summaries, fmt.Sprintf("Segmento predominante: %s (%d documento(s)).", segment, count))
		}
	}

	kpis := map[string]float64{
		"documents": float64(len(reports)),
	}
	for k, v := range aggregated.Totals {
		kpis[k] = v
	}
	if len(reports) > 0 {
		var scoreSum float64
		for _, rep := range reports {
			if rep.Compliance != nil {
				scoreSum += rep.Compliance.Score
			}
		}
		kpis["avgComplianceScore"] = round2(scoreSum / float64(len(reports)))
	}

	var recommendations []string
	blocking := 0
	for _, rep := range reports {
		if rep.Compliance == nil {
			continue
		}
		for _, inc := range rep.Compliance.Inconsistencies {
			if inc.Severity == "ERROR" {
				blocking++
			}
		}
	}
	if blocking > 0 {
		recommendations = append(recommendations, fmt.Sprintf("Priorize a correção de %d inconsistência(s) bloqueante(s) antes da apuração.", blocking))
	}
	if aggregated.Totals["vICMS"] > 10000 {
		recommendations = append(recommendations, "Volume de ICMS elevado: avalie planejamento tributário com o contador responsável.")
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "Cenário controlado: mantenha as rotinas de conferência atuais.")
	}

	return model.Insight{
		Summaries:       summaries,
		KPIs:            kpis,
		Recommendations: recommendations,
		GeneratedAt:     now.Format(time.RFC3339),
	}
}

// predominantSegment returns the most frequent segment, breaking ties
// by segment name so the output is stable.
func predominantSegment(segments map[string]int) (string, int) {
	best := ""
	bestCount := 0
	for segment, count := range segments {
		if count > bestCount || (count == bestCount && segment < best) {
			best = segment
			bestCount = count
		}
	}
	return best, bestCount
}
