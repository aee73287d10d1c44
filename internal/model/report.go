package model

// KPI is a single labeled metric on a document report.
type KPI struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// AuditIssue is one inconsistency found by the rule engine.
type AuditIssue struct {
	Code          string         `json:"code"`
	Field         string         `json:"field,omitempty"`
	Severity      string         `json:"severity"`
	Message       string         `json:"message,omitempty"`
	NormativeBase string         `json:"normative_base,omitempty"`
	Explanation   string         `json:"explanation,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// AuditReport is the outcome of auditing one document. Score is
// severity-weighted: lower is better, zero is fully compliant.
type AuditReport struct {
	Score           float64      `json:"score"`
	Inconsistencies []AuditIssue `json:"inconsistencies"`
}

// ClassificationResult describes the fiscal nature of a document.
type ClassificationResult struct {
	Emitente     string  `json:"emitente,omitempty"`
	Destinatario string  `json:"destinatario,omitempty"`
	CFOP         string  `json:"cfop,omitempty"`
	NCM          string  `json:"ncm,omitempty"`
	Tipo         string  `json:"tipo"`
	Ramo         string  `json:"ramo"`
	Confidence   float64 `json:"confidence"`
	Overridden   bool    `json:"overridden,omitempty"`
}

// AccountingEntry is one double-entry ledger line.
type AccountingEntry struct {
	Debito    string  `json:"debito"`
	Credito   string  `json:"credito"`
	Valor     float64 `json:"valor"`
	Historico string  `json:"historico,omitempty"`
}

// TaxResult is the accountant output for one document.
type TaxResult struct {
	Regime      string             `json:"regime"`
	Competencia string             `json:"competencia"`
	Resumo      map[string]float64 `json:"resumo"`
	Lancamentos []AccountingEntry  `json:"lancamentos"`
}

// SourceSnapshot carries the document fields a report was derived from.
type SourceSnapshot struct {
	Emitente     *Party `json:"emitente,omitempty"`
	Destinatario *Party `json:"destinatario,omitempty"`
	Itens        []Item `json:"itens"`
	Impostos     Taxes  `json:"impostos"`
}

// DocumentReport is the immutable per-document outcome of the pipeline.
type DocumentReport struct {
	DocumentID     string                `json:"documentId"`
	Title          string                `json:"title"`
	KPIs           []KPI                 `json:"kpis"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Taxes          *TaxResult            `json:"taxes,omitempty"`
	Compliance     *AuditReport          `json:"compliance,omitempty"`
	Logs           []StageEvent          `json:"logs"`
	Source         SourceSnapshot        `json:"source"`
}

// DocumentLog is the ordered stage event log of one document, kept for all
// documents including those whose processing failed.
type DocumentLog struct {
	DocumentID string       `json:"document_id"`
	Name       string       `json:"name,omitempty"`
	Events     []StageEvent `json:"events"`
	Error      string       `json:"error,omitempty"`
}

// AggregateTotals merges per-document figures across a batch.
type AggregateTotals struct {
	Docs   []AggregateDoc     `json:"docs"`
	Totals map[string]float64 `json:"totals"`
}

// AggregateDoc is the per-document row inside AggregateTotals.
type AggregateDoc struct {
	DocumentID    string  `json:"documentId"`
	Title         string  `json:"title"`
	ValorProdutos float64 `json:"valorProdutos"`
	Score         float64 `json:"score"`
}

// BatchResult is what a completed pipeline run returns to the caller.
type BatchResult struct {
	Reports    []DocumentReport `json:"reports"`
	Logs       []DocumentLog    `json:"logs"`
	Aggregated AggregateTotals  `json:"aggregated"`
}

// Insight is the deterministic managerial summary over a batch result.
type Insight struct {
	Summaries       []string           `json:"summaries"`
	KPIs            map[string]float64 `json:"kpis"`
	Recommendations []string           `json:"recommendations"`
	GeneratedAt     string             `json:"generated_at"`
}
