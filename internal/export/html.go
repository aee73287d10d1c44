// Package export renders document reports as HTML and SPED/EFD XML.
package export

import (
	"bytes"
	"html/template"

	"github.com/rotisserie/eris"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// HTMLFilename is the download name for HTML exports.
const HTMLFilename = "relatorio.html"

var htmlTemplate = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="pt-br"><head><meta charset="utf-8"/>
<title>{{.Title}}</title>
<style>body{font-family:Arial,sans-serif;padding:24px}table{border-collapse:collapse;width:100%}
th,td{border:1px solid #ddd;padding:6px;font-size:14px}th{background:#f0f0f0}</style>
</head><body>
<h1>{{.Title}}</h1>
<h2>KPIs</h2>
<table><tr><th>Métrica</th><th>Valor</th></tr>
{{range .KPIs}}<tr><td>{{.Label}}</td><td>{{printf "%.2f" .Value}}</td></tr>
{{end}}</table>
<h2>Inconsistências</h2>
<table><tr><th>Campo</th><th>Código</th><th>Severidade</th><th>Descrição</th></tr>
{{range .Issues}}<tr><td>{{.Field}}</td><td>{{.Code}}</td><td>{{.Severity}}</td><td>{{.Message}}</td></tr>
{{end}}</table>
</body></html>
`))

type htmlDataset struct {
	Title  string
	KPIs   []model.KPI
	Issues []model.AuditIssue
}

// HTML renders a document report as a standalone HTML page.
func HTML(report model.DocumentReport) ([]byte, error) {
	dataset := htmlDataset{
		Title: report.Title,
		KPIs:  report.KPIs,
	}
	if dataset.Title == "" {
		dataset.Title = "Relatório Fiscal"
	}
	if report.Compliance != nil {
		dataset.Issues = report.Compliance.Inconsistencies
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, dataset); err != nil {
		return nil, eris.Wrap(err, "export: render html")
	}
	return buf.Bytes(), nil
}
