package export

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// SPEDFilename is the download name for SPED/EFD exports.
const SPEDFilename = "sped_efd.xml"

type efdKPI struct {
	Label string `xml:"Label"`
	Valor string `xml:"Valor"`
}

type efdIssue struct {
	Codigo     string `xml:"Codigo"`
	Campo      string `xml:"Campo"`
	Severidade string `xml:"Severidade"`
	Mensagem   string `xml:"Mensagem"`
}

type efdEntry struct {
	Debito    string `xml:"Debito"`
	Credito   string `xml:"Credito"`
	Valor     string `xml:"Valor"`
	Historico string `xml:"Historico,omitempty"`
}

type efd struct {
	XMLName         xml.Name   `xml:"EFD"`
	Titulo          string     `xml:"Identificacao>Titulo"`
	GeradoEm        string     `xml:"Identificacao>GeradoEm"`
	KPIs            []efdKPI   `xml:"KPIs>KPI,omitempty"`
	Inconsistencias []efdIssue `xml:"Inconsistencias>Inconsistencia,omitempty"`
	Lancamentos     []efdEntry `xml:"Lancamentos>Lancamento,omitempty"`
}

// SPED serializes a document report as the EFD interchange layout.
func SPED(report model.DocumentReport) ([]byte, error) {
	doc := efd{
		Titulo:   report.Title,
		GeradoEm: time.Now().UTC().Format(time.RFC3339),
	}
	if doc.Titulo == "" {
		doc.Titulo = "Relatorio Fiscal"
	}
	for _, kpi := range report.KPIs {
		doc.KPIs = append(doc.KPIs, efdKPI{Label: kpi.Label, Valor: fmt.Sprintf("%.2f", kpi.Value)})
	}
	if report.Compliance != nil {
		for _, inc := range report.Compliance.Inconsistencies {
			severity := inc.Severity
			if severity == "" {
				severity = "INFO"
			}
			doc.Inconsistencias = append(doc.Inconsistencias, efdIssue{
				Codigo:     inc.Code,
				Campo:      inc.Field,
				Severidade: severity,
				Mensagem:   inc.Message,
			})
		}
	}
	if report.Taxes != nil {
		for _, entry := range report.Taxes.Lancamentos {
			doc.Lancamentos = append(doc.Lancamentos, efdEntry{
				Debito:    entry.Debito,
				Credito:   entry.Credito,
				Valor:     fmt.Sprintf("%.2f", entry.Valor),
				Historico: entry.Historico,
			})
		}
	}

	payload, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "export: marshal sped")
	}
	return append([]byte(xml.Header), payload...), nil
}
