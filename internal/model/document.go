// Package model defines the shared data contracts of the fiscal pipeline.
package model

// Kind identifies the source format of an ingested document.
type Kind string

const (
	KindPDF     Kind = "PDF"
	KindImage   Kind = "IMAGE"
	KindNFeXML  Kind = "NFE_XML"
	KindCSV     Kind = "CSV"
	KindXLSX    Kind = "XLSX"
	KindUnknown Kind = "UNKNOWN"
)

// ExtractableKinds are the kinds that carry a raw payload requiring optical
// extraction before the analysis stages can read them.
var ExtractableKinds = map[Kind]bool{
	KindPDF:   true,
	KindImage: true,
}

// Party identifies one side of a fiscal document (emitter or recipient).
type Party struct {
	Nome      string `json:"nome,omitempty"`
	CNPJ      string `json:"cnpj,omitempty"`
	IE        string `json:"ie,omitempty"`
	Municipio string `json:"municipio,omitempty"`
	UF        string `json:"uf,omitempty"`
}

// Item is a single line item on a fiscal document.
type Item struct {
	Codigo     string  `json:"codigo,omitempty"`
	Descricao  string  `json:"descricao,omitempty"`
	NCM        string  `json:"ncm,omitempty"`
	CFOP       string  `json:"cfop,omitempty"`
	CST        string  `json:"cst,omitempty"`
	Quantidade float64 `json:"quantidade,omitempty"`
	Valor      float64 `json:"valor"`
}

// Taxes holds the declared tax totals of a document.
type Taxes struct {
	ICMS   float64 `json:"icms,omitempty"`
	PIS    float64 `json:"pis,omitempty"`
	COFINS float64 `json:"cofins,omitempty"`
	ISS    float64 `json:"iss,omitempty"`
	IVA    float64 `json:"iva,omitempty"`
}

// DocumentData is the structured view of a parsed document. Fields are
// populated by the parser or, for raw payloads, by the extraction stage.
// The analysis stages read it concurrently and must not mutate it.
type DocumentData struct {
	Emitente     *Party            `json:"emitente,omitempty"`
	Destinatario *Party            `json:"destinatario,omitempty"`
	Itens        []Item            `json:"itens,omitempty"`
	Impostos     Taxes             `json:"impostos"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Text         string            `json:"text,omitempty"`
}

// Document is one unit of work for the pipeline. A Document instance is
// owned by a single processor invocation for the duration of processing.
type Document struct {
	ID   string       `json:"id,omitempty"`
	Name string       `json:"name,omitempty"`
	Kind Kind         `json:"kind"`
	Data DocumentData `json:"data"`
	Raw  []byte       `json:"-"`
}

// TotalItemValue sums the item values of the document.
func (d *Document) TotalItemValue() float64 {
	var total float64
	for _, item := range d.Data.Itens {
		total += item.Valor
	}
	return total
}

// Regime returns the tax regime recorded in the document metadata,
// or the empty string when none was set.
func (d *Document) Regime() string {
	if d.Data.Metadata == nil {
		return ""
	}
	return d.Data.Metadata["regime"]
}
