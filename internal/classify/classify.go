// Package classify labels documents with the fiscal operation kind
// and commercial branch, reusing persisted reviewer feedback when the
// same document identity has been seen before.
package classify

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/nexus-fiscal/fiscal-cli/internal/feedback"
	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// cfopOperations maps CFOP codes to the operation label.
var cfopOperations = map[string]string{
	"1101": "Compra",
	"1102": "Compra",
	"2101": "Compra",
	"2102": "Compra",
	"5101": "Venda",
	"5102": "Venda",
	"6101": "Venda",
	"6102": "Venda",
	"1202": "Devolução",
	"2202": "Devolução",
	"5201": "Remessa",
	"6201": "Remessa",
}

// ncmBranches maps the two leading NCM digits to the commercial branch.
var ncmBranches = map[string]string{
	"85": "Tecnologia da Informação",
	"30": "Saúde/Farma",
	"21": "Saúde/Farma",
	"02": "Alimentos",
	"16": "Alimentos",
}

var (
	reCFOP         = regexp.MustCompile(`(?i)cfop\s*[:=]?\s*(\d\.?\d{3})`)
	reNCM          = regexp.MustCompile(`(?i)ncm\s*[:=]?\s*(\d{8})`)
	reEmitente     = regexp.MustCompile(`(?i)emitente\s*[:=]\s*([^\n;|]+)`)
	reDestinatario = regexp.MustCompile(`(?i)destinatario\s*[:=]\s*([^\n;|]+)`)
)

// Override is a reviewer-supplied correction applied on top of the
// rule-based prediction and persisted for future runs.
type Override struct {
	Tipo string `json:"tipo"`
	Ramo string `json:"ramo"`
}

// Classifier predicts operation and branch labels. The feedback store
// is optional; with a nil store every run is a cold prediction.
type Classifier struct {
	store feedback.Store
}

func New(store feedback.Store) *Classifier {
	return &Classifier{store: store}
}

// foldDiacritics strips combining marks so accent variants of the same
// field label compare equal.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// BranchFromNCM resolves the commercial branch for an NCM code.
func BranchFromNCM(ncm string) string {
	if ncm == "" {
		return "Indefinido"
	}
	if len(ncm) >= 2 {
		if branch, ok := ncmBranches[ncm[:2]]; ok {
			return branch
		}
	}
	return "Geral"
}

// OperationFromCFOP resolves the operation label for a CFOP code.
func OperationFromCFOP(cfop string) string {
	if op, ok := cfopOperations[cfop]; ok {
		return op
	}
	return "Operação"
}

type docContext struct {
	emitente     string
	destinatario string
	cfop         string
	ncm          string
}

func buildContext(data model.DocumentData) docContext {
	var c docContext
	if data.Emitente != nil {
		c.emitente = data.Emitente.Nome
	}
	if data.Destinatario != nil {
		c.destinatario = data.Destinatario.Nome
	}
	for _, item := range data.Itens {
		if c.cfop == "" {
			c.cfop = strings.ReplaceAll(item.CFOP, ".", "")
		}
		if c.ncm == "" {
			c.ncm = item.NCM
		}
	}
	return c
}

// fillFromText backfills missing context fields from the raw document
// text, for scanned documents that never produced structured items.
func (c *docContext) fillFromText(text string) {
	if text == "" {
		return
	}
	folded := foldDiacritics(text)
	if c.cfop == "" {
		if m := reCFOP.FindStringSubmatch(folded); m != nil {
			c.cfop = strings.ReplaceAll(m[1], ".", "")
		}
	}
	if c.ncm == "" {
		if m := reNCM.FindStringSubmatch(folded); m != nil {
			c.ncm = m[1]
		}
	}
	if c.emitente == "" {
		if m := reEmitente.FindStringSubmatch(folded); m != nil {
			c.emitente = strings.TrimSpace(m[1])
		}
	}
	if c.destinatario == "" {
		if m := reDestinatario.FindStringSubmatch(folded); m != nil {
			c.destinatario = strings.TrimSpace(m[1])
		}
	}
}

func confidence(items int, overridden bool) float64 {
	if overridden {
		return 0.99
	}
	if items > 5 {
		items = 5
	}
	return 0.75 + float64(items)*0.02
}

// Classify predicts the labels for a document, applying any stored or
// explicit reviewer feedback. Store failures degrade to a cold
// prediction instead of failing the document.
func (c *Classifier) Classify(ctx context.Context, doc *model.Document, override *Override) (*model.ClassificationResult, error) {
	dc := buildContext(doc.Data)
	dc.fillFromText(doc.Data.Text)

	ramo := BranchFromNCM(dc.ncm)
	tipo := OperationFromCFOP(dc.cfop)

	key := feedback.Key(dc.emitente, dc.destinatario, doc.Name)
	overridden := false

	var stored *feedback.Record
	if c.store != nil {
		var err error
		stored, err = c.store.Get(ctx, key)
		if err != nil {
			zap.L().Warn("feedback lookup failed, using cold prediction",
				zap.String("document", doc.ID), zap.Error(err))
			stored = nil
		}
	}
	if stored != nil {
		tipo, ramo = stored.Tipo, stored.Ramo
		overridden = true
	}

	if override != nil {
		if override.Tipo != "" {
			tipo = override.Tipo
		}
		if override.Ramo != "" {
			ramo = override.Ramo
		}
		overridden = true
		if c.store != nil {
			if err := c.store.Save(ctx, key, feedback.Record{Tipo: tipo, Ramo: ramo, Confidence: 0.99}); err != nil {
				zap.L().Warn("feedback save failed", zap.String("document", doc.ID), zap.Error(err))
			} else {
				zap.L().Info("classification feedback applied", zap.String("document", key))
			}
		}
	}

	conf := confidence(len(doc.Data.Itens), overridden)

	if c.store != nil && stored == nil && override == nil {
		if err := c.store.Save(ctx, key, feedback.Record{Tipo: tipo, Ramo: ramo, Confidence: conf}); err != nil {
			zap.L().Warn("feedback save failed", zap.String("document", doc.ID), zap.Error(err))
		}
	}

	return &model.ClassificationResult{
		Emitente:     dc.emitente,
		Destinatario: dc.destinatario,
		CFOP:         dc.cfop,
		NCM:          dc.ncm,
		Tipo:         tipo,
		Ramo:         ramo,
		Confidence:   conf,
		Overridden:   overridden,
	}, nil
}
