// Package audit applies the fiscal conformity rules to a parsed
// document and scores the findings by severity.
package audit

import (
	_ "embed"
	"math"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

//go:embed rules.yaml
var rulesYAML []byte

var ncmPattern = regexp.MustCompile(`^\d{8}$`)

// taxExpectation holds the per-regime rates the audit checks the
// highlighted taxes against. ISS is validated as a range rather than
// a single rate because it varies by municipality.
type taxExpectation struct {
	ICMS   float64 `yaml:"icms"`
	PIS    float64 `yaml:"pis"`
	COFINS float64 `yaml:"cofins"`
	ISSMin float64 `yaml:"iss_min"`
	ISSMax float64 `yaml:"iss_max"`
	IVA    float64 `yaml:"iva"`
}

type markupRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type rule struct {
	Code          string `yaml:"code"`
	Field         string `yaml:"field"`
	Severity      string `yaml:"severity"`
	Message       string `yaml:"message"`
	NormativeBase string `yaml:"normative_base"`
}

type ruleSet struct {
	Rules           []rule                    `yaml:"rules"`
	CFOPValid       []string                  `yaml:"cfop_valid"`
	CSTMatrix       map[string][]string       `yaml:"cst_matrix"`
	STSensitiveCFOP []string                  `yaml:"st_sensitive_cfop"`
	TaxExpectations map[string]taxExpectation `yaml:"tax_expectations"`
	SegmentsMarkup  map[string]markupRange    `yaml:"segments_markup"`
	SeverityWeights map[string]int            `yaml:"severity_weights"`
}

// Engine evaluates documents against the embedded rule dictionary.
type Engine struct {
	ruleIndex    map[string]rule
	cfopValid    map[string]bool
	cstMatrix    map[string]map[string]bool
	stSensitive  map[string]bool
	expectations map[string]taxExpectation
	markups      map[string]markupRange
	weights      map[string]int
}

// NewEngine parses the embedded rule dictionary. It fails only when
// the dictionary itself is malformed or missing required sections.
func NewEngine() (*Engine, error) {
	var rs ruleSet
	if err := yaml.Unmarshal(rulesYAML, &rs); err != nil {
		return nil, eris.Wrap(err, "audit: parse rules dictionary")
	}
	if len(rs.Rules) == 0 {
		return nil, eris.New("audit: rules dictionary has no rules")
	}
	if _, ok := rs.TaxExpectations["simples_nacional"]; !ok {
		return nil, eris.New("audit: rules dictionary missing simples_nacional tax expectations")
	}
	if _, ok := rs.SegmentsMarkup["Geral"]; !ok {
		return nil, eris.New("audit: rules dictionary missing Geral markup range")
	}

	e := &Engine{
		ruleIndex:    make(map[string]rule, len(rs.Rules)),
		cfopValid:    make(map[string]bool, len(rs.CFOPValid)),
		cstMatrix:    make(map[string]map[string]bool, len(rs.CSTMatrix)),
		stSensitive:  make(map[string]bool, len(rs.STSensitiveCFOP)),
		expectations: rs.TaxExpectations,
		markups:      rs.SegmentsMarkup,
		weights:      rs.SeverityWeights,
	}
	for _, r := range rs.Rules {
		e.ruleIndex[r.Code] = r
	}
	for _, cfop := range rs.CFOPValid {
		e.cfopValid[cfop] = true
	}
	for cfop, csts := range rs.CSTMatrix {
		set := make(map[string]bool, len(csts))
		for _, cst := range csts {
			set[cst] = true
		}
		e.cstMatrix[cfop] = set
	}
	for _, cfop := range rs.STSensitiveCFOP {
		e.stSensitive[cfop] = true
	}
	if e.weights == nil {
		e.weights = map[string]int{"ERROR": 3, "WARN": 1, "INFO": 0}
	}
	return e, nil
}

// InferSegment guesses the commercial segment from the item NCM
// prefixes, used to pick the IVA markup range.
func InferSegment(data model.DocumentData) string {
	for _, item := range data.Itens {
		switch {
		case strings.HasPrefix(item.NCM, "85"):
			return "Tecnologia da Informação"
		case strings.HasPrefix(item.NCM, "30"), strings.HasPrefix(item.NCM, "21"):
			return "Saúde/Farma"
		case strings.HasPrefix(item.NCM, "02"), strings.HasPrefix(item.NCM, "16"):
			return "Alimentos"
		}
	}
	return "Geral"
}

func (e *Engine) issue(code string, details map[string]any) model.AuditIssue {
	r, ok := e.ruleIndex[code]
	if !ok {
		r = rule{Code: code, Field: "unknown", Severity: "INFO", Message: "Regra de auditoria"}
	}
	return model.AuditIssue{
		Code:          code,
		Field:         r.Field,
		Severity:      r.Severity,
		Message:       r.Message,
		NormativeBase: r.NormativeBase,
		Details:       details,
	}
}

func (e *Engine) checkItem(item model.Item, issues *[]model.AuditIssue) {
	cfop := strings.ReplaceAll(item.CFOP, ".", "")
	if cfop != "" && !e.cfopValid[cfop] {
		*issues = append(*issues, e.issue("CFOP_VALID", map[string]any{"value": cfop}))
	}
	if allowed, ok := e.cstMatrix[cfop]; ok && item.CST != "" && !allowed[item.CST] {
		*issues = append(*issues, e.issue("CST_COMPATIBILITY", map[string]any{"cfop": cfop, "cst": item.CST}))
	}
	if item.NCM != "" && !ncmPattern.MatchString(item.NCM) {
		*issues = append(*issues, e.issue("NCM_FORMAT", map[string]any{"value": item.NCM}))
	}
	if e.stSensitive[item.CFOP] {
		*issues = append(*issues, e.issue("ST_REQUIREMENT", map[string]any{"cfop": item.CFOP}))
	}
	if item.Valor < 0 {
		*issues = append(*issues, e.issue("ITEM_VALOR_NEGATIVO", map[string]any{"valor": item.Valor}))
	}
}

func (e *Engine) checkTaxes(doc *model.Document, issues *[]model.AuditIssue) {
	total := doc.TotalItemValue()
	regime := strings.ToLower(doc.Regime())
	expect, ok := e.expectations[regime]
	if !ok {
		regime = "simples_nacional"
		expect = e.expectations[regime]
	}
	taxes := doc.Data.Impostos

	check := func(code string, rate, actual float64) {
		expected := total * rate
		if actual == 0 && expected == 0 {
			return
		}
		tolerance := expected * 0.05
		if math.Abs(actual-expected) > tolerance {
			*issues = append(*issues, e.issue(code, map[string]any{
				"expected":  expected,
				"actual":    actual,
				"tolerance": tolerance,
				"regime":    regime,
			}))
		}
	}
	check("ICMS_BASE_CALC", expect.ICMS, taxes.ICMS)
	check("PIS_BASE_CALC", expect.PIS, taxes.PIS)
	check("COFINS_BASE_CALC", expect.COFINS, taxes.COFINS)

	if taxes.ISS != 0 {
		min, max := total*expect.ISSMin, total*expect.ISSMax
		if taxes.ISS < min || taxes.ISS > max {
			details := map[string]any{
				"expected_range": []float64{min, max},
				"actual":         taxes.ISS,
			}
			if doc.Data.Destinatario != nil {
				details["municipio"] = doc.Data.Destinatario.Municipio
			}
			*issues = append(*issues, e.issue("ISS_BASE_CALC", details))
		}
	}

	if taxes.IVA != 0 {
		segment := InferSegment(doc.Data)
		markup, ok := e.markups[segment]
		if !ok {
			markup = e.markups["Geral"]
		}
		min, max := total*markup.Min, total*markup.Max
		if taxes.IVA < min || taxes.IVA > max {
			*issues = append(*issues, e.issue("IVA_MARKUP", map[string]any{
				"segment":        segment,
				"expected_range": []float64{min, max},
				"actual":         taxes.IVA,
			}))
		}
	}
}

// Audit runs every rule against the document and returns the findings
// with the severity-weighted score. Documents with no parsed data get
// a clean report.
func (e *Engine) Audit(doc *model.Document) *model.AuditReport {
	report := &model.AuditReport{Inconsistencies: []model.AuditIssue{}}
	if doc == nil {
		return report
	}
	for _, item := range doc.Data.Itens {
		e.checkItem(item, &report.Inconsistencies)
	}
	e.checkTaxes(doc, &report.Inconsistencies)
	for _, inc := range report.Inconsistencies {
		report.Score += float64(e.weights[inc.Severity])
	}
	return report
}
