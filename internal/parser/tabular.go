package parser

import (
	"bytes"
	"encoding/csv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// Recognized tabular column headers, lowercase. Unknown columns are
// ignored so exports with extra fields still parse.
var itemColumns = map[string]bool{
	"codigo":     true,
	"descricao":  true,
	"ncm":        true,
	"cfop":       true,
	"cst":        true,
	"quantidade": true,
	"valor":      true,
}

// itemsFromRows maps header-indexed rows onto line items. Rows shorter
// than the header are padded; completely empty rows are dropped.
func itemsFromRows(header []string, rows [][]string) []model.Item {
	index := map[string]int{}
	for i, col := range header {
		key := strings.ToLower(strings.TrimSpace(col))
		if itemColumns[key] {
			index[key] = i
		}
	}

	field := func(row []string, key string) string {
		i, ok := index[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var items []model.Item
	for _, row := range rows {
		item := model.Item{
			Codigo:     field(row, "codigo"),
			Descricao:  field(row, "descricao"),
			NCM:        field(row, "ncm"),
			CFOP:       field(row, "cfop"),
			CST:        field(row, "cst"),
			Quantidade: parseFloat(field(row, "quantidade")),
			Valor:      parseFloat(field(row, "valor")),
		}
		if item == (model.Item{}) {
			continue
		}
		items = append(items, item)
	}
	return items
}

// parseCSV reads a comma-separated item listing with a header row.
func parseCSV(name string, content []byte) (*model.Document, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "parser: read csv %s", name)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("parser: csv %s is empty", name)
	}

	return &model.Document{
		Kind: model.KindCSV,
		Name: name,
		Data: model.DocumentData{Itens: itemsFromRows(records[0], records[1:])},
	}, nil
}

// parseXLSX reads the first sheet of a workbook as an item listing.
func parseXLSX(name string, content []byte) (*model.Document, error) {
	f, err := xlsx.OpenBinary(content)
	if err != nil {
		return nil, eris.Wrapf(err, "parser: open xlsx %s", name)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("parser: xlsx %s has no sheets", name)
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("parser: xlsx %s is empty", name)
	}

	return &model.Document{
		Kind: model.KindXLSX,
		Name: name,
		Data: model.DocumentData{Itens: itemsFromRows(rows[0], rows[1:])},
	}, nil
}
