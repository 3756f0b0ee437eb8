package catalog

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crossref-cli/internal/model"
)

// readRows returns every row of a CSV file or of the first XLSX sheet.
func readRows(path string) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readXLSX(path)
	}
	return readCSV(path)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		rows = append(rows, record)
	}
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: file has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// header maps normalized column names to indexes.
type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		if _, dup := h[key]; !dup {
			h[key] = i
		}
	}
	return h
}

func (h header) get(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (h header) float(row []string, col string, line int) (*float64, error) {
	v := h.get(row, col)
	if v == "" {
		return nil, nil
	}
	v = strings.TrimPrefix(strings.ReplaceAll(v, ",", ""), "$")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !model.IsFinite(f) {
		return nil, eris.Errorf("row %d: column %s: %q is not a number", line, col, h.get(row, col))
	}
	return &f, nil
}

func (h header) specs(row []string, line int) (model.Specs, error) {
	s := model.Specs{
		Refrigerant: h.get(row, "refrigerant"),
		Voltage:     h.get(row, "voltage"),
		Phase:       h.get(row, "phase"),
		Type:        h.get(row, "type"),
	}
	for col, dst := range map[string]**float64{
		"tonnage": &s.Tonnage,
		"seer":    &s.SEER,
		"seer2":   &s.SEER2,
		"eer":     &s.EER,
		"afue":    &s.AFUE,
		"hspf":    &s.HSPF,
	} {
		v, err := h.float(row, col, line)
		if err != nil {
			return model.Specs{}, err
		}
		*dst = v
	}
	return s, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func competitorsFromRows(rows [][]string) ([]model.CompetitorRecord, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	h := newHeader(rows[0])
	if _, ok := h["sku"]; !ok {
		return nil, eris.New("missing sku column")
	}

	var out []model.CompetitorRecord
	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}
		specs, err := h.specs(row, line)
		if err != nil {
			return nil, err
		}
		price, err := h.float(row, "price", line)
		if err != nil {
			return nil, err
		}
		out = append(out, model.CompetitorRecord{
			SKU:         h.get(row, "sku"),
			Company:     h.get(row, "company"),
			Model:       h.get(row, "model"),
			Description: h.get(row, "description"),
			Price:       price,
			Specs:       specs,
		})
	}
	return out, nil
}

func catalogFromRows(rows [][]string) ([]model.CatalogRecord, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	h := newHeader(rows[0])
	if _, ok := h["sku"]; !ok {
		return nil, eris.New("missing sku column")
	}

	var out []model.CatalogRecord
	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}
		specs, err := h.specs(row, line)
		if err != nil {
			return nil, err
		}
		price, err := h.float(row, "price", line)
		if err != nil {
			return nil, err
		}
		out = append(out, model.CatalogRecord{
			SKU:   h.get(row, "sku"),
			Model: h.get(row, "model"),
			Brand: h.get(row, "brand"),
			Type:  specs.Type,
			Price: price,
			Specs: specs,
		})
	}
	return out, nil
}
