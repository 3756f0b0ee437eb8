// Package catalog loads our own product catalog and competitor product lists
// from YAML, JSON, CSV or XLSX files.
package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crossref-cli/internal/model"
)

// Provider supplies the catalog for one resolution pass. Implementations
// must return records the caller is free to keep; nothing is cached inside
// the pipeline.
type Provider interface {
	Catalog(ctx context.Context) ([]model.CatalogRecord, error)
}

// Static serves a fixed in-memory catalog.
type Static []model.CatalogRecord

// Catalog returns a deep copy of the records.
func (s Static) Catalog(ctx context.Context) ([]model.CatalogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.CatalogRecord, len(s))
	for i, rec := range s {
		out[i] = rec.Clone()
	}
	return out, nil
}

// FileProvider re-reads a catalog file on every call so edits are picked up
// without a restart.
type FileProvider struct {
	path string
}

// NewFileProvider creates a FileProvider for path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Catalog loads the file.
func (p *FileProvider) Catalog(ctx context.Context) ([]model.CatalogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadCatalog(p.path)
}

// LoadCatalog reads catalog records from path. The format follows the file
// extension.
func LoadCatalog(path string) ([]model.CatalogRecord, error) {
	var out []model.CatalogRecord
	switch format(path) {
	case formatCSV, formatXLSX:
		rows, err := readRows(path)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: read %s", path)
		}
		out, err = catalogFromRows(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: parse %s", path)
		}
	default:
		var doc struct {
			Products []model.CatalogRecord `json:"products" yaml:"products"`
		}
		if err := decode(path, &doc.Products, &doc); err != nil {
			return nil, err
		}
		out = doc.Products
	}

	for i, rec := range out {
		if strings.TrimSpace(rec.SKU) == "" {
			return nil, eris.Errorf("catalog: %s: record %d has no sku", path, i+1)
		}
		if err := checkFinite(rec.Specs, rec.Price); err != nil {
			return nil, eris.Wrapf(err, "catalog: %s: record %d", path, i+1)
		}
	}
	return out, nil
}

// checkFinite rejects NaN and infinite values, which YAML accepts as .nan
// and .inf but which cannot be encoded as JSON.
func checkFinite(specs model.Specs, price *float64) error {
	if name := specs.NonFinite(); name != "" {
		return eris.Errorf("%s is not a finite number", name)
	}
	if price != nil && !model.IsFinite(*price) {
		return eris.New("price is not a finite number")
	}
	return nil
}

// LoadCompetitors reads competitor records from path.
func LoadCompetitors(path string) ([]model.CompetitorRecord, error) {
	switch format(path) {
	case formatCSV, formatXLSX:
		rows, err := readRows(path)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: read %s", path)
		}
		out, err := competitorsFromRows(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: parse %s", path)
		}
		return out, nil
	default:
		var doc struct {
			Competitors []model.CompetitorRecord `json:"competitors" yaml:"competitors"`
		}
		if err := decode(path, &doc.Competitors, &doc); err != nil {
			return nil, err
		}
		for i, c := range doc.Competitors {
			if err := checkFinite(c.Specs, c.Price); err != nil {
				return nil, eris.Wrapf(err, "catalog: %s: record %d", path, i+1)
			}
		}
		return doc.Competitors, nil
	}
}

type fileFormat int

const (
	formatYAML fileFormat = iota
	formatJSON
	formatCSV
	formatXLSX
)

func format(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".csv":
		return formatCSV
	case ".xlsx":
		return formatXLSX
	default:
		return formatYAML
	}
}

// decode accepts either a bare list (into list) or a wrapping object (into
// doc).
func decode(path string, list, doc any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "catalog: read %s", path)
	}

	trimmed := strings.TrimSpace(string(data))
	isList := strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "- ")
	target := doc
	if isList {
		target = list
	}

	if format(path) == formatJSON {
		err = json.Unmarshal(data, target)
	} else {
		err = yaml.Unmarshal(data, target)
	}
	if err != nil {
		return eris.Wrapf(err, "catalog: decode %s", path)
	}
	return nil
}
