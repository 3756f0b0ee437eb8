package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crossref-cli/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

const catalogYAML = `products:
  - sku: GSX160361
    model: GSX16036
    brand: Goodman
    type: air_conditioner
    price: 2000
    specs:
      tonnage: 3
      seer: 16.2
  - sku: TUD100C936V2
    model: TUD100C936V2
    brand: Trane
    type: furnace
    specs:
      afue: 80
`

func TestLoadCatalog_YAML(t *testing.T) {
	recs, err := LoadCatalog(writeFile(t, "catalog.yaml", catalogYAML))

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "GSX160361", recs[0].SKU)
	assert.Equal(t, "Goodman", recs[0].Brand)
	assert.InDelta(t, 2000.0, *recs[0].Price, 1e-9)
	assert.InDelta(t, 16.2, *recs[0].Specs.SEER, 1e-9)
	assert.InDelta(t, 80.0, *recs[1].Specs.AFUE, 1e-9)
	assert.Nil(t, recs[1].Price)
}

func TestLoadCatalog_JSONList(t *testing.T) {
	path := writeFile(t, "catalog.json", `[{"sku": "A1", "brand": "Goodman", "specs": {"tonnage": 2.5}}]`)

	recs, err := LoadCatalog(path)

	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 2.5, *recs[0].Specs.Tonnage, 1e-9)
}

func TestLoadCatalog_MissingSKU(t *testing.T) {
	_, err := LoadCatalog(writeFile(t, "catalog.yaml", "- brand: Goodman\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1 has no sku")
}

func TestLoadCatalog_CSV(t *testing.T) {
	path := writeFile(t, "catalog.csv", "SKU,Model,Brand,Type,Price,Tonnage,SEER\n"+
		"GSX160361,GSX16036,Goodman,air_conditioner,\"$2,000\",3,16.2\n"+
		",,,,,,\n")

	recs, err := LoadCatalog(path)

	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "air_conditioner", recs[0].ProductType())
	assert.InDelta(t, 2000.0, *recs[0].Price, 1e-9)
	assert.InDelta(t, 3.0, *recs[0].Specs.Tonnage, 1e-9)
}

func TestLoadCompetitors_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"SKU", "Company", "Model", "Tonnage", "SEER", "Refrigerant"},
		{"XR16-036", "Lennox", "XR16", "3", "16", "R-410A"},
		{"TUD100C936V2", "Allied", "", "", "", ""},
	})

	recs, err := LoadCompetitors(path)

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.CompetitorRecord{
		SKU: "XR16-036", Company: "Lennox", Model: "XR16",
		Specs: model.Specs{Tonnage: model.Float(3), SEER: model.Float(16), Refrigerant: "R-410A"},
	}, recs[0])
	assert.True(t, recs[1].Specs.IsEmpty())
}

func TestLoadCompetitors_BadNumber(t *testing.T) {
	path := writeFile(t, "comp.csv", "sku,tonnage\nX,three\n")

	_, err := LoadCompetitors(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2: column tonnage")
}

func TestLoadCompetitors_NonFiniteNumbers(t *testing.T) {
	for _, v := range []string{"NaN", "Inf", "-inf"} {
		t.Run(v, func(t *testing.T) {
			_, err := LoadCompetitors(writeFile(t, "comp.csv", "sku,company,tonnage\nAAA-1,Allied,"+v+"\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "row 2: column tonnage")
		})
	}
}

func TestLoadCompetitors_YAMLNaN(t *testing.T) {
	path := writeFile(t, "comp.yaml", "competitors:\n  - sku: AAA-1\n    specs:\n      seer: .nan\n")

	_, err := LoadCompetitors(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "seer is not a finite number")
}

func TestLoadCatalog_YAMLInfinitePrice(t *testing.T) {
	path := writeFile(t, "catalog.yaml", "products:\n  - sku: GSX160361\n    price: .inf\n")

	_, err := LoadCatalog(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1")
	assert.Contains(t, err.Error(), "price is not a finite number")
}

func TestLoadCompetitors_MissingSKUColumn(t *testing.T) {
	_, err := LoadCompetitors(writeFile(t, "comp.csv", "company\nLennox\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing sku column")
}

func TestLoadCompetitors_YAMLDocument(t *testing.T) {
	path := writeFile(t, "comp.yml", "competitors:\n  - sku: XR16-036\n    company: Lennox\n    price: 2100\n")

	recs, err := LoadCompetitors(path)

	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 2100.0, *recs[0].Price, 1e-9)
}

func TestFileProvider_RereadsFile(t *testing.T) {
	path := writeFile(t, "catalog.yaml", catalogYAML)
	p := NewFileProvider(path)

	first, err := p.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)

	require.NoError(t, os.WriteFile(path, []byte("- sku: ONLY\n"), 0o600))
	second, err := p.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "ONLY", second[0].SKU)
}

func TestStatic_ReturnsCopies(t *testing.T) {
	s := Static{{SKU: "A", Specs: model.Specs{Tonnage: model.Float(3)}}}

	recs, err := s.Catalog(context.Background())
	require.NoError(t, err)
	*recs[0].Specs.Tonnage = 5

	assert.InDelta(t, 3.0, *s[0].Specs.Tonnage, 1e-9)
}

func TestStatic_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Static{}.Catalog(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
