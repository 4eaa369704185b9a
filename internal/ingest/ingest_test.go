package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/store"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	err := f.Save(path)
	require.NoError(t, err)
	return path
}

func TestReadXLSX_HeaderAndRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"材料名称", "单位"},
			{"螺纹钢", "t"},
			{"水泥", "t"},
		},
	})

	header, rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"材料名称", "单位"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"螺纹钢", "t"}, rows[0])
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, _, err := ReadXLSX(path, XLSXOptions{SheetName: "价格表"})
	assert.Error(t, err)
}

func TestParseCatalogue(t *testing.T) {
	header := []string{"材料编码", "材料名称", "规格型号", "单位", "价格类型", "省", "市", "期号", "除税价", "含税价"}
	rows := [][]string{
		{"C001", "螺纹钢", "HRB400 Φ12", "t", "市刊", "广东省", "广州市", "2024-03", "3,900.00", "4407元"},
		{"", "商品混凝土", "C30", "m³", "", "广东省", "广州市", "2024年3月", "430", "480"},
		{"", "", "", "", "", "", "", "", "", ""},                          // blank
		{"C003", "水泥", "P.O 42.5", "t", "省刊", "广东省", "", "not-a-date", "400", "450"}, // bad period
	}

	refs, dropped := ParseCatalogue(header, rows)

	require.Len(t, refs, 2)
	assert.Equal(t, "C001", refs[0].MaterialCode)
	assert.Equal(t, model.PriceTypeMunicipal, refs[0].PriceType)
	assert.Equal(t, 3900.0, refs[0].PriceExcludingTax)
	assert.Equal(t, 4407.0, refs[0].PriceIncludingTax)
	assert.Equal(t, "2024-03", refs[0].IssuePeriod.String())

	// no explicit type but a city present: municipal
	assert.Equal(t, model.PriceTypeMunicipal, refs[1].PriceType)

	require.Len(t, dropped, 1)
	assert.Equal(t, 5, dropped[0].Row)
}

func TestParseCatalogue_EnglishHeaders(t *testing.T) {
	header := []string{"material_code", "name", "unit", "price_type", "province", "price_date", "price_excluding_tax", "price_including_tax"}
	rows := [][]string{
		{"C010", "中砂", "m³", "provincial", "广东省", "202403", "150", "165"},
	}

	refs, dropped := ParseCatalogue(header, rows)

	require.Empty(t, dropped)
	require.Len(t, refs, 1)
	assert.Equal(t, model.PriceTypeProvincial, refs[0].PriceType)
	assert.Equal(t, "2024-03", refs[0].IssuePeriod.String())
}

func TestParseMaterials(t *testing.T) {
	header := []string{"序号", "材料名称", "规格型号", "单位", "数量", "单价"}
	rows := [][]string{
		{"1", "螺纹钢", "HRB400 Φ12", "t", "10.5", "4100"},
		{"2", "商品混凝土", "C30", "m³", "200", "480"},
		{"", "", "", "", "", ""},
		{"3", "无价材料", "", "个", "5", ""},
	}

	materials, dropped := ParseMaterials("proj-1", header, rows)

	require.Len(t, materials, 2)
	assert.Equal(t, 1, materials[0].Seq)
	assert.Equal(t, "proj-1", materials[0].ProjectID)
	assert.Equal(t, 10.5, materials[0].Quantity)
	assert.Equal(t, 4100.0, materials[0].ReportedPrice)
	assert.Equal(t, 2, materials[1].Seq)

	require.Len(t, dropped, 1)
	assert.Contains(t, dropped[0].Reason, "reported price")
}

type captureStore struct {
	store.Store
	refs      []model.ReferenceMaterial
	materials []model.ProjectMaterial
}

func (c *captureStore) UpsertReferenceMaterials(_ context.Context, refs []model.ReferenceMaterial) (int64, error) {
	c.refs = refs
	return int64(len(refs)), nil
}

func (c *captureStore) CreateMaterials(_ context.Context, materials []model.ProjectMaterial) error {
	c.materials = materials
	return nil
}

func TestImportCatalogue_EndToEnd(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"材料名称", "单位", "价格类型", "省", "市", "期号", "除税价", "含税价"},
			{"螺纹钢", "t", "市刊", "广东省", "广州市", "2024-03", "3900", "4407"},
		},
	})

	cs := &captureStore{}
	n, dropped, err := ImportCatalogue(context.Background(), cs, path, XLSXOptions{})

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, dropped)
	require.Len(t, cs.refs, 1)
	assert.Equal(t, "螺纹钢", cs.refs[0].Name)
}

func TestImportMaterials_EndToEnd(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"材料名称", "单位", "数量", "单价"},
			{"螺纹钢", "t", "10", "4100"},
		},
	})

	cs := &captureStore{}
	n, dropped, err := ImportMaterials(context.Background(), cs, "proj-1", path, XLSXOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, dropped)
	require.Len(t, cs.materials, 1)
}

func TestImportCatalogue_NoUsableRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"材料名称", "期号"}, {"", ""}},
	})

	_, _, err := ImportCatalogue(context.Background(), &captureStore{}, path, XLSXOptions{})
	assert.Error(t, err)
}
