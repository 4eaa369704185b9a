package ingest

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/store"
)

var materialHeaders = map[string]string{
	"序号": "seq", "seq": "seq",
	"材料名称": "name", "名称": "name", "name": "name",
	"规格型号": "specification", "规格": "specification", "specification": "specification",
	"单位": "unit", "计量单位": "unit", "unit": "unit",
	"类别": "category", "category": "category",
	"数量": "quantity", "工程量": "quantity", "quantity": "quantity",
	"单价": "reported_price", "报审单价": "reported_price", "综合单价": "reported_price", "reported_price": "reported_price",
}

// ParseMaterials converts header and rows into project materials for the
// given project.
func ParseMaterials(projectID string, header []string, rows [][]string) ([]model.ProjectMaterial, []RowError) {
	cols := columnIndex(header, materialHeaders)

	var materials []model.ProjectMaterial
	var dropped []RowError
	seq := 0
	for i, row := range rows {
		rowNum := i + 2

		get := func(field string) string {
			idx, ok := cols[field]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		name := get("name")
		if name == "" {
			continue
		}

		seq++
		m := model.ProjectMaterial{
			ProjectID:     projectID,
			Seq:           seq,
			Name:          name,
			Specification: get("specification"),
			Unit:          get("unit"),
			Category:      get("category"),
			Quantity:      parsePrice(get("quantity")),
			ReportedPrice: parsePrice(get("reported_price")),
		}
		if m.ReportedPrice <= 0 {
			dropped = append(dropped, RowError{Row: rowNum, Reason: "missing reported price"})
			seq--
			continue
		}
		materials = append(materials, m)
	}
	return materials, dropped
}

// ImportMaterials reads an XLSX material list and stores it under the
// project.
func ImportMaterials(ctx context.Context, st store.Store, projectID, path string, opts XLSXOptions) (int, []RowError, error) {
	header, rows, err := ReadXLSX(path, opts)
	if err != nil {
		return 0, nil, eris.Wrapf(err, "ingest: read materials %s", path)
	}

	materials, dropped := ParseMaterials(projectID, header, rows)
	if len(materials) == 0 {
		return 0, dropped, eris.Errorf("ingest: no usable rows in %s", path)
	}

	if err := st.CreateMaterials(ctx, materials); err != nil {
		return 0, dropped, eris.Wrap(err, "ingest: create materials")
	}

	zap.L().Info("materials imported",
		zap.String("project", projectID),
		zap.String("path", path),
		zap.Int("created", len(materials)),
		zap.Int("dropped", len(dropped)))
	return len(materials), dropped, nil
}
