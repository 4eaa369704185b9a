package ingest

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/store"
)

// catalogueHeaders maps recognised column titles to canonical field names.
// Both the Chinese publication headers and plain English names are accepted.
var catalogueHeaders = map[string]string{
	"材料编码": "material_code", "编码": "material_code", "material_code": "material_code",
	"材料名称": "name", "名称": "name", "name": "name",
	"规格型号": "specification", "规格": "specification", "specification": "specification",
	"单位": "unit", "计量单位": "unit", "unit": "unit",
	"类别": "category", "材料类别": "category", "category": "category",
	"价格类型": "price_type", "price_type": "price_type",
	"省": "province", "省份": "province", "province": "province",
	"市": "city", "城市": "city", "city": "city",
	"区县": "district", "区": "district", "district": "district",
	"期号": "issue_period", "发布期": "issue_period", "price_date": "issue_period",
	"除税价": "price_excluding_tax", "不含税价": "price_excluding_tax", "price_excluding_tax": "price_excluding_tax",
	"含税价": "price_including_tax", "price_including_tax": "price_including_tax",
}

var priceTypes = map[string]model.PriceType{
	"provincial": model.PriceTypeProvincial,
	"省刊":         model.PriceTypeProvincial,
	"省":          model.PriceTypeProvincial,
	"municipal":  model.PriceTypeMunicipal,
	"市刊":         model.PriceTypeMunicipal,
	"市":          model.PriceTypeMunicipal,
}

// RowError describes a row the parser had to drop.
type RowError struct {
	Row    int
	Reason string
}

// ParseCatalogue converts header and rows into reference materials. Rows the
// parser cannot use are reported, not fatal.
func ParseCatalogue(header []string, rows [][]string) ([]model.ReferenceMaterial, []RowError) {
	cols := columnIndex(header, catalogueHeaders)

	var refs []model.ReferenceMaterial
	var dropped []RowError
	for i, row := range rows {
		rowNum := i + 2 // 1-based, after the header

		get := func(field string) string {
			idx, ok := cols[field]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		name := get("name")
		if name == "" {
			continue // blank or decorative row
		}

		period, err := model.ParseYearMonth(get("issue_period"))
		if err != nil {
			dropped = append(dropped, RowError{Row: rowNum, Reason: "unparseable issue period"})
			continue
		}

		priceType, ok := priceTypes[strings.ToLower(get("price_type"))]
		if !ok {
			// publications without an explicit type are city sheets when a
			// city is present
			if get("city") != "" {
				priceType = model.PriceTypeMunicipal
			} else {
				priceType = model.PriceTypeProvincial
			}
		}

		ref := model.ReferenceMaterial{
			MaterialCode:      get("material_code"),
			Name:              name,
			Specification:     get("specification"),
			Unit:              get("unit"),
			Category:          get("category"),
			PriceType:         priceType,
			Province:          get("province"),
			City:              get("city"),
			District:          get("district"),
			IssuePeriod:       period,
			PriceExcludingTax: parsePrice(get("price_excluding_tax")),
			PriceIncludingTax: parsePrice(get("price_including_tax")),
		}
		if err := ref.Validate(); err != nil {
			dropped = append(dropped, RowError{Row: rowNum, Reason: err.Error()})
			continue
		}
		refs = append(refs, ref)
	}
	return refs, dropped
}

// ImportCatalogue reads an XLSX catalogue and upserts its entries.
func ImportCatalogue(ctx context.Context, st store.Store, path string, opts XLSXOptions) (int64, []RowError, error) {
	header, rows, err := ReadXLSX(path, opts)
	if err != nil {
		return 0, nil, eris.Wrapf(err, "ingest: read catalogue %s", path)
	}

	refs, dropped := ParseCatalogue(header, rows)
	if len(refs) == 0 {
		return 0, dropped, eris.Errorf("ingest: no usable rows in %s", path)
	}

	n, err := st.UpsertReferenceMaterials(ctx, refs)
	if err != nil {
		return 0, dropped, eris.Wrap(err, "ingest: upsert catalogue")
	}

	zap.L().Info("catalogue imported",
		zap.String("path", path),
		zap.Int64("upserted", n),
		zap.Int("dropped", len(dropped)))
	return n, dropped, nil
}

func columnIndex(header []string, known map[string]string) map[string]int {
	cols := map[string]int{}
	for i, title := range header {
		key := strings.ToLower(strings.TrimSpace(title))
		if field, ok := known[key]; ok {
			if _, taken := cols[field]; !taken {
				cols[field] = i
			}
		}
	}
	return cols
}

// parsePrice tolerates currency decoration and thousands separators.
func parsePrice(s string) float64 {
	s = strings.NewReplacer(",", "", "，", "", "元", "", "¥", "", "￥", "").Replace(s)
	v, err := cast.ToFloat64E(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}
