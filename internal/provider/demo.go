package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/price-audit/internal/model"
)

// demoProvider synthesises a deterministic price band from a keyword table.
// It is installed when no real credentials exist so the pipeline still runs
// end to end offline.
type demoProvider struct{}

// NewDemo builds the offline demo provider.
func NewDemo() Provider { return demoProvider{} }

type demoEntry struct {
	keyword  string
	min, max float64
	unit     string
}

// Rough mainland market bands, CNY excluding tax.
var demoTable = []demoEntry{
	{"钢筋", 3400, 4200, "t"},
	{"螺纹钢", 3400, 4100, "t"},
	{"混凝土", 380, 520, "m3"},
	{"砼", 380, 520, "m3"},
	{"水泥", 380, 560, "t"},
	{"中砂", 120, 190, "m3"},
	{"砂", 100, 200, "m3"},
	{"碎石", 80, 150, "m3"},
	{"红砖", 0.4, 0.7, "piece"},
	{"砖", 0.3, 0.8, "piece"},
	{"木模板", 40, 70, "m2"},
	{"模板", 30, 80, "m2"},
	{"钢管", 4200, 5400, "t"},
	{"电缆", 20, 60, "m"},
	{"防水卷材", 25, 55, "m2"},
}

func (demoProvider) Name() string { return "demo" }

func (demoProvider) Analyse(_ context.Context, req Request) (*Result, error) {
	start := time.Now()

	min, max := 50.0, 200.0
	matched := "通用材料"
	for _, e := range demoTable {
		if strings.Contains(req.MaterialName, e.keyword) {
			min, max = e.min, e.max
			matched = e.keyword
			break
		}
	}

	prompt := BuildPrompt(req)
	reasoning := fmt.Sprintf("离线演示模式：按关键词「%s」查表得到 %s 地区参考价格区间 %.2f-%.2f 元/%s。该结果不代表实际市场行情。",
		matched, req.Region, min, max, req.Unit)

	return &Result{
		Provider:          "demo",
		Model:             "demo-lookup-table",
		PredictedPriceMin: model.Float64Ptr(min),
		PredictedPriceMax: model.Float64Ptr(max),
		Confidence:        0.35,
		DataSources: []model.DataSource{{
			SourceType:       "内置参考价格表",
			PlatformExamples: "离线演示数据",
			SampleSize:       "1",
			Reliability:      "★★☆☆☆",
			Timeliness:       "静态",
			PriceMin:         model.Float64Ptr(min),
			PriceMax:         model.Float64Ptr(max),
		}},
		Reasoning:   reasoning,
		RiskFactors: []string{"演示数据，未联网核实"},
		Prompt:      prompt,
		RawResponse: reasoning,
		Elapsed:     time.Since(start),
	}, nil
}

func (demoProvider) Probe(context.Context) error { return nil }
