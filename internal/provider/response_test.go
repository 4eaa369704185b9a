package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "bare object", input: `{"a":1}`, want: `{"a":1}`, ok: true},
		{name: "surrounded by prose", input: "结果如下：{\"a\":1} 希望有帮助", want: `{"a":1}`, ok: true},
		{name: "nested braces", input: `x {"a":{"b":2}} y`, want: `{"a":{"b":2}}`, ok: true},
		{name: "braces inside string", input: `{"a":"}{","b":1}`, want: `{"a":"}{","b":1}`, ok: true},
		{name: "escaped quote", input: `{"a":"say \"}\"","b":1}`, want: `{"a":"say \"}\"","b":1}`, ok: true},
		{name: "unbalanced", input: `{"a":1`, ok: false},
		{name: "no object", input: "纯文本回答", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractJSON(tt.input)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	raw := `分析结果：{
		"price_range": {"min_price": "3800元", "max_price": 4200},
		"confidence_score": 85,
		"data_sources": [
			{"source_type": "信息价", "reliability": "★★★★☆", "min_price": 3900, "max_price": 4100},
			{"source_type": "电商平台", "reliability": "8"}
		],
		"reasoning": "综合多渠道数据",
		"risk_factors": ["区域运费波动"]
	}`

	res := ParseResponse(raw)
	require.False(t, res.ParseError)
	require.NotNil(t, res.PredictedPriceMin)
	require.NotNil(t, res.PredictedPriceMax)
	assert.Equal(t, 3800.0, *res.PredictedPriceMin)
	assert.Equal(t, 4200.0, *res.PredictedPriceMax)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.Equal(t, "综合多渠道数据", res.Reasoning)
	assert.Equal(t, []string{"区域运费波动"}, res.RiskFactors)

	require.Len(t, res.DataSources, 2)
	first := res.DataSources[0]
	assert.Equal(t, 3900.0, *first.PriceMin)
	assert.False(t, first.Imputed)

	// second source has no band, imputed from the item band
	second := res.DataSources[1]
	require.NotNil(t, second.PriceMin)
	assert.Equal(t, 3800.0, *second.PriceMin)
	assert.Equal(t, 4200.0, *second.PriceMax)
	assert.True(t, second.Imputed)
}

func TestParseResponseFallback(t *testing.T) {
	t.Parallel()

	res := ParseResponse("抱歉，我无法给出具体价格。")
	assert.True(t, res.ParseError)
	assert.InDelta(t, 0.3, res.Confidence, 1e-9)
	assert.Nil(t, res.PredictedPriceMin)
	assert.Equal(t, "抱歉，我无法给出具体价格。", res.Reasoning)
}

func TestParseResponseSwapsInvertedSourceBand(t *testing.T) {
	t.Parallel()

	res := ParseResponse(`{"price_range":{"min_price":100,"max_price":200},"data_sources":[{"source_type":"x","price_range_min":250,"price_range_max":150}]}`)
	require.Len(t, res.DataSources, 1)
	assert.Equal(t, 150.0, *res.DataSources[0].PriceMin)
	assert.Equal(t, 250.0, *res.DataSources[0].PriceMax)
}

func TestReliabilityWeight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  float64
	}{
		{"★★★★★", 1.0},
		{"★★★★☆", 0.8},
		{"★☆☆☆☆", 0.2},
		{"☆☆☆☆☆", 0.2},
		{"8", 0.8},
		{"85", 0.85},
		{"850", 0.85},
		{"0.5", 0.2},
		{"", 0.5},
		{"很高", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, ReliabilityWeight(tt.input), 1e-9)
		})
	}
}
