package provider

import (
	"fmt"
	"strings"
	"time"
)

// BuildPrompt renders the shared analysis prompt. All providers use the same
// template so their answers stay comparable and the JSON contract stays
// uniform.
func BuildPrompt(req Request) string {
	date := req.AnalysisDate
	if date.IsZero() {
		date = time.Now()
	}

	var b strings.Builder
	b.WriteString("你是建筑材料价格审计专家。请分析以下材料的市场价格区间。\n\n")
	fmt.Fprintf(&b, "材料名称：%s\n", req.MaterialName)
	if req.Specification != "" {
		fmt.Fprintf(&b, "规格型号：%s\n", req.Specification)
	}
	fmt.Fprintf(&b, "计量单位：%s\n", req.Unit)
	fmt.Fprintf(&b, "所在地区：%s\n", req.Region)
	fmt.Fprintf(&b, "分析基准日期：%s\n", date.Format("2006-01"))
	if req.Context != "" {
		fmt.Fprintf(&b, "补充说明：%s\n", req.Context)
	}

	b.WriteString(`
请综合以下证据渠道给出价格判断，并逐一说明：
1. 政府造价信息平台发布的信息价
2. 大宗商品与建材电商平台的挂牌价
3. 行业市场行情报告
4. 同类工程的历史结算数据

只输出一个 JSON 对象，格式如下：
{
  "price_range": {"min_price": 数值, "max_price": 数值},
  "confidence_score": 0到1之间的数值,
  "data_sources": [
    {
      "source_type": "渠道类型",
      "platform_examples": "平台举例",
      "data_count": "样本数量",
      "sample_description": "样本说明",
      "timeliness": "数据时效",
      "reliability": "可靠性（星级，如★★★★☆）",
      "price_range_min": 数值,
      "price_range_max": 数值,
      "notes": "备注"
    }
  ],
  "reasoning": "分析过程",
  "risk_factors": ["风险因素"]
}
价格单位为人民币元/`)
	b.WriteString(req.Unit)
	b.WriteString("，不含税。不要输出 JSON 以外的任何内容。\n")
	return b.String()
}
