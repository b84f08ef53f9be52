package ai

import (
	"fmt"
	"strings"

	"lunar-bazi/backend/internal/bazi"
)

const (
	solarBoundaryInstruction = "計算年柱時，必須嚴格「以立春」為年度分界點（即立春前屬舊年，立春後屬新年，這是命理八字的標準做法）。"
	lunarBoundaryInstruction = "計算年柱時，請「以農曆正月初一」為年度分界點（即大年初一前屬舊年，初一後屬新年）。"
)

// requiredFields lists every key the model must return.
var requiredFields = []string{
	"yearPillar", "monthPillar", "dayPillar", "hourPillar",
	"lunarDate", "zodiac", "solarTerm", "fiveElements", "interpretation",
}

// BoundaryInstruction returns the year pillar rule sent to the model.
func BoundaryInstruction(boundary bazi.YearBoundary) string {
	if boundary == bazi.BoundaryLunar {
		return lunarBoundaryInstruction
	}
	return solarBoundaryInstruction
}

// BuildPrompt renders the conversion request for the supplied moment.
func BuildPrompt(input bazi.DateTimeInput) string {
	builder := &strings.Builder{}
	builder.WriteString("請將以下公曆日期和時間轉換為中國傳統農曆和生辰八字：\n")
	fmt.Fprintf(builder, "公曆時間：%d年%d月%d日 %d時%d分。\n\n", input.Year, input.Month, input.Day, input.Hour, input.Minute)
	builder.WriteString(BoundaryInstruction(input.YearBoundary))
	builder.WriteString("\n\n請返回結構化的 JSON 數據，包含以下字段：\n")
	builder.WriteString("- yearPillar (stem, branch): 年柱\n")
	builder.WriteString("- monthPillar (stem, branch): 月柱\n")
	builder.WriteString("- dayPillar (stem, branch): 日柱\n")
	builder.WriteString("- hourPillar (stem, branch): 時柱\n")
	builder.WriteString("- lunarDate: 農曆日期字符串（如：二零二四年臘月初五）\n")
	builder.WriteString("- zodiac: 生肖\n")
	builder.WriteString("- solarTerm: 最近的節氣\n")
	builder.WriteString("- fiveElements: 該八字對應的主要五行屬性列表\n")
	builder.WriteString("- interpretation: 簡短的運勢或性格解讀（約100字）")
	return builder.String()
}

// systemInstruction is used by providers without native schema support.
func systemInstruction() string {
	return "你是精通中國傳統曆法與八字命理的專家。只回覆一個嚴格的 JSON 物件，鍵為 " +
		strings.Join(requiredFields, ", ") +
		"；四柱欄位皆為含 stem 與 branch 的物件，fiveElements 為字串陣列。JSON 物件之外不得輸出任何內容。"
}

// normalizeJSONBlock strips markdown fences and surrounding chatter from a
// model reply so only the JSON object remains.
func normalizeJSONBlock(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexRune(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if strings.HasSuffix(trimmed, "```") {
			trimmed = trimmed[:len(trimmed)-3]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end >= start {
		return strings.TrimSpace(trimmed[start : end+1])
	}
	return trimmed
}
