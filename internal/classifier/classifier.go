// Package classifier 提供可注入的纯分类函数：读数 -> 诊断标签。
// 核心只依赖 Func 类型；RuleBased 是默认的固定规则实现。
package classifier

import (
	"math"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
)

// Func 分类函数类型（纯函数，有界时间，无副作用）
type Func func(domain.Reading) domain.Label

// 固定规则阈值
const (
	feverThreshold   = 37.8 // 体温 ≥ 37.8 视为发热
	lowSpO2Threshold = 95.0 // 血氧 < 95 视为低血氧
	highBPMThreshold = 90.0 // 心率 > 90 视为心动过速
)

// RuleBased 固定规则分类器：
//   - 任一读数 ≤ 0 或非有限值 -> undetermined（继续采集）
//   - 发热 + 低血氧 + 心动过速 -> A
//   - 发热 + 血氧正常 + 心动过速 -> B
//   - 其余 -> undetermined
func RuleBased(r domain.Reading) domain.Label {
	if !valid(r.BPM) || !valid(r.SpO2) || !valid(r.Temperature) {
		return domain.LabelUndetermined
	}
	if r.Temperature >= feverThreshold && r.BPM > highBPMThreshold {
		if r.SpO2 < lowSpO2Threshold {
			return domain.LabelDiseaseA
		}
		return domain.LabelDiseaseB
	}
	return domain.LabelUndetermined
}

func valid(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
