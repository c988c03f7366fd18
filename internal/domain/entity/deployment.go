// Package entity 定义领域实体
package entity

import "time"

// ModelDeployment 一个生成 API 部署的静态描述。
// 启动时从配置构建，运行期只读；热更新需要重启。
type ModelDeployment struct {
	Name              string
	Model             string
	ContextWindow     int
	MaxOutputTokens   int
	InputPricePer1K   float64
	OutputPricePer1K  float64
	RequestsPerMinute int
	TokensPerMinute   int
	Capability        int
	Timeout           time.Duration
}

// FitsContext 判断 prompt + 预留的回答空间是否放得进上下文窗口
func (d ModelDeployment) FitsContext(promptTokens, reserveTokens int) bool {
	return promptTokens+reserveTokens <= d.ContextWindow
}

// EstimateCost 按每千 token 单价估算成本
func (d ModelDeployment) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*d.InputPricePer1K +
		float64(outputTokens)/1000*d.OutputPricePer1K
}
