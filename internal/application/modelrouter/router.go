// Package modelrouter 提供确定性的模型选择
package modelrouter

import (
	"fmt"
	"sort"

	"rag-answer-api/internal/domain/entity"
	apperrors "rag-answer-api/pkg/errors"
)

// Input 一次路由决策的全部输入。路由是纯函数：同样的输入必然选出同一个部署。
type Input struct {
	PromptTokens    int
	ReserveTokens   int
	Confidence      float64
	RemainingBudget float64
	DeepReasoning   bool
}

// Router 在已配置的部署集合中做模型选择
type Router struct {
	deployments         []entity.ModelDeployment
	confidenceThreshold float64
}

// New 创建路由器。部署顺序不影响决策结果。
func New(deployments map[string]entity.ModelDeployment, confidenceThreshold float64) *Router {
	list := make([]entity.ModelDeployment, 0, len(deployments))
	for _, d := range deployments {
		list = append(list, d)
	}
	// 预排序建立确定性基准序：能力升序，同能力按单价升序，再按名称兜底
	sort.Slice(list, func(i, j int) bool {
		if list[i].Capability != list[j].Capability {
			return list[i].Capability < list[j].Capability
		}
		pi := list[i].InputPricePer1K + list[i].OutputPricePer1K
		pj := list[j].InputPricePer1K + list[j].OutputPricePer1K
		if pi != pj {
			return pi < pj
		}
		return list[i].Name < list[j].Name
	})
	return &Router{deployments: list, confidenceThreshold: confidenceThreshold}
}

// Select 选出本次请求使用的部署。
// 规则：默认选能放下上下文且预算可负担的最便宜部署；
// 检索置信度低于阈值或调用方要求深度推理时，升级为能力最强的可用部署。
// 没有部署放得下上下文时拒绝请求；放得下但都付不起时按预算超限处理。
func (r *Router) Select(in Input) (entity.ModelDeployment, error) {
	fitting := make([]entity.ModelDeployment, 0, len(r.deployments))
	for _, d := range r.deployments {
		if d.FitsContext(in.PromptTokens, in.ReserveTokens) {
			fitting = append(fitting, d)
		}
	}
	if len(fitting) == 0 {
		return entity.ModelDeployment{}, apperrors.ErrUpstreamRejected.WithDetail(
			fmt.Sprintf("prompt of %d tokens exceeds every deployment context window", in.PromptTokens))
	}

	escalate := in.DeepReasoning || in.Confidence < r.confidenceThreshold
	candidates := fitting
	if escalate {
		// 升级路径：从能力最强端开始找
		candidates = reversed(fitting)
	}

	for _, d := range candidates {
		if r.affordable(d, in) {
			return d, nil
		}
	}
	return entity.ModelDeployment{}, apperrors.ErrBudgetExceeded.WithDetail(
		"remaining budget cannot cover any fitting deployment")
}

// affordable 以最坏输出长度估算成本，要求不超过剩余预算
func (r *Router) affordable(d entity.ModelDeployment, in Input) bool {
	worstCase := d.EstimateCost(in.PromptTokens, d.MaxOutputTokens)
	return worstCase <= in.RemainingBudget
}

func reversed(in []entity.ModelDeployment) []entity.ModelDeployment {
	out := make([]entity.ModelDeployment, len(in))
	for i, d := range in {
		out[len(in)-1-i] = d
	}
	return out
}
