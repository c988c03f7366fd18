package retrieval

// 置信度融合权重。向量路是主信号，图谱路做佐证。
const (
	vectorWeight = 0.7
	graphWeight  = 0.3

	// signalTopN 参与信号归一的命中/关系数上限
	signalTopN = 5
)

// fuseConfidence 计算融合置信度，取值 [0,1]。
// 单调性保证：新增命中、提高相似度分数、新增实体或关系都不会降低结果。
// 分支降级时乘以衰减因子，向调用方显式传达证据不完整。
func fuseConfidence(hits []VectorHit, entityCount, relationCount int, degraded bool) float64 {
	score := vectorWeight*vectorSignal(hits) + graphWeight*graphSignal(entityCount, relationCount)
	if degraded {
		score *= 0.6
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// vectorSignal 对 top-N 相似度分数求和后按固定容量归一。
// 除以常数 N 而非实际命中数，保证命中越多信号越强。
func vectorSignal(hits []VectorHit) float64 {
	var sum float64
	for i, h := range topHits(hits, signalTopN) {
		if i >= signalTopN {
			break
		}
		s := h.Score
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		sum += s
	}
	sig := sum / signalTopN
	if sig > 1 {
		sig = 1
	}
	return sig
}

// graphSignal 实体数与关系数各占一半，超过 N 个后饱和
func graphSignal(entityCount, relationCount int) float64 {
	return 0.5*saturate(entityCount) + 0.5*saturate(relationCount)
}

func saturate(n int) float64 {
	if n >= signalTopN {
		return 1
	}
	if n <= 0 {
		return 0
	}
	return float64(n) / signalTopN
}
