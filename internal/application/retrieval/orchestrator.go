package retrieval

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/domain/repository"
	apperrors "rag-answer-api/pkg/errors"
	"rag-answer-api/pkg/logger"
	"rag-answer-api/pkg/metrics"
	"rag-answer-api/pkg/tracer"
)

// Options 检索编排参数
type Options struct {
	TopK         int
	MaxSnippets  int
	MaxRelations int
}

// Orchestrator 并发执行向量路与图谱路召回并融合结果。
// 单路失败降级继续，双路全失败才向上返回错误。
type Orchestrator struct {
	embedder  Embedder
	vector    VectorSearcher
	graph     repository.GraphRepository
	extractor EntityExtractor
	opts      Options
}

// NewOrchestrator 创建检索编排器
func NewOrchestrator(
	embedder Embedder,
	vector VectorSearcher,
	graph repository.GraphRepository,
	extractor EntityExtractor,
	opts Options,
) *Orchestrator {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.MaxSnippets <= 0 {
		opts.MaxSnippets = 5
	}
	if opts.MaxRelations <= 0 {
		opts.MaxRelations = 10
	}
	return &Orchestrator{
		embedder:  embedder,
		vector:    vector,
		graph:     graph,
		extractor: extractor,
		opts:      opts,
	}
}

// Retrieve 对问题执行完整召回：实体抽取 → 并发双路检索 → 融合。
// 返回的 Context 带有融合置信度与稳定指纹。
func (o *Orchestrator) Retrieve(ctx context.Context, question string) (*Context, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	// 实体抽取失败不阻塞主链路：图谱路退化为空输入
	entities, err := o.extractor.Extract(ctx, question)
	if err != nil {
		logger.Warn(ctx, "实体抽取失败，图谱路退化", "error", err.Error())
		entities = nil
	}

	var (
		hits      []VectorHit
		relations []*entity.GraphRelation
		vectorErr error
		graphErr  error
	)

	// 两路互不取消：errgroup 仅做并发聚合，分支错误各自记录
	var g errgroup.Group
	g.Go(func() error {
		start := time.Now()
		hits, vectorErr = o.searchVector(ctx, question)
		metrics.RetrievalDuration.WithLabelValues("vector").Observe(time.Since(start).Seconds())
		if vectorErr != nil {
			metrics.RetrievalBranchFailures.WithLabelValues("vector").Inc()
		}
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		relations, graphErr = o.searchGraph(ctx, entities)
		metrics.RetrievalDuration.WithLabelValues("graph").Observe(time.Since(start).Seconds())
		if graphErr != nil {
			metrics.RetrievalBranchFailures.WithLabelValues("graph").Inc()
		}
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil && graphErr != nil {
		return nil, apperrors.ErrRetrievalFailed.WithError(vectorErr)
	}

	degraded := vectorErr != nil || graphErr != nil
	if degraded {
		branch, berr := "vector", vectorErr
		if graphErr != nil {
			branch, berr = "graph", graphErr
		}
		logger.Warn(ctx, "检索单路失败，降级继续", "branch", branch, "error", berr.Error())
	}

	rctx := &Context{
		Hits:       hits,
		Entities:   entities,
		Relations:  derefRelations(relations),
		Degraded:   degraded,
		Confidence: fuseConfidence(hits, len(entities), len(relations), degraded),
	}
	rctx.Fingerprint = Fingerprint(rctx, o.opts.MaxSnippets, o.opts.MaxRelations)
	return rctx, nil
}

// searchVector 向量路：查询向量化后在向量库中检索 topK
func (o *Orchestrator) searchVector(ctx context.Context, question string) ([]VectorHit, error) {
	vec, err := o.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	return o.vector.Search(ctx, vec, o.opts.TopK)
}

// searchGraph 图谱路：实体名匹配节点后展开一跳关系。
// 没有抽取到实体时返回空结果，不算失败。
func (o *Orchestrator) searchGraph(ctx context.Context, names []string) ([]*entity.GraphRelation, error) {
	if len(names) == 0 {
		return nil, nil
	}
	matched, err := o.graph.FindEntitiesByName(ctx, names, o.opts.TopK)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}
	matchedNames := make([]string, 0, len(matched))
	for _, e := range matched {
		matchedNames = append(matchedNames, e.Name)
	}
	return o.graph.FindRelations(ctx, matchedNames, o.opts.MaxRelations)
}

func derefRelations(in []*entity.GraphRelation) []entity.GraphRelation {
	out := make([]entity.GraphRelation, 0, len(in))
	for _, r := range in {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
