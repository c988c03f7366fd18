package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-answer-api/internal/domain/entity"
	apperrors "rag-answer-api/pkg/errors"
)

type fakeEmbedder struct{ err error }

func (e *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeSearcher struct {
	hits []VectorHit
	err  error
}

func (s *fakeSearcher) Search(_ context.Context, _ []float32, _ int) ([]VectorHit, error) {
	return s.hits, s.err
}

type fakeGraph struct {
	entities  []*entity.GraphEntity
	relations []*entity.GraphRelation
	err       error
}

func (g *fakeGraph) FindEntitiesByName(_ context.Context, _ []string, _ int) ([]*entity.GraphEntity, error) {
	return g.entities, g.err
}

func (g *fakeGraph) FindRelations(_ context.Context, _ []string, _ int) ([]*entity.GraphRelation, error) {
	return g.relations, g.err
}

type fakeExtractor struct {
	names []string
	err   error
}

func (e *fakeExtractor) Extract(_ context.Context, _ string) ([]string, error) {
	return e.names, e.err
}

func healthyOrchestrator() *Orchestrator {
	return NewOrchestrator(
		&fakeEmbedder{},
		&fakeSearcher{hits: []VectorHit{{SourceID: "d1", Content: "内容", Score: 0.9}}},
		&fakeGraph{
			entities:  []*entity.GraphEntity{{Name: "张三"}},
			relations: []*entity.GraphRelation{{SourceName: "张三", Relation: "任职于", TargetName: "某公司"}},
		},
		&fakeExtractor{names: []string{"张三"}},
		Options{TopK: 10, MaxSnippets: 5, MaxRelations: 10},
	)
}

func TestRetrieveBothBranchesHealthy(t *testing.T) {
	rctx, err := healthyOrchestrator().Retrieve(context.Background(), "张三在哪工作")
	require.NoError(t, err)

	assert.False(t, rctx.Degraded)
	assert.Len(t, rctx.Hits, 1)
	assert.Len(t, rctx.Relations, 1)
	assert.Equal(t, []string{"张三"}, rctx.Entities)
	assert.Greater(t, rctx.Confidence, 0.0)
	assert.NotEmpty(t, rctx.Fingerprint)
}

func TestRetrieveVectorFailureDegrades(t *testing.T) {
	o := healthyOrchestrator()
	o.vector = &fakeSearcher{err: errors.New("milvus down")}

	rctx, err := o.Retrieve(context.Background(), "问题")
	require.NoError(t, err)
	assert.True(t, rctx.Degraded)
	assert.Empty(t, rctx.Hits)
	assert.Len(t, rctx.Relations, 1)
}

func TestRetrieveEmbeddingFailureDegradesVectorBranch(t *testing.T) {
	o := healthyOrchestrator()
	o.embedder = &fakeEmbedder{err: errors.New("embedding service down")}

	rctx, err := o.Retrieve(context.Background(), "问题")
	require.NoError(t, err)
	assert.True(t, rctx.Degraded)
	assert.Empty(t, rctx.Hits)
}

func TestRetrieveGraphFailureDegrades(t *testing.T) {
	o := healthyOrchestrator()
	o.graph = &fakeGraph{err: errors.New("postgres down")}

	rctx, err := o.Retrieve(context.Background(), "问题")
	require.NoError(t, err)
	assert.True(t, rctx.Degraded)
	assert.Len(t, rctx.Hits, 1)
	assert.Empty(t, rctx.Relations)
}

func TestRetrieveBothBranchesFail(t *testing.T) {
	o := healthyOrchestrator()
	o.vector = &fakeSearcher{err: errors.New("milvus down")}
	o.graph = &fakeGraph{err: errors.New("postgres down")}

	_, err := o.Retrieve(context.Background(), "问题")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRetrievalFailed))
}

func TestRetrieveExtractorFailureOnlyEmptiesGraphInput(t *testing.T) {
	o := healthyOrchestrator()
	o.extractor = &fakeExtractor{err: errors.New("ner service down")}

	rctx, err := o.Retrieve(context.Background(), "问题")
	require.NoError(t, err)
	// 抽取失败不算分支失败：图谱路空输入空输出
	assert.False(t, rctx.Degraded)
	assert.Empty(t, rctx.Entities)
	assert.Empty(t, rctx.Relations)
	assert.Len(t, rctx.Hits, 1)
}

func TestRetrieveDegradedLowersConfidence(t *testing.T) {
	healthy, err := healthyOrchestrator().Retrieve(context.Background(), "问题")
	require.NoError(t, err)

	o := healthyOrchestrator()
	o.graph = &fakeGraph{err: errors.New("postgres down")}
	degraded, err := o.Retrieve(context.Background(), "问题")
	require.NoError(t, err)

	assert.Less(t, degraded.Confidence, healthy.Confidence)
}
