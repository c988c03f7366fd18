package cache

import (
	"context"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
)

type fakeCounter struct {
	observed []string
	top      []string
}

func (c *fakeCounter) Observe(_ context.Context, question string) error {
	c.observed = append(c.observed, question)
	return nil
}

func (c *fakeCounter) Top(_ context.Context, _ int64, _ int64) ([]string, error) {
	return c.top, nil
}

type fakeEmbedder struct {
	calls int
}

func (e *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls++
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out, nil
}

func TestPrecomputerWarmsMissingEntries(t *testing.T) {
	counter := &fakeCounter{top: []string{"热门问题一", "热门问题二"}}
	embedder := &fakeEmbedder{}
	tiered := newTestTiered(newFakeStore())
	p := NewPrecomputer(counter, tiered, embedder, "emb-model", time.Hour, 10, 3)

	assert.NoError(t, p.RunOnce(context.Background()))
	assert.Equal(t, 2, embedder.calls)

	var k Keyer
	_, ok := tiered.Lookup(context.Background(), KindEmbedding, k.EmbeddingKey("emb-model", "热门问题一"))
	assert.True(t, ok)
}

func TestPrecomputerSkipsCachedEntries(t *testing.T) {
	counter := &fakeCounter{top: []string{"已缓存的问题"}}
	embedder := &fakeEmbedder{}
	tiered := newTestTiered(newFakeStore())
	p := NewPrecomputer(counter, tiered, embedder, "emb-model", time.Hour, 10, 3)

	// 第一轮预热后再跑一轮，不应重复调用 embedding 服务
	assert.NoError(t, p.RunOnce(context.Background()))
	assert.NoError(t, p.RunOnce(context.Background()))
	assert.Equal(t, 1, embedder.calls)
}

func TestPrecomputerObserveNormalizes(t *testing.T) {
	counter := &fakeCounter{}
	p := NewPrecomputer(counter, newTestTiered(nil), &fakeEmbedder{}, "m", time.Hour, 10, 3)

	p.Observe(context.Background(), "  what  is\tRAG ")
	assert.Equal(t, []string{"what is RAG"}, counter.observed)
}
