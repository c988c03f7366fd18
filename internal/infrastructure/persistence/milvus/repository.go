// Package milvus 提供 Milvus 向量数据库访问层实现
package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rag-answer-api/internal/application/retrieval"
	apperrors "rag-answer-api/pkg/errors"
	"rag-answer-api/pkg/metrics"
)

// Repository 向量检索仓储
type Repository struct {
	client    *Client
	dimension int
}

var _ retrieval.VectorSearcher = (*Repository)(nil)

// NewRepository 创建向量检索仓储。dimension 为向量维度。
func NewRepository(client *Client, dimension int) *Repository {
	return &Repository{client: client, dimension: dimension}
}

// EnsureCollection 确保集合、HNSW 索引存在并已加载。
// 幂等，服务启动与 bootstrap 工具都可调用。
func (r *Repository) EnsureCollection(ctx context.Context) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.EnsureCollection")
	defer span.End()

	collName := r.client.CollectionName(CollectionAnswerChunks)

	has, err := r.client.milvus.HasCollection(ctx, collName)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		schema := AnswerChunksSchema(r.dimension)
		schema.CollectionName = collName
		if err := r.client.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexHNSW(
			entity.COSINE,
			r.client.config.HNSWM,
			r.client.config.HNSWEfConstruction,
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := r.client.milvus.CreateIndex(ctx, collName, "vector", idx, false); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := r.client.milvus.LoadCollection(ctx, collName, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// Search 按余弦相似度检索 topK 个片段
func (r *Repository) Search(ctx context.Context, vector []float32, topK int) ([]retrieval.VectorHit, error) {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return nil, apperrors.ErrVectorDBError.WithDetail("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.MilvusSearchDuration.WithLabelValues(CollectionAnswerChunks).Observe(time.Since(start).Seconds())
	}()

	collName := r.client.CollectionName(CollectionAnswerChunks)

	sp, err := entity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.ErrVectorDBError.WithError(err)
	}

	results, err := r.client.milvus.Search(ctx,
		collName,
		nil,
		"",
		[]string{"id", "source_id", "content"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.ErrVectorDBError.WithError(err)
	}

	var hits []retrieval.VectorHit
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			hit := retrieval.VectorHit{
				Score: float64(result.Scores[i]),
			}
			if col, ok := result.Fields.GetColumn("source_id").(*entity.ColumnVarChar); ok {
				hit.SourceID = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("content").(*entity.ColumnVarChar); ok {
				hit.Content = col.Data()[i]
			}
			hits = append(hits, hit)
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(hits)))
	return hits, nil
}

// InsertChunks 批量写入语料片段
func (r *Repository) InsertChunks(ctx context.Context, chunks []*AnswerChunk) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return apperrors.ErrVectorDBError.WithDetail("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.InsertChunks",
		trace.WithAttributes(attribute.Int("count", len(chunks))))
	defer span.End()

	if len(chunks) == 0 {
		return nil
	}

	collName := r.client.CollectionName(CollectionAnswerChunks)

	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	sourceIDs := make([]string, len(chunks))
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		vectors[i] = c.Vector
		sourceIDs[i] = c.SourceID
		contents[i] = c.Content
	}

	idCol := entity.NewColumnVarChar("id", ids)
	vectorCol := entity.NewColumnFloatVector("vector", r.dimension, vectors)
	sourceCol := entity.NewColumnVarChar("source_id", sourceIDs)
	contentCol := entity.NewColumnVarChar("content", contents)

	if _, err := r.client.milvus.Insert(ctx, collName, "", idCol, vectorCol, sourceCol, contentCol); err != nil {
		span.RecordError(err)
		return apperrors.ErrVectorDBError.WithError(err)
	}
	return nil
}
