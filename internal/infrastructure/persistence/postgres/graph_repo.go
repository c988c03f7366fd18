// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/domain/repository"
)

type GraphRepository struct {
	client *Client
}

var _ repository.GraphRepository = (*GraphRepository)(nil)

func NewGraphRepository(client *Client) *GraphRepository {
	return &GraphRepository{client: client}
}

func (r *GraphRepository) FindEntitiesByName(ctx context.Context, names []string, topK int) ([]*entity.GraphEntity, error) {
	ctx, span := tracer.Start(ctx, "postgres.GraphRepository.FindEntitiesByName")
	defer span.End()

	if len(names) == 0 {
		return nil, nil
	}

	var entities []*entity.GraphEntity
	query := r.client.db.WithContext(ctx).
		Where("name IN ?", names).
		Order("created_at ASC")
	if topK > 0 {
		query = query.Limit(topK)
	}
	if err := query.Find(&entities).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find graph entities: %w", err)
	}
	return entities, nil
}

func (r *GraphRepository) FindRelations(ctx context.Context, names []string, topK int) ([]*entity.GraphRelation, error) {
	ctx, span := tracer.Start(ctx, "postgres.GraphRepository.FindRelations")
	defer span.End()

	if len(names) == 0 {
		return nil, nil
	}

	var relations []*entity.GraphRelation
	query := r.client.db.WithContext(ctx).
		Where("source_name IN ? OR target_name IN ?", names, names).
		Order("created_at ASC")
	if topK > 0 {
		query = query.Limit(topK)
	}
	if err := query.Find(&relations).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find graph relations: %w", err)
	}
	return relations, nil
}
