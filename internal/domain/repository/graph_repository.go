// Package repository 定义领域仓储接口
package repository

import (
	"context"

	"rag-answer-api/internal/domain/entity"
)

// GraphRepository 图谱存储的只读查询能力。
// 图谱的写入由实体抽取流水线负责，不在本服务范围内。
type GraphRepository interface {
	// FindEntitiesByName 按名称集合查找实体节点
	FindEntitiesByName(ctx context.Context, names []string, topK int) ([]*entity.GraphEntity, error)

	// FindRelations 查找与给定实体名称相连的关系边，按发现顺序返回
	FindRelations(ctx context.Context, names []string, topK int) ([]*entity.GraphRelation, error)
}
