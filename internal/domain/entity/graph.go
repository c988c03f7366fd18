// Package entity 定义领域实体
package entity

import "time"

// GraphEntity 图谱实体节点
type GraphEntity struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(256);index;not null"`
	Type        string    `json:"type" gorm:"type:varchar(32);not null"`
	Description string    `json:"description" gorm:"type:text"`
	SourceID    string    `json:"source_id" gorm:"type:varchar(128);not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (GraphEntity) TableName() string {
	return "graph_entities"
}

// GraphRelation 图谱关系边（source -[relation]-> target）
type GraphRelation struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey"`
	SourceName string    `json:"source_name" gorm:"type:varchar(256);index;not null"`
	Relation   string    `json:"relation" gorm:"type:varchar(128);not null"`
	TargetName string    `json:"target_name" gorm:"type:varchar(256);index;not null"`
	SourceID   string    `json:"source_id" gorm:"type:varchar(128);not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (GraphRelation) TableName() string {
	return "graph_relations"
}
