// Package milvus 提供 Milvus 向量数据库访问层实现
package milvus

import (
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// CollectionAnswerChunks 检索语料片段集合
	CollectionAnswerChunks = "answer_chunks"
)

// AnswerChunksSchema 语料片段 Collection Schema。
// dimension 必须与 embedding 模型输出维度一致。
func AnswerChunksSchema(dimension int) *entity.Schema {
	return &entity.Schema{
		CollectionName: CollectionAnswerChunks,
		Description:    "Corpus chunks for semantic retrieval",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dimension),
				},
			},
			{
				Name:     "source_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
		},
	}
}

// AnswerChunk 语料片段数据结构
type AnswerChunk struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"vector"`
	SourceID string    `json:"source_id"`
	Content  string    `json:"content"`
}
