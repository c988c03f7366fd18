package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbeddingKeyDeterministic(t *testing.T) {
	var k Keyer
	a := k.EmbeddingKey("text-embedding-3-small", "什么是向量检索")
	b := k.EmbeddingKey("text-embedding-3-small", "什么是向量检索")
	assert.Equal(t, a, b)
}

func TestEmbeddingKeyNormalizesWhitespace(t *testing.T) {
	var k Keyer
	a := k.EmbeddingKey("m", "  what   is\tRAG \n")
	b := k.EmbeddingKey("m", "what is RAG")
	assert.Equal(t, a, b)
}

func TestEmbeddingKeyVariesByModelAndText(t *testing.T) {
	var k Keyer
	base := k.EmbeddingKey("m1", "question")
	assert.NotEqual(t, base, k.EmbeddingKey("m2", "question"))
	assert.NotEqual(t, base, k.EmbeddingKey("m1", "Question"))
}

func TestAnswerKeyIncludesContextFingerprint(t *testing.T) {
	var k Keyer
	a := k.AnswerKey("gpt-4o", "prompt", "fp-1")
	b := k.AnswerKey("gpt-4o", "prompt", "fp-2")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, k.AnswerKey("gpt-4o", "prompt", "fp-1"))
}

func TestQuestionKeyIncludesHistory(t *testing.T) {
	var k Keyer
	bare := k.QuestionKey("北京是哪个国家的首都?", nil)
	assert.Equal(t, bare, k.QuestionKey("  北京是哪个国家的首都?  ", nil))
	assert.NotEqual(t, bare, k.QuestionKey("北京是哪个国家的首都?", []string{"user: 先说说上海"}))
	assert.NotEqual(t, bare, k.QuestionKey("上海是哪个国家的首都?", nil))
}

func TestKeyPrefixSeparatesKinds(t *testing.T) {
	var k Keyer
	assert.Contains(t, k.EmbeddingKey("m", "x"), KindEmbedding+":")
	assert.Contains(t, k.AnswerKey("m", "x", "fp"), KindAnswer+":")
	assert.Contains(t, k.QuestionKey("x", nil), KindQuestion+":")
}
