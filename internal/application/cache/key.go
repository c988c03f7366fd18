// Package cache 提供两级缓存（进程内 + 分布式）与确定性键派生
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gowebpki/jcs"
)

// 缓存键前缀，按载荷类型区分键空间
const (
	KindEmbedding = "emb"
	KindAnswer    = "ans"
	KindQuestion  = "ansq"
)

// Keyer 从语义输入派生稳定缓存键。
// 同一逻辑请求无论字段顺序、空白差异如何，必须落在同一个键上。
type Keyer struct{}

// EmbeddingKey 派生 embedding 缓存键：规范化文本 + 模型标识
func (Keyer) EmbeddingKey(model, text string) string {
	return KindEmbedding + ":" + canonicalDigest(map[string]string{
		"kind":  KindEmbedding,
		"model": model,
		"text":  NormalizeText(text),
	})
}

// AnswerKey 派生答案缓存键：规范化 prompt + 模型标识 + 检索上下文指纹
func (Keyer) AnswerKey(model, prompt, contextFingerprint string) string {
	return KindAnswer + ":" + canonicalDigest(map[string]string{
		"kind":   KindAnswer,
		"model":  model,
		"prompt": NormalizeText(prompt),
		"ctx":    contextFingerprint,
	})
}

// QuestionKey 派生问题级答案索引键：规范化问题 + 会话历史。
// 不含模型与检索指纹，因此在实体抽取和检索执行之前就能判定命中。
func (Keyer) QuestionKey(question string, history []string) string {
	normalized := make([]string, len(history))
	for i, turn := range history {
		normalized[i] = NormalizeText(turn)
	}
	return KindQuestion + ":" + canonicalDigest(map[string]any{
		"kind":     KindQuestion,
		"question": NormalizeText(question),
		"history":  normalized,
	})
}

// NormalizeText 折叠空白并去除首尾空格。
// 不做大小写折叠：大小写是语义的一部分。
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonicalDigest 将结构化输入经 JCS（RFC 8785）规范化后取 SHA-256。
// JCS 保证键序无关，规避 map 序列化顺序带来的键漂移。
func canonicalDigest(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// 输入均为字符串 map，Marshal 不会失败；兜底直接散列原始表示
		sum := sha256.Sum256([]byte(strings.TrimSpace(string(raw))))
		return hex.EncodeToString(sum[:])
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		canonical = raw
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
