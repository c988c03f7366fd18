package utils

import "unicode"

// EstimateTokens 粗估文本 token 数：CJK 字符按 1 token 计，
// 其余按 4 字符 1 token 计。只用于预算准入与窗口适配，不做精确计费。
func EstimateTokens(s string) int {
	var cjk, other int
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	tokens := cjk + (other+3)/4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
