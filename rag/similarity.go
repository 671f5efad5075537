package rag

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Embedder 文本向量化接口，向量计算本身不在本仓库范围内
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// 等同度计算等同度
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// terms 小写分词，去掉过短的词
func terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// lexicalScore 查询词在文本中的覆盖率，作为无向量时的相关度
func lexicalScore(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	present := make(map[string]struct{})
	for _, t := range terms(text) {
		present[t] = struct{}{}
	}
	hits := 0
	for _, t := range queryTerms {
		if _, ok := present[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}

// relevance 优先使用向量相似度，其次词项覆盖率
func relevance(queryVec []float64, queryTerms []string, vec []float64, text string) float64 {
	if len(queryVec) > 0 && len(vec) > 0 {
		// 余弦相似度映射到 [0,1]
		return (cosineSimilarity(queryVec, vec) + 1) / 2
	}
	return lexicalScore(queryTerms, text)
}
