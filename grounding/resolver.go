package grounding

import (
	"github.com/BaSui01/groundrag/types"
)

// OffsetResolver 将声明文本映射到原文字符区间：先精确匹配，再近似匹配。
// 无共享状态，可并发使用。
type OffsetResolver struct {
	threshold float64
}

// NewOffsetResolver creates a resolver. A threshold outside (0, 1] falls back to DefaultFuzzyThreshold.
func NewOffsetResolver(threshold float64) *OffsetResolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultFuzzyThreshold
	}
	return &OffsetResolver{threshold: threshold}
}

// Threshold returns the configured fuzzy threshold.
func (r *OffsetResolver) Threshold() float64 {
	return r.threshold
}

// Resolve locates claim inside source. It returns nil when claim or source is
// empty or when no window is within the threshold.
func (r *OffsetResolver) Resolve(claim, source string) *types.OffsetMatch {
	if claim == "" || source == "" {
		return nil
	}
	c := foldRunes(claim)
	s := foldRunes(source)

	if idx := indexRunes(s, c); idx >= 0 {
		return &types.OffsetMatch{Start: idx, End: idx + len(c), Distance: 0}
	}
	return fuzzyMatch(c, s, r.threshold)
}

var defaultResolver = NewOffsetResolver(DefaultFuzzyThreshold)

// Resolve runs the default resolver (threshold 0.3).
func Resolve(claim, source string) *types.OffsetMatch {
	return defaultResolver.Resolve(claim, source)
}

// indexRunes returns the rune index of the first occurrence of sub in s, or -1.
func indexRunes(s, sub []rune) int {
	n := len(sub)
	if n == 0 {
		return 0
	}
outer:
	for i := 0; i+n <= len(s); i++ {
		for j := 0; j < n; j++ {
			if s[i+j] != sub[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
