package grounding

import (
	"math"
	"unicode"

	"github.com/BaSui01/groundrag/types"
)

// DefaultFuzzyThreshold 近似匹配允许的最大归一化编辑距离
const DefaultFuzzyThreshold = 0.3

const (
	minWindowRatio = 0.8
	maxWindowRatio = 1.2
)

// EditDistance returns the Levenshtein distance between a and b, measured in runes.
func EditDistance(a, b string) int {
	return editDistance([]rune(a), []rune(b))
}

// NormalizedDistance returns EditDistance(a, b) / max(len(a), len(b)).
func NormalizedDistance(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 0
	}
	return float64(editDistance(ra, rb)) / float64(longest)
}

// editDistance 单行 DP，插入/删除/替换代价均为 1
func editDistance(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cur := row[j]
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[j] = min(row[j]+1, row[j-1]+1, prev+cost)
			prev = cur
		}
	}
	return row[len(b)]
}

// FuzzyMatch slides windows of 0.8x to 1.2x the claim length across source and
// returns the window with the lowest normalized edit distance not above threshold.
// Comparison is case-insensitive. Offsets are rune offsets into source.
// Ties keep the earliest start, then the shorter window.
func FuzzyMatch(claim, source string, threshold float64) *types.OffsetMatch {
	c := foldRunes(claim)
	s := foldRunes(source)
	return fuzzyMatch(c, s, threshold)
}

func fuzzyMatch(claim, source []rune, threshold float64) *types.OffsetMatch {
	n := len(claim)
	if n == 0 || len(source) == 0 {
		return nil
	}

	minW := max(1, int(math.Floor(minWindowRatio*float64(n))))
	maxW := min(int(math.Ceil(maxWindowRatio*float64(n))), len(source))
	if minW > maxW {
		minW = maxW
	}

	// col[i] = 编辑距离(claim[:i], window[:j])，窗口逐字符向右扩展
	col := make([]int, n+1)

	var best *types.OffsetMatch
	for start := 0; start+minW <= len(source); start++ {
		for i := range col {
			col[i] = i
		}
		limit := min(maxW, len(source)-start)
		for j := 1; j <= limit; j++ {
			ch := source[start+j-1]
			diag := col[0]
			col[0] = j
			for i := 1; i <= n; i++ {
				up := col[i]
				cost := 1
				if claim[i-1] == ch {
					cost = 0
				}
				col[i] = min(col[i]+1, col[i-1]+1, diag+cost)
				diag = up
			}
			if j < minW {
				continue
			}
			dist := float64(col[n]) / float64(max(n, j))
			if dist > threshold {
				continue
			}
			if best == nil || dist < best.Distance {
				best = &types.OffsetMatch{Start: start, End: start + j, Distance: dist}
				if dist == 0 {
					return best
				}
			}
		}
	}
	return best
}

// foldRunes lowercases rune by rune so that offsets stay aligned with the input.
func foldRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}
