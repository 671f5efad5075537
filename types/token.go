package types

// TokenCounter is the minimal token counting contract used for context budgets.
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimateTokenizer provides a simple character-based token estimation.
type EstimateTokenizer struct {
	charsPerToken float64
	cjkPerToken   float64
}

// NewEstimateTokenizer creates a new EstimateTokenizer.
func NewEstimateTokenizer() *EstimateTokenizer {
	return &EstimateTokenizer{
		charsPerToken: 4.0,
		cjkPerToken:   1.5,
	}
}

// CountTokens counts tokens in text.
func (t *EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var chineseCount, otherCount int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			chineseCount++
		} else {
			otherCount++
		}
	}
	tokens := float64(chineseCount)/t.cjkPerToken + float64(otherCount)/t.charsPerToken
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}

// CountContextTokens sums the estimated tokens of every item's text.
func (t *EstimateTokenizer) CountContextTokens(items []ContextItem) int {
	total := 0
	for _, item := range items {
		total += t.CountTokens(item.Text)
	}
	return total
}
