package text

// EstimateTokens approximates the token count of text without a tokenizer
// dependency. Roughly 4 characters per token holds for most languages and is
// close enough for truncation decisions.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
