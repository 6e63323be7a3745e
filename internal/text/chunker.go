package text

import (
	"strings"
	"unicode"
)

// Split divides document text into overlapping chunks suitable for embedding.
// Sentences are kept whole whenever a boundary can be found; a sentence longer
// than size is hard-split on character windows as a last resort. The tail of
// each chunk (up to overlap characters, whole sentences only) is repeated at
// the head of the next chunk so context survives the boundary.
//
// Split is deterministic: identical input and parameters always produce
// identical chunk boundaries.
func Split(text string, size, overlap int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if size <= 0 {
		return []string{trimmed}
	}

	sentences := SplitSentences(trimmed)

	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if currentLen == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))

		// Carry whole trailing sentences up to the overlap budget into the
		// next chunk. Lengths count the join separators so currentLen stays
		// equal to the joined chunk length.
		var tail []string
		tailLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			sep := 0
			if tailLen > 0 {
				sep = 1
			}
			if tailLen+sep+len(current[i]) > overlap {
				break
			}
			tail = append([]string{current[i]}, tail...)
			tailLen += sep + len(current[i])
		}
		current = tail
		currentLen = tailLen
	}

	for _, s := range sentences {
		if len(s) > size {
			// A single semantic unit exceeds the target: flush what we have
			// and fall back to character windows for this sentence.
			if currentLen > 0 {
				chunks = append(chunks, strings.Join(current, " "))
				current = nil
				currentLen = 0
			}
			chunks = append(chunks, splitChars(s, size, overlap)...)
			continue
		}
		sep := 0
		if currentLen > 0 {
			sep = 1
		}
		if currentLen+sep+len(s) > size {
			flush()
			// Drop the overlap tail when it would push this chunk past the
			// maximum; the bound matters more than the carried context.
			if currentLen > 0 && currentLen+1+len(s) > size {
				current = nil
				currentLen = 0
			}
		}
		current = append(current, s)
		if currentLen > 0 {
			currentLen++
		}
		currentLen += len(s)
	}

	if currentLen > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	if len(chunks) == 0 {
		chunks = []string{trimmed}
	}
	return chunks
}

// SplitSentences cuts text on sentence terminators (., !, ?) followed by
// whitespace, and on paragraph breaks. Whitespace inside a sentence is
// collapsed to single spaces so chunk boundaries do not depend on the
// source formatting.
func SplitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	pendingSpace := false

	emit := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
		pendingSpace = false
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		// Paragraph break ends the current sentence.
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			emit()
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
			}
			continue
		}

		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}

		if pendingSpace {
			b.WriteRune(' ')
			pendingSpace = false
		}
		b.WriteRune(r)

		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			emit()
		}
	}
	emit()

	return sentences
}

// splitChars is the character-window fallback for text without usable
// sentence boundaries.
func splitChars(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}
