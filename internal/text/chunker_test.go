package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Run("Empty Input", func(t *testing.T) {
		assert.Nil(t, Split("", 100, 20))
		assert.Nil(t, Split("   \n\t  ", 100, 20))
	})

	t.Run("Short Text Single Chunk", func(t *testing.T) {
		chunks := Split("One sentence. Another one.", 100, 20)
		require.Len(t, chunks, 1)
		assert.Equal(t, "One sentence. Another one.", chunks[0])
	})

	t.Run("Sentence Boundaries Respected", func(t *testing.T) {
		text := "First sentence here. Second sentence here. Third sentence here. Fourth sentence here."
		chunks := Split(text, 50, 0)
		require.True(t, len(chunks) > 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 50)
			// No chunk ends mid-sentence when boundaries exist.
			assert.True(t, strings.HasSuffix(c, "."), "chunk should end on a sentence: %q", c)
		}
	})

	t.Run("Overlap Carries Tail Sentences", func(t *testing.T) {
		text := "Alpha alpha alpha. Bravo bravo bravo. Charlie charlie charlie. Delta delta delta."
		chunks := Split(text, 45, 25)
		require.True(t, len(chunks) > 1)
		for i := 1; i < len(chunks); i++ {
			prevLast := lastSentence(chunks[i-1])
			assert.True(t, strings.HasPrefix(chunks[i], prevLast),
				"chunk %d should start with the previous tail, got %q after %q", i, chunks[i], prevLast)
		}
	})

	t.Run("Overlap Tail Never Exceeds Size", func(t *testing.T) {
		// Short sentences with a large overlap budget force multi-sentence
		// tails; the carried separators must count against the maximum.
		var sb strings.Builder
		for i := 0; i < 12; i++ {
			if i%4 == 3 {
				sb.WriteString("bbbbbbbbbb. ")
			} else {
				sb.WriteString("aaaaaaaaa. ")
			}
		}
		chunks := Split(sb.String(), 42, 35)
		require.True(t, len(chunks) > 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 42, "chunk %q", c)
		}
	})

	t.Run("Oversized Sentence Hard Split", func(t *testing.T) {
		long := strings.Repeat("x", 250)
		chunks := Split(long, 100, 10)
		require.True(t, len(chunks) > 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 100)
		}
		// Hard-split windows preserve the full text at the right offsets.
		assert.Equal(t, long[:100], chunks[0])
	})

	t.Run("Paragraph Break Is A Boundary", func(t *testing.T) {
		text := "No terminator in this paragraph\n\nSecond paragraph here."
		sentences := SplitSentences(text)
		require.Len(t, sentences, 2)
		assert.Equal(t, "No terminator in this paragraph", sentences[0])
		assert.Equal(t, "Second paragraph here.", sentences[1])
	})

	t.Run("Deterministic", func(t *testing.T) {
		text := strings.Repeat("A fairly normal sentence with several words in it. ", 40)
		a := Split(text, 300, 60)
		b := Split(text, 300, 60)
		assert.Equal(t, a, b)
	})

	t.Run("Whitespace Normalized", func(t *testing.T) {
		chunks := Split("Spread   over\nlines.  Next one.", 100, 0)
		require.Len(t, chunks, 1)
		assert.Equal(t, "Spread over lines. Next one.", chunks[0])
	})
}

func lastSentence(chunk string) string {
	sentences := SplitSentences(chunk)
	if len(sentences) == 0 {
		return chunk
	}
	return sentences[len(sentences)-1]
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
