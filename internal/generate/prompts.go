package generate

import (
	"fmt"
	"strings"
)

// SummaryStyles are the accepted values for the summary "style" parameter.
var SummaryStyles = map[string]string{
	"paragraph": "Write a concise 3-5 paragraph executive summary of the following document.",
	"bullets":   "Summarize the following document as 7-10 bullet points. Be specific.",
	"executive": "Write a 1-page executive summary suitable for C-level readers. " +
		"Include: Purpose, Key Findings, Recommendations, and Next Steps.",
}

// BuildSummaryPrompt renders the summary prompt for a style. Unknown styles
// fall back to "paragraph". Pure function of its inputs.
func BuildSummaryPrompt(text, style string) string {
	instruction, ok := SummaryStyles[strings.ToLower(strings.TrimSpace(style))]
	if !ok {
		instruction = SummaryStyles["paragraph"]
	}
	return fmt.Sprintf("%s\n\nDOCUMENT:\n\"\"\"\n%s\n\"\"\"\n\nSUMMARY:", instruction, text)
}

// BuildHighlightsPrompt asks for key concepts, verbatim key sentences and
// topics as a JSON object.
func BuildHighlightsPrompt(text string) string {
	return fmt.Sprintf(`Analyze the following document and extract:
1. The 5 most important key concepts (as a numbered list).
2. The 5 most significant key sentences verbatim from the text (as a numbered list).
3. The main topics covered (as a comma-separated list).

DOCUMENT:
"""
%s
"""

Respond in valid JSON with keys: "key_concepts", "key_sentences", "topics".
JSON:`, text)
}

// BuildOutlinePrompt asks for a slide-structured presentation outline as JSON.
func BuildOutlinePrompt(text string) string {
	return fmt.Sprintf(`Create a structured presentation outline from the following document.
Return a JSON object with:
- "title": the presentation title
- "slides": an array of objects, each with:
    - "title": slide title
    - "bullets": list of 3-5 bullet points
    - "notes": optional speaker notes (1-2 sentences)

Aim for 6-10 slides total.

DOCUMENT:
"""
%s
"""

JSON:`, text)
}

// BuildAnswerPrompt grounds the question in the retrieved context chunks,
// separated so the model can tell passages apart.
func BuildAnswerPrompt(contextChunks []string, question string) string {
	context := strings.Join(contextChunks, "\n\n---\n\n")
	return fmt.Sprintf(`Answer the user's question using ONLY the information from the provided context.
If the answer is not in the context, say "I don't have enough information to answer that."

CONTEXT:
"""
%s
"""

QUESTION: %s

ANSWER:`, context, question)
}
