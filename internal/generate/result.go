package generate

// Task results are tagged variants, one shape per task kind, rather than a
// loosely typed blob.

type SummaryResult struct {
	Style   string `json:"style"`
	Summary string `json:"summary"`
}

type HighlightsResult struct {
	KeyConcepts  []string `json:"key_concepts"`
	KeySentences []string `json:"key_sentences"`
	Topics       []string `json:"topics"`
	// Raw carries the model output verbatim when it could not be parsed as
	// the expected JSON shape.
	Raw string `json:"raw,omitempty"`
}

type Slide struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
	Notes   string   `json:"notes,omitempty"`
}

type OutlineResult struct {
	Title  string  `json:"title"`
	Slides []Slide `json:"slides"`
}

type AnswerResult struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	SourcesUsed int    `json:"sources_used"`
}
