package generate

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("```(?:json)?\\s*")

// DecodeJSON parses a JSON object out of raw model output. Models often wrap
// their JSON in markdown fences or surround it with prose, so this strips
// fences first and falls back to the outermost {...} block.
func DecodeJSON(raw string, v interface{}) error {
	cleaned := fenceRe.ReplaceAllString(raw, "")
	cleaned = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(cleaned), "`"))

	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		return json.Unmarshal([]byte(cleaned[start:end+1]), v)
	}
	return json.Unmarshal([]byte(cleaned), v)
}

// ParseHighlights converts raw model output into a HighlightsResult,
// preserving the raw text when the model did not produce usable JSON.
func ParseHighlights(raw string) HighlightsResult {
	var parsed struct {
		KeyConcepts  []string        `json:"key_concepts"`
		KeySentences []string        `json:"key_sentences"`
		Topics       json.RawMessage `json:"topics"`
	}
	if err := DecodeJSON(raw, &parsed); err != nil {
		return HighlightsResult{Raw: raw}
	}

	res := HighlightsResult{
		KeyConcepts:  parsed.KeyConcepts,
		KeySentences: parsed.KeySentences,
	}

	// Topics arrive either as a JSON array or as one comma-separated string.
	var topics []string
	if err := json.Unmarshal(parsed.Topics, &topics); err == nil {
		res.Topics = topics
	} else {
		var joined string
		if err := json.Unmarshal(parsed.Topics, &joined); err == nil {
			for _, topic := range strings.Split(joined, ",") {
				if topic = strings.TrimSpace(topic); topic != "" {
					res.Topics = append(res.Topics, topic)
				}
			}
		}
	}
	return res
}

// ParseOutline converts raw model output into an OutlineResult.
func ParseOutline(raw string) (OutlineResult, error) {
	var res OutlineResult
	if err := DecodeJSON(raw, &res); err != nil {
		return OutlineResult{}, err
	}
	return res, nil
}
