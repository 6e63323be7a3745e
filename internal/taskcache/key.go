package taskcache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies an analysis task.
type Kind string

const (
	KindSummary    Kind = "summary"
	KindHighlights Kind = "highlights"
	KindOutline    Kind = "outline"
	KindAnswer     Kind = "answer"
)

// Key identifies one cacheable computation. Params hold every semantically
// relevant request parameter (style, language, the question text); the model
// name is part of the key so switching models never serves stale output.
type Key struct {
	DocumentID string
	Kind       Kind
	Model      string
	Params     map[string]string
}

// verbatimParams are parameters whose values carry free text and must not be
// case-folded. Everything else (style names, language codes, format flags) is
// canonicalized so equivalent encodings of the same request share a key.
var verbatimParams = map[string]bool{
	"question": true,
}

// Fingerprint derives the stable cache key. Parameter names are trimmed and
// lowercased, values are trimmed, and non-verbatim values lowercased; pairs
// are hashed in sorted-name order so request encoding order is irrelevant.
func (k Key) Fingerprint() string {
	names := make([]string, 0, len(k.Params))
	canon := make(map[string]string, len(k.Params))
	for name, value := range k.Params {
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !verbatimParams[name] {
			value = strings.ToLower(value)
		}
		if value == "" {
			continue
		}
		if _, dup := canon[name]; !dup {
			names = append(names, name)
		}
		canon[name] = value
	}
	sort.Strings(names)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s", k.DocumentID, strings.ToLower(string(k.Kind)), strings.ToLower(strings.TrimSpace(k.Model)))
	for _, name := range names {
		fmt.Fprintf(h, "\x1f%s=%s", name, canon[name])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
