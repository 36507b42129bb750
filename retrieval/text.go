package retrieval

import "strings"

const (
	// maxKeywords bounds how many query tokens the hybrid tier looks for.
	maxKeywords = 5
	punctuation = ".,!?;:'\"-()[]{}"
)

// keywords returns the first maxKeywords whitespace tokens of the query,
// lowercased with surrounding punctuation trimmed. Empty tokens are dropped.
func keywords(query string) []string {
	words := strings.Fields(query)
	if len(words) > maxKeywords {
		words = words[:maxKeywords]
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		cleaned := strings.ToLower(strings.Trim(w, punctuation))
		if cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// containsAny reports whether text contains any keyword, ignoring case.
// Keywords must already be lowercase.
func containsAny(text string, kws []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range kws {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// containsFold reports whether text contains needle, ignoring case.
func containsFold(text, needle string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(needle))
}
