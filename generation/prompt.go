package generation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/lessonrag/ai"
	"github.com/poiesic/lessonrag/core"
)

const (
	// NotFoundAnswer is returned when retrieval found nothing to answer from.
	NotFoundAnswer = "I couldn't find relevant information in the knowledge base to answer this question."

	// RefusalPhrase is what the model is told to say when the context lacks the answer.
	RefusalPhrase = "This information is not available in the provided content."

	// ExcerptMarker prefixes extractive answers so they are never mistaken for
	// a synthesized answer.
	ExcerptMarker = "[Direct excerpt from the source material. No generated answer was available.]"

	excerptLength = 400
	passageSep    = "\n\n---\n\n"
	systemPrompt  = `You are an expert school tutor. Answer based ONLY on the provided textbook content.

INSTRUCTIONS:
1. Answer concisely using ONLY the textbook content you are given
2. If the answer is not in the content, reply exactly: "` + RefusalPhrase + `"
3. Use simple, student-friendly language
4. Do not add external information
5. Mention the relevant class and subject if applicable`
)

// BuildContext renders passages as numbered, attributed sources.
func BuildContext(passages []core.RetrievedPassage) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = fmt.Sprintf("[Source %d: Class %s, Subject: %s, Chapter: %s]\n\n%s",
			i+1, orNA(p.Chunk.ClassGrade), orNA(p.Chunk.Subject), orNA(p.Chunk.Chapter), p.Chunk.Content)
	}
	return strings.Join(parts, passageSep)
}

// BuildPrompt assembles the grounded question prompt.
func BuildPrompt(question, context string) ai.Prompt {
	return ai.Prompt{
		System: systemPrompt,
		User:   "TEXTBOOK CONTENT:\n" + context + "\n\nQUESTION: " + question + "\n\nANSWER:",
	}
}

// Extractive formats the fallback answer from the best passage. It never fails.
func Extractive(best core.RetrievedPassage) string {
	text := strings.TrimSpace(best.Chunk.Content)
	if utf8.RuneCountInString(text) > excerptLength {
		text = string([]rune(text)[:excerptLength]) + "..."
	}
	return ExcerptMarker + "\n\n" + text
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
