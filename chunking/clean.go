package chunking

import (
	"regexp"
	"strings"
)

var (
	pageNumberLine = regexp.MustCompile(`(?m)^[ \t]*\d+[ \t]*(?:\n|$)`)
	horizontalRun  = regexp.MustCompile(`[ \t\x{00a0}]+`)
	blankLines     = regexp.MustCompile(`\n[ \t]*\n[\s]*`)
	allWhitespace  = regexp.MustCompile(`\s+`)
)

// CleanText normalizes extracted document text. Line endings become \n,
// form feeds and bare page-number lines are removed, runs of spaces and
// tabs collapse to one space, and blank-line paragraph breaks survive as
// a single empty line.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", "\n")
	text = strings.ReplaceAll(text, "\uf0b7", "•")
	text = pageNumberLine.ReplaceAllString(text, "")
	text = horizontalRun.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// collapseWhitespace turns every whitespace run, newlines included, into one space.
func collapseWhitespace(s string) string {
	return strings.TrimSpace(allWhitespace.ReplaceAllString(s, " "))
}

// paragraphs splits cleaned text on blank lines. Line breaks inside a
// paragraph become spaces.
func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = collapseWhitespace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sentences splits a paragraph after '.', '!' or '?' when whitespace follows.
func sentences(paragraph string) []string {
	var out []string
	start := 0
	for i := 0; i < len(paragraph)-1; i++ {
		switch paragraph[i] {
		case '.', '!', '?':
			next := paragraph[i+1]
			if next == ' ' || next == '\n' || next == '\t' {
				if s := strings.TrimSpace(paragraph[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(paragraph[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
