package chunking

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/poiesic/lessonrag/fallback"
)

// Title sources recorded in chunk metadata.
const (
	TitleFromText     = "text"
	TitleFromFilename = "filename"
	TitleDefault      = "default"
)

const (
	// titleScanLength bounds how much of the document title matchers see.
	titleScanLength = 1000

	minTitleLength = 3
	maxTitleLength = 150

	// UntitledChapter is used when neither the text nor the filename yields a title.
	UntitledChapter = "Untitled Chapter"
)

// IsPlausibleTitle reports whether a candidate title has a usable length:
// more than 3 and at most 150 characters after trimming.
func IsPlausibleTitle(s string) bool {
	n := len([]rune(strings.TrimSpace(s)))
	return n > minTitleLength && n <= maxTitleLength
}

// TitleInput is what a TitleMatcher inspects.
type TitleInput struct {
	Head     string // leading part of the cleaned document
	Filename string
}

// TitleMatcher proposes a chapter title. It returns fallback.ErrNoResult
// when its pattern is absent or the candidate is implausible.
type TitleMatcher = fallback.Strategy[TitleInput, string]

// regexMatcher takes capture group 1 of the first match in the document head.
type regexMatcher struct {
	name string
	re   *regexp.Regexp
}

func (m regexMatcher) Name() string { return m.name }

func (m regexMatcher) Attempt(_ context.Context, in TitleInput) (string, error) {
	match := m.re.FindStringSubmatch(in.Head)
	if match == nil {
		return "", fallback.ErrNoResult
	}
	title := collapseWhitespace(match[1])
	if !IsPlausibleTitle(title) {
		return "", fallback.ErrNoResult
	}
	return title, nil
}

// filenameMatcher builds "Chapter N: Title" from names like Chapter05_Light.pdf.
type filenameMatcher struct {
	re *regexp.Regexp
}

func (m filenameMatcher) Name() string { return TitleFromFilename }

func (m filenameMatcher) Attempt(_ context.Context, in TitleInput) (string, error) {
	match := m.re.FindStringSubmatch(filepath.Base(in.Filename))
	if match == nil {
		return "", fallback.ErrNoResult
	}
	num := match[1]
	if n, err := strconv.Atoi(num); err == nil {
		num = strconv.Itoa(n)
	}
	rest := collapseWhitespace(strings.NewReplacer("_", " ", "-", " ").Replace(match[2]))
	title := "Chapter " + num
	if rest != "" {
		title += ": " + rest
	}
	if !IsPlausibleTitle(title) {
		return "", fallback.ErrNoResult
	}
	return title, nil
}

// DefaultTitleMatchers returns the matchers in priority order. Earlier
// matchers are higher confidence; later ones run only when earlier ones fail.
func DefaultTitleMatchers() []TitleMatcher {
	return []TitleMatcher{
		regexMatcher{"chapter-upper", regexp.MustCompile(`CHAPTER\s+\d+\s*[:\-]\s*(.+)`)},
		regexMatcher{"chapter", regexp.MustCompile(`(?i)chapter\s+\d+\s*[:\-]\s*(.+)`)},
		regexMatcher{"numbered", regexp.MustCompile(`(?m)^\s*\d+\.\s+(.+)$`)},
		regexMatcher{"before-chapter", regexp.MustCompile(`\b([A-Z][A-Za-z ]+?)\s+(?:CHAPTER|Chapter)\b`)},
		filenameMatcher{regexp.MustCompile(`(?i)^(?:chapter|ch)[_\-\s]*(\d+)[_\-\s]*(.*?)(?:\.[A-Za-z0-9]+)?$`)},
	}
}

// TitleExtractor finds a chapter title with an ordered chain of matchers.
type TitleExtractor struct {
	chain *fallback.Chain[TitleInput, string]
}

// NewTitleExtractor uses matchers if given, otherwise DefaultTitleMatchers.
func NewTitleExtractor(matchers ...TitleMatcher) *TitleExtractor {
	if len(matchers) == 0 {
		matchers = DefaultTitleMatchers()
	}
	return &TitleExtractor{chain: fallback.New(matchers)}
}

// Extract returns the title and where it came from: TitleFromText,
// TitleFromFilename or TitleDefault.
func (e *TitleExtractor) Extract(ctx context.Context, text, filename string) (string, string) {
	head := text
	if len(head) > titleScanLength {
		head = head[:titleScanLength]
	}

	title, name, err := e.chain.Run(ctx, TitleInput{Head: head, Filename: filename})
	if err == nil {
		if name == TitleFromFilename {
			return title, TitleFromFilename
		}
		return title, TitleFromText
	}
	return SanitizeFilename(filename), TitleDefault
}

// SanitizeFilename turns a file name into a readable title: the extension
// is stripped, underscores and dashes become spaces and whitespace collapses.
// An empty result becomes UntitledChapter.
func SanitizeFilename(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	if base = collapseWhitespace(base); base == "" {
		return UntitledChapter
	}
	return base
}
