package chunking

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/lessonrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentence returns a distinct sentence of exactly n bytes ending in a period.
func sentence(i, n int) string {
	prefix := fmt.Sprintf("Sentence %02d describes plants", i)
	body := prefix + strings.Repeat(" x", n)
	return body[:n-1] + "."
}

func sentenceDoc(count, size int) (string, []string) {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = sentence(i+1, size)
	}
	return strings.Join(parts, " "), parts
}

func newChunker(t *testing.T, opts Options) *Chunker {
	t.Helper()
	c, err := New(WithOptions(opts))
	require.NoError(t, err)
	return c
}

func TestSplit_TwoThousandCharacterDocument(t *testing.T) {
	text, parts := sentenceDoc(20, 99)
	require.Len(t, text, 1999)

	c := newChunker(t, Options{TargetSize: 800, OverlapUnits: 2})
	chunks := c.Split(text)

	require.Len(t, chunks, 3)
	for _, ch := range chunks {
		assert.GreaterOrEqual(t, len(ch), core.MinChunkLength)
		assert.LessOrEqual(t, len(ch), 800)
	}

	assert.Equal(t, strings.Join(parts[0:8], " "), chunks[0])
	assert.Equal(t, strings.Join(parts[6:14], " "), chunks[1])
	assert.Equal(t, strings.Join(parts[12:20], " "), chunks[2])

	// Last two sentences of chunk 1 open chunk 2.
	assert.True(t, strings.HasPrefix(chunks[1], parts[6]+" "+parts[7]))
	assert.True(t, strings.HasSuffix(chunks[0], parts[6]+" "+parts[7]))
}

func TestSplit_Idempotent(t *testing.T) {
	text, _ := sentenceDoc(40, 87)
	c := newChunker(t, Options{TargetSize: 600, OverlapUnits: 3})

	first := c.Split(text)
	second := c.Split(text)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestSplit_OverlapInvariant(t *testing.T) {
	text, _ := sentenceDoc(50, 120)
	c := newChunker(t, Options{TargetSize: 700, OverlapUnits: 3})
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 2)

	for i := 0; i+1 < len(chunks); i++ {
		prev := sentences(chunks[i])
		next := sentences(chunks[i+1])
		require.GreaterOrEqual(t, len(prev), 3)
		assert.Equal(t, prev[len(prev)-3:], next[:3], "chunk %d", i)
	}
}

func TestSplit_ShortTextYieldsNothing(t *testing.T) {
	c := newChunker(t, DefaultOptions())
	assert.Empty(t, c.Split("Too short to matter."))
	assert.Empty(t, c.Split(""))
}

func TestSplit_DiscardsUndersizedChunks(t *testing.T) {
	// One paragraph above the minimum text length but below the minimum chunk size.
	text := strings.Repeat("Short words here. ", 8)
	c := newChunker(t, DefaultOptions())
	assert.Empty(t, c.Split(text))
}

func TestSplit_ParagraphsKeepBreaks(t *testing.T) {
	p1 := strings.Repeat("Plants need light to grow well. ", 5)
	p2 := strings.Repeat("Roots absorb water from the soil. ", 5)
	text := strings.TrimSpace(p1) + "\n\n" + strings.TrimSpace(p2)

	c := newChunker(t, Options{TargetSize: 800, OverlapUnits: 1})
	chunks := c.Split(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(p1)+"\n\n"+strings.TrimSpace(p2), chunks[0])
}

func TestSplit_ParagraphUnitsOverlap(t *testing.T) {
	var paras []string
	for i := range 6 {
		paras = append(paras, fmt.Sprintf("Paragraph %d. ", i)+strings.Repeat("Cells divide and grow. ", 10))
	}
	for i := range paras {
		paras[i] = strings.TrimSpace(paras[i])
	}
	text := strings.Join(paras, "\n\n")

	c := newChunker(t, Options{TargetSize: 600, OverlapUnits: 1})
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	for i := 0; i+1 < len(chunks); i++ {
		last := strings.Split(chunks[i], "\n\n")
		first := strings.Split(chunks[i+1], "\n\n")
		assert.Equal(t, last[len(last)-1], first[0])
	}
}

func TestWithOptions_Invalid(t *testing.T) {
	_, err := New(WithOptions(Options{TargetSize: 100, MinChunkSize: 300}))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestChunk_AttachesProvenance(t *testing.T) {
	text, _ := sentenceDoc(20, 99)
	text = "CHAPTER 6: Life Processes\n\n" + text

	c := newChunker(t, Options{TargetSize: 800, OverlapUnits: 2})
	doc := Document{Text: text, ClassGrade: "10", Subject: "Science", SourceFilename: "ch6.pdf"}
	chunks := c.Chunk(doc)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.Equal(t, core.ChunkID("ch6.pdf", "10", "Science", i), ch.ID)
		assert.Equal(t, "10", ch.ClassGrade)
		assert.Equal(t, "Science", ch.Subject)
		assert.Equal(t, "Life Processes", ch.Chapter)
		assert.Equal(t, "ch6.pdf", ch.Metadata[core.MetaSourceFile])
		assert.Equal(t, fmt.Sprint(i), ch.Metadata[core.MetaChunkIndex])
		assert.Equal(t, TitleFromText, ch.Metadata[core.MetaTitleSource])
		assert.Empty(t, ch.Embedding)
		require.NoError(t, core.ValidateChunk(ch))
	}

	again := c.Chunk(doc)
	require.Len(t, again, len(chunks))
	for i := range chunks {
		assert.Equal(t, chunks[i].ID, again[i].ID)
		assert.Equal(t, chunks[i].Content, again[i].Content)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"crlf", "a\r\nb", "a\nb"},
		{"page numbers", "first line\n12\nsecond line", "first line\nsecond line"},
		{"form feed", "end of page\fstart of page", "end of page\nstart of page"},
		{"spaces and tabs", "too   many \t spaces", "too many spaces"},
		{"paragraph breaks", "one\n\n\n\n two", "one\n\ntwo"},
		{"blank line with spaces", "one\n   \ntwo", "one\n\ntwo"},
		{"bullet glyph", "\uf0b7 item", "• item"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestSentences(t *testing.T) {
	got := sentences("Is it alive? Yes! It grows. Version 1.5 is out.")
	assert.Equal(t, []string{"Is it alive?", "Yes!", "It grows.", "Version 1.5 is out."}, got)
}

const hindiSentence = "पौधे सूर्य के प्रकाश से भोजन बनाते हैं."

func TestSplit_MeasuresCharactersNotBytes(t *testing.T) {
	parts := make([]string, 40)
	for i := range parts {
		parts[i] = hindiSentence
	}
	c := newChunker(t, DefaultOptions())
	chunks := c.Split(strings.Join(parts, " "))
	require.NotEmpty(t, chunks)

	// 20 sentences of 39 characters join to 799 characters, over 2000 bytes.
	assert.Equal(t, strings.Join(parts[:20], " "), chunks[0])
	for _, ch := range chunks {
		n := utf8.RuneCountInString(ch)
		assert.LessOrEqual(t, n, DefaultTargetSize)
		assert.GreaterOrEqual(t, n, DefaultMinChunkSize)
	}
}

func TestSplit_ShortMultibyteTextYieldsNothing(t *testing.T) {
	// 119 characters but more than 300 bytes: below MinChunkSize.
	text := strings.TrimSpace(strings.Repeat(hindiSentence+" ", 3))
	require.Greater(t, len(text), DefaultMinChunkSize)

	c := newChunker(t, DefaultOptions())
	assert.Empty(t, c.Split(text))
}
