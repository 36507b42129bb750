// Package chunking splits document text into overlapping passages and
// derives a chapter title for them.
package chunking

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/lessonrag/core"
)

// Defaults for Options.
const (
	DefaultTargetSize    = 800
	DefaultOverlapUnits  = 3
	DefaultMinChunkSize  = 200
	DefaultMinTextLength = 100
)

// Options controls chunk boundaries. Sizes are measured in characters
// (runes) of the joined chunk text, the same unit core.ValidateChunk uses.
type Options struct {
	// TargetSize is the length a chunk may not exceed by adding another unit.
	TargetSize int

	// OverlapUnits is how many trailing units of a chunk seed the next one.
	OverlapUnits int

	// MinChunkSize discards emitted buffers shorter than this.
	MinChunkSize int

	// MinTextLength is the cleaned document length below which no chunks are produced.
	MinTextLength int
}

// DefaultOptions returns the standard chunking parameters.
func DefaultOptions() Options {
	return Options{
		TargetSize:    DefaultTargetSize,
		OverlapUnits:  DefaultOverlapUnits,
		MinChunkSize:  DefaultMinChunkSize,
		MinTextLength: DefaultMinTextLength,
	}
}

// Document is raw text plus the provenance attached to every chunk cut from it.
type Document struct {
	Text           string
	ClassGrade     string
	Subject        string
	SourceFilename string
}

// Chunker splits documents into passages. A Chunker holds no mutable state
// and is safe for concurrent use.
type Chunker struct {
	opts   Options
	titles *TitleExtractor
	logger *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithOptions replaces the chunking parameters. Zero size fields keep their
// defaults. OverlapUnits is taken as given unless negative.
func WithOptions(o Options) Option {
	return func(c *Chunker) error {
		if o.TargetSize > 0 {
			c.opts.TargetSize = o.TargetSize
		}
		if o.OverlapUnits >= 0 {
			c.opts.OverlapUnits = o.OverlapUnits
		}
		if o.MinChunkSize > 0 {
			c.opts.MinChunkSize = o.MinChunkSize
		}
		if o.MinTextLength > 0 {
			c.opts.MinTextLength = o.MinTextLength
		}
		if c.opts.MinChunkSize > c.opts.TargetSize {
			return ErrInvalidOptions
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a Chunker with default options.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		opts:   DefaultOptions(),
		titles: NewTitleExtractor(),
		logger: slog.Default().With("component", "chunker"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Options returns the effective parameters.
func (c *Chunker) Options() Options {
	return c.opts
}

// unit is a paragraph or sentence; paraStart marks the first unit of a paragraph.
type unit struct {
	text      string
	paraStart bool
}

func (c *Chunker) units(text string) []unit {
	var out []unit
	for _, p := range paragraphs(text) {
		if runeLen(p) <= c.opts.TargetSize {
			out = append(out, unit{text: p, paraStart: true})
			continue
		}
		for i, s := range sentences(p) {
			out = append(out, unit{text: s, paraStart: i == 0})
		}
	}
	return out
}

func join(buf []unit) string {
	var sb strings.Builder
	for i, u := range buf {
		if i > 0 {
			if u.paraStart {
				sb.WriteString("\n\n")
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(u.text)
	}
	return sb.String()
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// joinedLen is runeLen(join(append(buf, next))) without building the string.
func joinedLen(bufLen int, empty bool, next unit) int {
	if empty {
		return runeLen(next.text)
	}
	sep := 1
	if next.paraStart {
		sep = 2
	}
	return bufLen + sep + runeLen(next.text)
}

// Split cleans text and cuts it into overlapping passages.
// Identical input and options always produce identical output.
func (c *Chunker) Split(text string) []string {
	text = CleanText(text)
	if runeLen(text) < c.opts.MinTextLength {
		return nil
	}

	var (
		chunks []string
		buf    []unit
		bufLen int
		fresh  int // units in buf not yet part of an emitted chunk
	)

	for _, u := range c.units(text) {
		if len(buf) > 0 && joinedLen(bufLen, false, u) > c.opts.TargetSize {
			if content := join(buf); runeLen(content) >= c.opts.MinChunkSize {
				chunks = append(chunks, content)
			}

			keep := min(c.opts.OverlapUnits, len(buf)-1)
			buf = append([]unit(nil), buf[len(buf)-keep:]...)
			bufLen = runeLen(join(buf))
			fresh = 0
		}
		bufLen = joinedLen(bufLen, len(buf) == 0, u)
		buf = append(buf, u)
		fresh++
	}

	if fresh > 0 {
		if content := join(buf); runeLen(content) >= c.opts.MinChunkSize {
			chunks = append(chunks, content)
		}
	}
	return chunks
}

// Chunk splits the document and attaches provenance, a chapter title and a
// deterministic ID to every passage. Embeddings are left empty.
func (c *Chunker) Chunk(doc Document) []*core.Chunk {
	cleaned := CleanText(doc.Text)
	contents := c.Split(cleaned)
	if len(contents) == 0 {
		c.logger.Debug("document yielded no chunks", "source", doc.SourceFilename, "length", runeLen(cleaned))
		return nil
	}

	title, source := c.titles.Extract(context.Background(), cleaned, doc.SourceFilename)

	chunks := make([]*core.Chunk, 0, len(contents))
	for i, content := range contents {
		chunks = append(chunks, &core.Chunk{
			ID:         core.ChunkID(doc.SourceFilename, doc.ClassGrade, doc.Subject, i),
			ClassGrade: doc.ClassGrade,
			Subject:    doc.Subject,
			Chapter:    title,
			Content:    content,
			Metadata: map[string]string{
				core.MetaSourceFile:  doc.SourceFilename,
				core.MetaChunkIndex:  strconv.Itoa(i),
				core.MetaTitleSource: source,
			},
		})
	}

	c.logger.Debug("chunked document", "source", doc.SourceFilename, "chunks", len(chunks), "title", title)
	return chunks
}
