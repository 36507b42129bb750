package core

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MinChunkLength is the shortest passage that may be persisted.
// Anything shorter carries no retrieval value.
const MinChunkLength = 150

// Recognized chunk metadata keys. Other keys are dropped by SanitizeMetadata.
const (
	MetaSourceFile  = "source_file"
	MetaChunkIndex  = "chunk_index"
	MetaTitleSource = "title_source"
)

var knownMetadataKeys = map[string]bool{
	MetaSourceFile:  true,
	MetaChunkIndex:  true,
	MetaTitleSource: true,
}

// Chunk is a bounded passage of source text stored with its embedding
// and provenance.
type Chunk struct {
	ID         uuid.UUID         `json:"id"`
	ClassGrade string            `json:"class_grade"`
	Subject    string            `json:"subject"`
	Chapter    string            `json:"chapter"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"-"`                  // empty when no embedding is available
	CreatedAt  time.Time         `json:"created_at"`         // set by the repository on insert
	Metadata   map[string]string `json:"metadata,omitempty"` // keys limited to the Meta* constants
}

// HasEmbedding reports whether the chunk carries a usable vector.
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0 && !IsZeroVector(c.Embedding)
}

// Filters narrows retrieval to a class grade and/or subject.
// Empty fields match everything.
type Filters struct {
	ClassGrade string `json:"class_grade,omitempty"`
	Subject    string `json:"subject,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f Filters) IsEmpty() bool {
	return f.ClassGrade == "" && f.Subject == ""
}

// Matches reports whether the chunk satisfies the filters.
func (f Filters) Matches(c *Chunk) bool {
	if f.ClassGrade != "" && !strings.EqualFold(f.ClassGrade, c.ClassGrade) {
		return false
	}
	if f.Subject != "" && !strings.EqualFold(f.Subject, c.Subject) {
		return false
	}
	return true
}

// Tier identifies the retrieval strategy that produced a passage.
type Tier int

const (
	TierNone Tier = iota
	TierVector
	TierHybrid
	TierKeyword
)

func (t Tier) String() string {
	switch t {
	case TierVector:
		return "vector"
	case TierHybrid:
		return "hybrid"
	case TierKeyword:
		return "keyword"
	default:
		return "none"
	}
}

// RetrievedPassage is a chunk ranked for a single query. Never persisted.
type RetrievedPassage struct {
	Chunk      *Chunk
	Similarity float32
	Tier       Tier
}

// SortPassages orders passages by similarity descending, breaking ties by
// ascending chunk ID.
func SortPassages(passages []RetrievedPassage) {
	slices.SortStableFunc(passages, func(a, b RetrievedPassage) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return strings.Compare(a.Chunk.ID.String(), b.Chunk.ID.String())
	})
}

// Stage names a step of the query state machine.
type Stage string

const (
	StageReceived   Stage = "received"
	StageEmbedding  Stage = "embedding"
	StageRetrieving Stage = "retrieval"
	StageGenerating Stage = "generation"
	StageDone       Stage = "done"
)

// Timings holds per-stage durations for a query.
type Timings map[Stage]time.Duration

// Total is the sum of the recorded stages, not an independent wall clock.
func (t Timings) Total() time.Duration {
	var total time.Duration
	for _, d := range t {
		total += d
	}
	return total
}

// Model names recorded in ResultMetadata for degraded answers.
const (
	ModelNone     = "none"
	ModelFallback = "fallback"
)

// ResultMetadata makes degraded states distinguishable to callers.
type ResultMetadata struct {
	Model         string
	Tier          Tier
	ChunksFound   int
	TopSimilarity float32
	Filters       Filters
	Warnings      []string
}

// QueryResult is the answer to one question. Transient.
type QueryResult struct {
	Question   string
	Answer     string
	Sources    []RetrievedPassage
	Confidence float64
	Timings    Timings
	Metadata   ResultMetadata
}

// ChapterCount pairs a chapter with its number of stored chunks.
type ChapterCount struct {
	ClassGrade string `json:"class_grade"`
	Subject    string `json:"subject"`
	Chapter    string `json:"chapter"`
	Chunks     int    `json:"chunks"`
}

// CorpusStats summarizes the stored corpus.
type CorpusStats struct {
	TotalChunks    int            `json:"total_chunks"`
	WithEmbeddings int            `json:"with_embeddings"`
	Classes        int            `json:"classes"`
	Subjects       int            `json:"subjects"`
	Chapters       int            `json:"chapters"`
	TopChapters    []ChapterCount `json:"top_chapters"`
	Recent         []*Chunk       `json:"recent"`
}

// Checkpoint records how far a long-running maintenance job has progressed,
// so an interrupted run can resume after LastID.
type Checkpoint struct {
	Name      string
	LastID    uuid.UUID
	Processed int
	UpdatedAt time.Time
}
