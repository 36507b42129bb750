package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// PreviewLength is the number of characters of content shown per source.
const PreviewLength = 100

// Preview truncates s to n characters, appending "..." when cut.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// score renders a float with exactly three decimals.
func score(x float64) json.Number {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		x = 0
	}
	return json.Number(strconv.FormatFloat(x, 'f', 3, 64))
}

type sourceJSON struct {
	Rank       int         `json:"rank"`
	ID         string      `json:"id"`
	ClassGrade string      `json:"class_grade"`
	Subject    string      `json:"subject"`
	Chapter    string      `json:"chapter"`
	Preview    string      `json:"preview"`
	Similarity json.Number `json:"similarity"`
	Confidence string      `json:"confidence"`
	Tier       string      `json:"tier"`
}

type metadataJSON struct {
	Model          string      `json:"model"`
	Tier           string      `json:"tier"`
	ChunksFound    int         `json:"chunks_found"`
	TopSimilarity  json.Number `json:"top_similarity"`
	Filters        Filters     `json:"filters"`
	Warnings       []string    `json:"warnings,omitempty"`
	EmbeddingTime  string      `json:"embedding_time"`
	RetrievalTime  string      `json:"retrieval_time"`
	GenerationTime string      `json:"generation_time"`
	TotalTime      string      `json:"total_time"`
}

type resultJSON struct {
	Question   string       `json:"question"`
	Answer     string       `json:"answer"`
	Confidence json.Number  `json:"confidence"`
	Sources    []sourceJSON `json:"sources"`
	Metadata   metadataJSON `json:"metadata"`
}

// MarshalJSON renders the result for the query API: similarity scores
// rounded to three decimals and timings as formatted durations.
func (r *QueryResult) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Question:   r.Question,
		Answer:     r.Answer,
		Confidence: score(r.Confidence),
		Sources:    make([]sourceJSON, 0, len(r.Sources)),
		Metadata: metadataJSON{
			Model:          r.Metadata.Model,
			Tier:           r.Metadata.Tier.String(),
			ChunksFound:    r.Metadata.ChunksFound,
			TopSimilarity:  score(float64(r.Metadata.TopSimilarity)),
			Filters:        r.Metadata.Filters,
			Warnings:       r.Metadata.Warnings,
			EmbeddingTime:  r.Timings[StageEmbedding].String(),
			RetrievalTime:  r.Timings[StageRetrieving].String(),
			GenerationTime: r.Timings[StageGenerating].String(),
			TotalTime:      r.Timings.Total().String(),
		},
	}
	for i, p := range r.Sources {
		if p.Chunk == nil {
			continue
		}
		out.Sources = append(out.Sources, sourceJSON{
			Rank:       i + 1,
			ID:         p.Chunk.ID.String(),
			ClassGrade: p.Chunk.ClassGrade,
			Subject:    p.Chunk.Subject,
			Chapter:    p.Chunk.Chapter,
			Preview:    Preview(p.Chunk.Content, PreviewLength),
			Similarity: score(float64(p.Similarity)),
			Confidence: fmt.Sprintf("%.1f%%", float64(p.Similarity)*100),
			Tier:       p.Tier.String(),
		})
	}
	return json.Marshal(out)
}
