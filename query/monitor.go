package query

import (
	"log/slog"
	"time"

	"github.com/poiesic/lessonrag/core"
)

// Monitor provides hooks to observe the query process.
// Implement this interface to trace intermediate steps and results.
// Implementations must be safe for concurrent use.
type Monitor interface {
	Start(question string, filters core.Filters)
	StageDone(stage core.Stage, elapsed time.Duration)
	AfterRetrieval(passages []core.RetrievedPassage)
	Finish(result *core.QueryResult, err error)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ core.Filters)           {}
func (n *noopMonitor) StageDone(_ core.Stage, _ time.Duration)  {}
func (n *noopMonitor) AfterRetrieval(_ []core.RetrievedPassage) {}
func (n *noopMonitor) Finish(_ *core.QueryResult, _ error)      {}

// LogMonitor writes each query step to a logger at debug level.
type LogMonitor struct {
	Logger *slog.Logger
}

var _ Monitor = (*LogMonitor)(nil)

func (m *LogMonitor) Start(question string, filters core.Filters) {
	m.Logger.Debug("query received", "question", question, "class", filters.ClassGrade, "subject", filters.Subject)
}

func (m *LogMonitor) StageDone(stage core.Stage, elapsed time.Duration) {
	m.Logger.Debug("stage complete", "stage", stage, "elapsed", elapsed)
}

func (m *LogMonitor) AfterRetrieval(passages []core.RetrievedPassage) {
	for i, p := range passages {
		m.Logger.Debug("passage", "rank", i+1, "tier", p.Tier, "similarity", p.Similarity, "chapter", p.Chunk.Chapter)
	}
}

func (m *LogMonitor) Finish(result *core.QueryResult, err error) {
	if err != nil {
		m.Logger.Debug("query failed", "err", err)
		return
	}
	m.Logger.Debug("query done", "model", result.Metadata.Model, "confidence", result.Confidence, "total", result.Timings.Total())
}
