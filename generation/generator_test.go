package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/lessonrag/ai"
	"github.com/poiesic/lessonrag/ai/mock"
	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/workers"
)

var testModels = []string{"model-a", "model-b", "model-c"}

func newPool(t *testing.T) *workers.Pool {
	t.Helper()
	pool, err := workers.New(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func passage(chapter, content string, sim float32) core.RetrievedPassage {
	return core.RetrievedPassage{
		Chunk: &core.Chunk{
			ID:         uuid.New(),
			ClassGrade: "10",
			Subject:    "Science",
			Chapter:    chapter,
			Content:    content,
		},
		Similarity: sim,
		Tier:       core.TierVector,
	}
}

func TestNewGenerator_Required(t *testing.T) {
	pool := newPool(t)
	gen := mock.NewMockGenerator("ok")

	_, err := NewGenerator(nil, pool, testModels)
	assert.ErrorIs(t, err, ErrGeneratorRequired)
	_, err = NewGenerator(gen, nil, testModels)
	assert.ErrorIs(t, err, ErrPoolRequired)
	_, err = NewGenerator(gen, pool, nil)
	assert.ErrorIs(t, err, ErrModelsRequired)
}

func TestGenerate_NoPassages(t *testing.T) {
	gen := mock.NewMockGenerator("should not be used")
	g, err := NewGenerator(gen, newPool(t), testModels)
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), "What is light?", nil)
	require.NoError(t, err)
	assert.Equal(t, NotFoundAnswer, answer.Text)
	assert.Equal(t, core.ModelNone, answer.Model)
	assert.Zero(t, gen.CallCount())
}

func TestGenerate_FirstModelSucceeds(t *testing.T) {
	gen := mock.NewMockGenerator("  Plants make food using sunlight.  ")
	g, err := NewGenerator(gen, newPool(t), testModels)
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), "What is photosynthesis?",
		[]core.RetrievedPassage{passage("Life Processes", "Photosynthesis content.", 0.8)})
	require.NoError(t, err)
	assert.Equal(t, "Plants make food using sunlight.", answer.Text)
	assert.Equal(t, "model-a", answer.Model)
	assert.False(t, answer.Extractive)
	assert.Equal(t, "model-a", g.SelectedModel())

	prompt := gen.LastPrompt()
	assert.Contains(t, prompt.System, RefusalPhrase)
	assert.Contains(t, prompt.User, "[Source 1: Class 10, Subject: Science, Chapter: Life Processes]")
	assert.Contains(t, prompt.User, "QUESTION: What is photosynthesis?")
}

func TestGenerate_FallsThroughAndRemembersModel(t *testing.T) {
	gen := mock.NewMockGenerator("")
	gen.GenerateFunc = func(_ context.Context, model string, _ ai.Prompt, _ ai.GenerationParams) (string, error) {
		switch model {
		case "model-a":
			return "", errors.New("boom")
		case "model-b":
			return "   ", nil
		default:
			return "answer from c", nil
		}
	}
	g, err := NewGenerator(gen, newPool(t), testModels)
	require.NoError(t, err)
	passages := []core.RetrievedPassage{passage("Light", "Light content.", 0.7)}

	answer, err := g.Generate(context.Background(), "What is light?", passages)
	require.NoError(t, err)
	assert.Equal(t, "model-c", answer.Model)
	assert.Equal(t, []string{"model-a", "model-b", "model-c"}, gen.Calls())

	gen.Reset()
	gen.GenerateFunc = func(_ context.Context, model string, _ ai.Prompt, _ ai.GenerationParams) (string, error) {
		return "from " + model, nil
	}
	answer, err = g.Generate(context.Background(), "What is light?", passages)
	require.NoError(t, err)
	assert.Equal(t, "model-c", answer.Model, "earlier models are not tried again")
	assert.Equal(t, []string{"model-c"}, gen.Calls())
}

func TestGenerate_AttemptTimeoutMovesOn(t *testing.T) {
	gen := mock.NewMockGenerator("")
	gen.GenerateFunc = func(ctx context.Context, model string, _ ai.Prompt, _ ai.GenerationParams) (string, error) {
		if model == "model-a" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "late but fine", nil
	}
	g, err := NewGenerator(gen, newPool(t), testModels, WithAttemptTimeout(20*time.Millisecond))
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), "q?", []core.RetrievedPassage{passage("X", "content", 0.5)})
	require.NoError(t, err)
	assert.Equal(t, "model-b", answer.Model)
}

func TestGenerate_ExtractiveFallback(t *testing.T) {
	gen := mock.NewMockGenerator("")
	gen.GenerateFunc = func(context.Context, string, ai.Prompt, ai.GenerationParams) (string, error) {
		return "", errors.New("unavailable")
	}
	g, err := NewGenerator(gen, newPool(t), testModels)
	require.NoError(t, err)

	long := strings.Repeat("a", 450)
	passages := []core.RetrievedPassage{
		passage("Low", "low similarity passage", 0.3),
		passage("High", long, 0.9),
	}
	answer, err := g.Generate(context.Background(), "q?", passages)
	require.NoError(t, err)
	assert.True(t, answer.Extractive)
	assert.Equal(t, core.ModelFallback, answer.Model)
	assert.Equal(t, ExcerptMarker+"\n\n"+strings.Repeat("a", 400)+"...", answer.Text)
	assert.Equal(t, 3, gen.CallCount())
	assert.Empty(t, g.SelectedModel())
}

func TestGenerate_ContextDone(t *testing.T) {
	gen := mock.NewMockGenerator("unused")
	g, err := NewGenerator(gen, newPool(t), testModels)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, "q?", []core.RetrievedPassage{passage("X", "content", 0.5)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_ContextPassages(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"default", 0, 3},
		{"clamped up", 1, 3},
		{"in range", 4, 4},
		{"clamped down", 9, 5},
	}
	passages := make([]core.RetrievedPassage, 6)
	for i := range passages {
		passages[i] = passage("C", "content", float32(i)/10)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := mock.NewMockGenerator("ok")
			var opts []Option
			if tt.n != 0 {
				opts = append(opts, WithContextPassages(tt.n))
			}
			g, err := NewGenerator(gen, newPool(t), testModels, opts...)
			require.NoError(t, err)

			_, err = g.Generate(context.Background(), "q?", passages)
			require.NoError(t, err)
			user := gen.LastPrompt().User
			assert.Equal(t, tt.want, strings.Count(user, "[Source "))
			// highest similarity first
			assert.True(t, strings.Index(user, "[Source 1:") < strings.Index(user, "[Source 2:"))
		})
	}
}

func TestGenerate_Concurrent(t *testing.T) {
	gen := mock.NewMockGenerator("ok")
	g, err := NewGenerator(gen, newPool(t), testModels)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answer, err := g.Generate(context.Background(), "q?", []core.RetrievedPassage{passage("X", "c", 0.5)})
			assert.NoError(t, err)
			assert.Equal(t, "model-a", answer.Model)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, gen.CallCount())
}

func TestExtractive_Short(t *testing.T) {
	got := Extractive(passage("X", "  short text  ", 0.5))
	assert.Equal(t, ExcerptMarker+"\n\nshort text", got)
}

func TestBuildContext(t *testing.T) {
	p1 := passage("One", "first", 0.9)
	p2 := passage("", "second", 0.8)
	got := BuildContext([]core.RetrievedPassage{p1, p2})
	assert.Equal(t,
		"[Source 1: Class 10, Subject: Science, Chapter: One]\n\nfirst\n\n---\n\n"+
			"[Source 2: Class 10, Subject: Science, Chapter: N/A]\n\nsecond",
		got)
}

func TestGenerate_RetriesRateLimitedModelOnce(t *testing.T) {
	gen := mock.NewMockGenerator("")
	var mu sync.Mutex
	limited := false
	gen.GenerateFunc = func(ctx context.Context, model string, prompt ai.Prompt, params ai.GenerationParams) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if !limited {
			limited = true
			return "", ai.ErrRateLimited
		}
		return "Water evaporates and condenses.", nil
	}
	g, err := NewGenerator(gen, newPool(t), testModels, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), "What is the water cycle?",
		[]core.RetrievedPassage{passage("Water", "The water cycle moves water.", 0.7)})
	require.NoError(t, err)
	assert.Equal(t, "model-a", answer.Model)
	assert.Equal(t, "Water evaporates and condenses.", answer.Text)
	assert.Equal(t, []string{"model-a", "model-a"}, gen.Calls())
}

func TestGenerate_RateLimitedTwiceMovesOn(t *testing.T) {
	gen := mock.NewMockGenerator("")
	gen.GenerateFunc = func(ctx context.Context, model string, prompt ai.Prompt, params ai.GenerationParams) (string, error) {
		if model == "model-a" {
			return "", ai.ErrRateLimited
		}
		return "answer from b", nil
	}
	g, err := NewGenerator(gen, newPool(t), testModels, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), "What is the water cycle?",
		[]core.RetrievedPassage{passage("Water", "The water cycle moves water.", 0.7)})
	require.NoError(t, err)
	assert.Equal(t, "model-b", answer.Model)
	assert.Equal(t, []string{"model-a", "model-a", "model-b"}, gen.Calls())
}

func TestGenerate_OtherErrorsAreNotRetried(t *testing.T) {
	gen := mock.NewMockGenerator("")
	gen.GenerateFunc = func(ctx context.Context, model string, prompt ai.Prompt, params ai.GenerationParams) (string, error) {
		if model == "model-a" {
			return "", errors.New("model not found")
		}
		return "answer from b", nil
	}
	g, err := NewGenerator(gen, newPool(t), testModels, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "What is the water cycle?",
		[]core.RetrievedPassage{passage("Water", "The water cycle moves water.", 0.7)})
	require.NoError(t, err)
	assert.Equal(t, []string{"model-a", "model-b"}, gen.Calls())
}

func TestWithRetryDelay_Negative(t *testing.T) {
	_, err := NewGenerator(mock.NewMockGenerator("ok"), newPool(t), testModels, WithRetryDelay(-time.Second))
	assert.Error(t, err)
}
