package reembed

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Increment(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	tracker.Increment(25)
	tracker.Increment(25)
	tracker.Increment(50)

	assert.Positive(t, tracker.Elapsed())
	assert.Contains(t, buf.String(), "100/100")
	assert.Contains(t, buf.String(), "100.0%")
}

func TestProgressTracker_Finish(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	tracker.Update(75)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "100/100", "finish should set to total")
	assert.True(t, strings.HasSuffix(output, "\n"), "finish should end the line")
	assert.Contains(t, output, "chunks/s")
}

func TestProgressTracker_Caps(t *testing.T) {
	tests := []struct {
		name  string
		total int
		step  func(*ProgressTracker)
		want  string
	}{
		{"zero total", 0, func(p *ProgressTracker) { p.Finish() }, "0/0"},
		{"increment past total", 100, func(p *ProgressTracker) { p.Increment(150) }, "100/100"},
		{"update past total", 100, func(p *ProgressTracker) { p.Update(500) }, "100/100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tracker := NewProgressTracker(&buf, tt.total, 10)
			tracker.Start()
			tt.step(tracker)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Increment(10)
	tracker.Update(50)
	tracker.Finish()

	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}

func TestProgressTracker_ReportInterval(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 1000, 100)
	tracker.Start()

	tracker.Update(50)
	assert.Empty(t, buf.String(), "should not print under interval")

	tracker.Update(100)
	assert.Contains(t, buf.String(), "\rProgress: 100/1000 (10.0%)")

	buf.Reset()
	tracker.Update(150)
	assert.Empty(t, buf.String(), "interval counts from the last report")

	tracker.Update(250)
	assert.Contains(t, buf.String(), "250/1000")
}

func TestProgressTracker_StartAt(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 1000, 100)

	tracker.StartAt(400)
	tracker.Update(450)
	assert.Empty(t, buf.String(), "resumed items do not count toward the interval")

	time.Sleep(5 * time.Millisecond)
	tracker.Update(500)
	assert.Contains(t, buf.String(), "500/1000 (50.0%)")
}

func TestProgressTracker_StartAtClamps(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 1)

	tracker.StartAt(50)
	tracker.Finish()
	assert.Contains(t, buf.String(), "10/10")
}
