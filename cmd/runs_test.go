package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/glarus-data/instrument-cli/internal/model"
)

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("12345678-aaaa-bbbb"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	ended := started.Add(42 * time.Second)

	runs := []model.CrawlRun{
		{
			ID:          "aaaabbbb-1111-2222-3333-444455556666",
			Name:        "nightly-full",
			Status:      model.RunStatusCompleted,
			Total:       1200,
			Completed:   1200,
			ErrorsCount: 3,
			StartedAt:   started,
			UpdatedAt:   ended,
			EndedAt:     &ended,
		},
		{
			ID:        "ccccdddd-1111-2222-3333-444455556666",
			Name:      "a-run-name-that-is-far-too-long-to-display",
			Status:    model.RunStatusRunning,
			Total:     500,
			Completed: 120,
			StartedAt: started,
			UpdatedAt: started.Add(10 * time.Second),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "aaaabbbb")
	assert.Contains(t, out, "nightly-full")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "1200/1200")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, "far-too-long-to-display")
	assert.Contains(t, out, "120/500")
}
