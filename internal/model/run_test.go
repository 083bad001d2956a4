package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, RunStatusRunning.Terminal())
	assert.False(t, RunStatusPaused.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.True(t, RunStatusCancelled.Terminal())
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to RunStatus
		ok       bool
	}{
		{RunStatusRunning, RunStatusCompleted, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusRunning, RunStatusPaused, true},
		{RunStatusRunning, RunStatusCancelled, true},
		{RunStatusPaused, RunStatusRunning, true},
		{RunStatusPaused, RunStatusCancelled, true},
		{RunStatusPaused, RunStatusCompleted, false},
		{RunStatusPaused, RunStatusFailed, false},
		{RunStatusCompleted, RunStatusRunning, false},
		{RunStatusCancelled, RunStatusRunning, false},
		{RunStatusFailed, RunStatusPaused, false},
		{RunStatusCompleted, RunStatusCancelled, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to),
			"transition %s -> %s", tt.from, tt.to)
	}
}

func TestRunStatus_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, RunStatusRunning.Valid())
	assert.True(t, RunStatusPaused.Valid())
	assert.False(t, RunStatus("queued").Valid())
	assert.False(t, RunStatus("").Valid())
}
