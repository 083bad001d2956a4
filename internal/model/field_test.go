package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewField_ClampsConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"above one", 1.7, 1.0},
		{"below zero", -0.2, 0.0},
		{"in range", 0.85, 0.85},
		{"exactly one", 1.0, 1.0},
		{"exactly zero", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := NewField("CH0012345678", tt.in, "termsheet", "")
			assert.InDelta(t, tt.want, f.Confidence, 1e-9)
		})
	}
}

func TestNewField_EmptySourceDefaultsToUnknown(t *testing.T) {
	t.Parallel()

	f := NewField(42.0, 0.5, "", "")
	assert.Equal(t, SourceUnknown, f.Source)
}

func TestField_Absent(t *testing.T) {
	t.Parallel()

	var empty Field[string]
	assert.True(t, empty.Absent())
	assert.True(t, AbsentField[float64]().Absent())

	// Confidence does not matter for absence.
	empty.Confidence = 0.99
	assert.True(t, empty.Absent())

	f := NewField("UBS Group AG", 0.9, "catalog", "")
	assert.False(t, f.Absent())
}

func TestField_ValueEqual(t *testing.T) {
	t.Parallel()

	a := NewField(1.5, 0.9, "a", "")
	b := NewField(1.5, 0.2, "b", "other evidence")
	c := NewField(2.0, 0.9, "a", "")

	assert.True(t, a.ValueEqual(b), "confidence and provenance do not affect value equality")
	assert.False(t, a.ValueEqual(c))
	assert.False(t, a.ValueEqual(AbsentField[float64]()))
	assert.True(t, AbsentField[float64]().ValueEqual(AbsentField[float64]()))
}

func TestField_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	f := NewField("Barrier Reverse Convertible", 0.8, "catalog", "productType.name: BRC")

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var decoded Field[string]
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Value)
	assert.Equal(t, *f.Value, *decoded.Value)
	assert.Equal(t, f.Source, decoded.Source)
	assert.InDelta(t, f.Confidence, decoded.Confidence, 1e-9)
}
