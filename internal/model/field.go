package model

import "reflect"

// SourceUnknown is the sentinel provenance for fields whose origin was not recorded.
const SourceUnknown = "unknown"

// Field is a single attribute value bundled with extraction confidence and
// provenance. A Field with a nil Value is absent regardless of confidence.
type Field[T any] struct {
	Value      *T      `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Evidence   string  `json:"evidence,omitempty"`
}

// NewField constructs a populated Field. Confidence outside [0,1] is clamped,
// never rejected; an empty source falls back to SourceUnknown.
func NewField[T any](value T, confidence float64, source, evidence string) Field[T] {
	if source == "" {
		source = SourceUnknown
	}
	return Field[T]{
		Value:      &value,
		Confidence: clampConfidence(confidence),
		Source:     source,
		Evidence:   evidence,
	}
}

// AbsentField returns an empty Field carrying only provenance defaults.
func AbsentField[T any]() Field[T] {
	return Field[T]{Source: SourceUnknown}
}

// Absent reports whether the field carries no value.
func (f Field[T]) Absent() bool {
	return f.Value == nil
}

// Origin returns the field's source, defaulting to SourceUnknown when unset.
func (f Field[T]) Origin() string {
	if f.Source == "" {
		return SourceUnknown
	}
	return f.Source
}

// ValueEqual reports whether two fields hold the same value. Absent fields
// compare equal only to other absent fields.
func (f Field[T]) ValueEqual(other Field[T]) bool {
	if f.Value == nil || other.Value == nil {
		return f.Value == nil && other.Value == nil
	}
	return reflect.DeepEqual(*f.Value, *other.Value)
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
