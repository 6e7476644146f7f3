// Package vector provides the float32 embedding codec and the small set of
// metrics the similarity scan needs. Embeddings are packed little-endian
// IEEE-754 float32, 4 bytes per element, no header; NULL columns mean
// "no embedding".
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DefaultDimensions matches the common transformer embedding width.
const DefaultDimensions = 1536

// ErrDimensionMismatch is returned when two vectors (or a vector and the
// configured dimension) disagree on length.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Serialize packs v as little-endian float32, 4*len(v) bytes.
func Serialize(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Deserialize is the exact inverse of Serialize. Buffers whose length is not
// a multiple of 4 are rejected.
func Deserialize(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// ValidateDimensions rejects vectors whose length differs from dims.
func ValidateDimensions(v []float32, dims int) error {
	if len(v) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dims)
	}
	return nil
}

// IsValid reports whether every element is finite (no NaN, no ±Inf).
func IsValid(v []float32) bool {
	for _, f := range v {
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the normalized inner product of a and b.
// A zero vector on either side yields 0, never NaN.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// DotProduct returns a·b.
func DotProduct(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot, nil
}

// EuclideanDistance returns |a-b|.
func EuclideanDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Magnitude returns |v|.
func Magnitude(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero vector comes back as a
// zero copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	mag := Magnitude(v)
	if mag == 0 {
		return out
	}
	for i, f := range v {
		out[i] = float32(float64(f) / mag)
	}
	return out
}

// Add returns a+b elementwise.
func Add(a, b []float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out, nil
}

// Subtract returns a-b elementwise.
func Subtract(a, b []float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out, nil
}

// Scale returns v multiplied by s.
func Scale(v []float32, s float32) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = f * s
	}
	return out
}
