package embedding

import "math"

// Tokenizer turns text into integer token ids. Implementations must be
// deterministic for a given Version.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Version() string
}

// IsZero reports whether vec is the all-zero vector produced for empty or
// degenerate input.
func IsZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// Norm returns the L2 norm of vec.
func Norm(vec []float64) float64 {
	sum := 0.0
	for _, v := range vec {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Normalize scales vec in place to unit length. The zero vector is left as is.
func Normalize(vec []float64) {
	norm := Norm(vec)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] /= norm
	}
}
