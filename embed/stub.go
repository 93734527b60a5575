package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Stub is the offline-mode embedder: vectors are derived from a hash of the
// text, so the same text always embeds identically and the pipeline runs
// without any model endpoint.
type Stub struct {
	dims int
}

var _ Client = (*Stub)(nil)

// NewStub builds a deterministic embedder of the given width.
func NewStub(dims int) *Stub {
	return &Stub{dims: dims}
}

// Dimensions returns the stub's vector width.
func (s *Stub) Dimensions() int { return s.dims }

// Embed derives a unit-length vector per text by expanding a SHA-256 of the
// text with a block counter.
func (s *Stub) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = s.derive(text)
	}
	return vectors, nil
}

func (s *Stub) derive(text string) []float32 {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, s.dims)

	var block [40]byte
	copy(block[:32], seed[:])
	for i := 0; i < s.dims; i += 8 {
		binary.BigEndian.PutUint64(block[32:], uint64(i))
		digest := sha256.Sum256(block[:])
		for j := 0; j < 8 && i+j < s.dims; j++ {
			u := binary.BigEndian.Uint32(digest[j*4:])
			// Map to [-1, 1).
			vec[i+j] = float32(u)/float32(math.MaxUint32)*2 - 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
