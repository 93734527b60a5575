package multimodal

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// StubOCR is the offline OCR client: no text is ever recognized, so image
// documents index with a visual embedding only.
type StubOCR struct{}

var _ OCR = (*StubOCR)(nil)

// ExtractText returns no text.
func (StubOCR) ExtractText(context.Context, []byte) (string, error) { return "", nil }

// StubVisual derives a deterministic unit-length embedding from a hash of
// the image bytes, mirroring the offline text embedder.
type StubVisual struct {
	dims int
}

var _ Visual = (*StubVisual)(nil)

// NewStubVisual builds a deterministic visual embedder of the given width.
func NewStubVisual(dims int) *StubVisual {
	return &StubVisual{dims: dims}
}

// Dimensions returns the stub's vector width.
func (s *StubVisual) Dimensions() int { return s.dims }

// EmbedImage derives a vector from SHA-256 of the image bytes.
func (s *StubVisual) EmbedImage(_ context.Context, image []byte) ([]float32, error) {
	seed := sha256.Sum256(image)
	vec := make([]float32, s.dims)

	var block [40]byte
	copy(block[:32], seed[:])
	for i := 0; i < s.dims; i += 8 {
		binary.BigEndian.PutUint64(block[32:], uint64(i))
		digest := sha256.Sum256(block[:])
		for j := 0; j < 8 && i+j < s.dims; j++ {
			u := binary.BigEndian.Uint32(digest[j*4:])
			vec[i+j] = float32(u)/float32(math.MaxUint32)*2 - 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// StubTranscriber is the offline transcription client. It returns a
// deterministic placeholder so audio and video documents still index and the
// pipeline can be exercised end to end.
type StubTranscriber struct{}

var _ Transcriber = (*StubTranscriber)(nil)

// Transcribe returns a placeholder transcript naming the source file.
func (StubTranscriber) Transcribe(_ context.Context, _ []byte, filename string) (string, error) {
	return fmt.Sprintf("offline transcript placeholder for %s", filename), nil
}
