package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashProvider is a deterministic, offline embedding backend: vectors
// are derived from a SHA-256 stream over the input text and L2
// normalized. Semantically meaningless, but stable across runs, which
// makes it useful for demos, smoke tests, and air-gapped setups.
type HashProvider struct {
	model      string
	dimensions int
}

// NewHashProvider creates a hash-based provider with the given
// dimensionality.
func NewHashProvider(model string, dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashProvider{model: model, dimensions: dimensions}
}

// Embed derives a unit-length vector from the text. Empty text embeds
// to a fixed vector rather than erroring.
func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimensions)

	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < p.dimensions; i++ {
		if i > 0 && i%8 == 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.LittleEndian.Uint32(block[(i%8)*4:])
		// Map to (-1, 1).
		vec[i] = float32(bits)/float32(math.MaxUint32)*2 - 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Model returns the model name.
func (p *HashProvider) Model() string {
	return p.model
}

// Dimensions returns the embedding vector dimensions.
func (p *HashProvider) Dimensions() int {
	return p.dimensions
}

// Ping always succeeds; there is nothing to reach.
func (p *HashProvider) Ping(context.Context) error {
	return nil
}
