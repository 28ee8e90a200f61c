package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is an offline embedder using signed feature hashing over
// lowercase word unigrams and bigrams, L2-normalized. It needs no model
// files or network and is deterministic across processes.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hashing embedder with the given dimension.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) Name() string { return "hash" }

// Embed never fails except on a cancelled context.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, h.dims)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		idx, sign := h.Slot(tok)
		vec[idx] += sign
		if i > 0 {
			idx, sign = h.Slot(tokens[i-1] + " " + tok)
			vec[idx] += 0.5 * sign
		}
	}
	normalize(vec)
	return vec, nil
}

// Slot returns the vector index and sign a feature hashes to.
func (h *HashEmbedder) Slot(feature string) (int, float64) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(h.dims)), sign
}

// Tokenize lowercases text and splits it into letter/digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] /= n
	}
}
