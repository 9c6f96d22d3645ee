// Package local provides a deterministic, dependency-free embedder: each
// token hashes into one dimension of a fixed-size vector which is then
// L2-normalized. Retrieval quality is far below a real model but the
// behavior is stable across runs, which keeps semantic search usable on
// machines without model access.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	registryembed "github.com/ckoons/engram/internal/registry/embed"
)

const (
	modelName = "token-hash-v1"
	dimension = 384
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "local",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return New(), nil
		},
	})
}

// New returns the hashing embedder. Exposed for tests that need a live
// provider without going through the registry.
func New() *Embedder {
	return &Embedder{}
}

type Embedder struct{}

func (e *Embedder) ModelName() string { return modelName }
func (e *Embedder) Dimension() int    { return dimension }

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = embedOne(text)
	}
	return results, nil
}

func embedOne(text string) []float32 {
	vector := make([]float32, dimension)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		vector[h.Sum64()%dimension] += 1
	}
	var norm float32
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return vector
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}

var _ registryembed.Embedder = (*Embedder)(nil)
