// Package embed provides the deterministic text embedding used for retrieval.
// Vectors are derived purely from SHA-256 of the tokens — no model weights, no
// randomness — so embeddings are reproducible across machines and processes.
package embed

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
)

// Model is the embedding model identifier persisted with every vector.
const Model = "pmm-hash-v1"

// DefaultDims is the default vector dimensionality.
const DefaultDims = 64

// Embedder generates deterministic hash-based embeddings.
type Embedder struct {
	dims int
}

// New returns an embedder with the given dimensionality (DefaultDims if <= 0).
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &Embedder{dims: dims}
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed tokenizes text on whitespace, derives a unit-scale pseudo-random
// vector per token from SHA256(token ":" i), sums them, and L2-normalizes.
// Returns the zero vector for empty input.
func (e *Embedder) Embed(text string) []float64 {
	vec := make([]float64, e.dims)
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return vec
	}

	for _, token := range tokens {
		for i := 0; i < e.dims; i++ {
			sum := sha256.Sum256([]byte(token + ":" + strconv.Itoa(i)))
			u := binary.BigEndian.Uint32(sum[:4])
			// Map [0, 2^32) linearly to [-1, 1].
			vec[i] += float64(u)/float64(math.MaxUint32)*2 - 1
		}
	}

	normalize(vec)
	return vec
}

// normalize performs in-place L2 normalization.
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

// Cosine computes the dot product over the min common length. Vectors are
// equal-length and normalized in practice, so this is cosine similarity.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot
}

// Scored pairs a record id with its similarity score.
type Scored struct {
	ID    int64
	Score float64
}

// SelectByVector embeds the query, scores each candidate record's content by
// cosine, and returns up to limit ids with their scores. Ordering is by
// (-score, id ascending); the ascending-id tie-break keeps output
// deterministic when scores collide exactly. upToID, when > 0, excludes
// records with a higher id.
func (e *Embedder) SelectByVector(records []ledger.Record, query string, limit int, upToID int64) ([]int64, []float64) {
	queryVec := e.Embed(query)

	var scored []Scored
	for i := range records {
		r := &records[i]
		if upToID > 0 && r.ID > upToID {
			continue
		}
		scored = append(scored, Scored{ID: r.ID, Score: Cosine(queryVec, e.Embed(r.Content))})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}

	ids := make([]int64, len(scored))
	scores := make([]float64, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
		scores[i] = s.Score
	}
	return ids, scores
}
