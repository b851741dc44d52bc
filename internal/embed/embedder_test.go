package embed

import (
	"math"
	"reflect"
	"testing"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
)

func TestEmbedDeterministic(t *testing.T) {
	e := New(32)

	a := e.Embed("the quick brown fox")
	b := e.Embed("the quick brown fox")
	if !reflect.DeepEqual(a, b) {
		t.Error("identical text produced different vectors")
	}

	c := e.Embed("a completely different sentence")
	if reflect.DeepEqual(a, c) {
		t.Error("different text produced identical vectors")
	}
}

func TestEmbedNormalized(t *testing.T) {
	e := New(32)
	vec := e.Embed("some words here")

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-10 {
		t.Errorf("norm = %f, want 1.0", math.Sqrt(sum))
	}
}

func TestEmbedEmptyIsZeroVector(t *testing.T) {
	e := New(16)
	for _, text := range []string{"", "   ", "\n\t"} {
		vec := e.Embed(text)
		if len(vec) != 16 {
			t.Fatalf("dims = %d, want 16", len(vec))
		}
		for i, v := range vec {
			if v != 0 {
				t.Errorf("Embed(%q)[%d] = %f, want 0", text, i, v)
			}
		}
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1.0) > 1e-10 {
		t.Errorf("identical = %f, want 1.0", got)
	}
	if got := Cosine([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-10 {
		t.Errorf("orthogonal = %f, want 0", got)
	}
	// Min common length.
	if got := Cosine([]float64{1}, []float64{1, 5}); math.Abs(got-1.0) > 1e-10 {
		t.Errorf("mismatched lengths = %f, want 1.0", got)
	}
}

func TestQuantizeRoundTripBound(t *testing.T) {
	vectors := [][]float64{
		{0.5, -0.25, 0.125, 0},
		{1e-6, -1e-6, 0.99, -0.99},
		{3.5, -7.25, 0.1},
		make([]float64, 8), // all zero
	}

	for _, vec := range vectors {
		q, scale := QuantizeInt8(vec)
		back := DequantizeInt8(q, scale)
		for i := range vec {
			if diff := math.Abs(back[i] - vec[i]); diff > scale {
				t.Errorf("round-trip error %f at %d exceeds scale %f (vec %v)", diff, i, scale, vec)
			}
		}
	}
}

func TestQuantizeZeroVectorScale(t *testing.T) {
	_, scale := QuantizeInt8(make([]float64, 4))
	if scale != 1.0 {
		t.Errorf("zero-vector scale = %f, want 1.0", scale)
	}
}

func TestSelectByVectorTieBreak(t *testing.T) {
	e := New(16)

	// Identical content embeds identically, so scores collide exactly and the
	// ascending-id tie-break decides the order.
	records := []ledger.Record{
		{ID: 7, Kind: ledger.KindMessage, Content: "same text"},
		{ID: 3, Kind: ledger.KindMessage, Content: "same text"},
		{ID: 5, Kind: ledger.KindMessage, Content: "same text"},
	}

	ids, scores := e.SelectByVector(records, "same text", 10, 0)
	if !reflect.DeepEqual(ids, []int64{3, 5, 7}) {
		t.Errorf("ids = %v, want [3 5 7]", ids)
	}
	if scores[0] != scores[1] || scores[1] != scores[2] {
		t.Errorf("scores = %v, want all equal", scores)
	}
}

func TestSelectByVectorLimitAndUpTo(t *testing.T) {
	e := New(16)
	records := []ledger.Record{
		{ID: 1, Content: "alpha beta"},
		{ID: 2, Content: "alpha beta"},
		{ID: 3, Content: "alpha beta"},
	}

	ids, _ := e.SelectByVector(records, "alpha", 2, 0)
	if len(ids) != 2 {
		t.Errorf("limit ignored: got %v", ids)
	}

	ids, _ = e.SelectByVector(records, "alpha", 10, 2)
	if !reflect.DeepEqual(ids, []int64{1, 2}) {
		t.Errorf("upToID ignored: got %v", ids)
	}
}

func TestSelectByVectorRanksRelevanceFirst(t *testing.T) {
	e := New(64)
	records := []ledger.Record{
		{ID: 1, Content: "ledger hash chain verification"},
		{ID: 2, Content: "unrelated grocery shopping list"},
	}

	ids, _ := e.SelectByVector(records, "ledger hash chain", 1, 0)
	if !reflect.DeepEqual(ids, []int64{1}) {
		t.Errorf("top result = %v, want [1]", ids)
	}
}

func TestVectorTableRoundTrip(t *testing.T) {
	e := New(16)
	rec := &ledger.Record{ID: 42, Kind: ledger.KindMessage, Content: "persist me"}

	content, err := e.BuildVectorPayload(rec)
	if err != nil {
		t.Fatalf("BuildVectorPayload: %v", err)
	}

	table := NewVectorTable()
	table.Sync(&ledger.Record{ID: 43, Kind: ledger.KindEmbeddingAdd, Content: content})

	entry := table.Get(42)
	if entry == nil {
		t.Fatal("vector not rehydrated")
	}
	if entry.Model != Model || entry.Dims != 16 {
		t.Errorf("entry = %+v", entry)
	}

	// The rehydrated vector must stay close to the original embedding.
	orig := e.Embed("persist me")
	sim := Cosine(orig, entry.Vector) / (vecNorm(orig) * vecNorm(entry.Vector))
	if sim < 0.99 {
		t.Errorf("rehydrated similarity = %f, want >= 0.99", sim)
	}
}

func TestVectorTableSkipsGarbage(t *testing.T) {
	table := NewVectorTable()
	table.Sync(&ledger.Record{ID: 1, Kind: ledger.KindEmbeddingAdd, Content: "not json"})
	table.Sync(&ledger.Record{ID: 2, Kind: ledger.KindMessage, Content: "wrong kind"})

	if table.Len() != 0 {
		t.Errorf("table length = %d, want 0", table.Len())
	}
}

func vecNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
