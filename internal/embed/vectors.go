package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
)

// VectorPayload is the embedding_add ledger content: a quantized vector tied
// to a record by id and text hash.
type VectorPayload struct {
	RecordID int64   `json:"record_id"`
	TextHash string  `json:"text_hash"`
	Model    string  `json:"model"`
	Dims     int     `json:"dims"`
	Quant    string  `json:"quant"`
	Scale    float64 `json:"scale"`
	Vector   []int8  `json:"vector"`
}

// BuildVectorPayload embeds a record's content, quantizes it, and returns the
// embedding_add content string.
func (e *Embedder) BuildVectorPayload(rec *ledger.Record) (string, error) {
	vec := e.Embed(rec.Content)
	q, scale := QuantizeInt8(vec)
	textSum := sha256.Sum256([]byte(rec.Content))

	payload := VectorPayload{
		RecordID: rec.ID,
		TextHash: hex.EncodeToString(textSum[:]),
		Model:    Model,
		Dims:     e.dims,
		Quant:    "int8",
		Scale:    scale,
		Vector:   q,
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal vector payload: %w", err)
	}
	return string(content), nil
}

// Entry is a rehydrated vector table row.
type Entry struct {
	RecordID int64
	Model    string
	Dims     int
	Vector   []float64 // dequantized
}

// VectorTable is the projection of embedding_add records: record id to
// dequantized vector. Rebuildable from the ledger like every other index.
type VectorTable struct {
	lastID  int64
	entries map[int64]Entry
}

// NewVectorTable returns an empty vector table.
func NewVectorTable() *VectorTable {
	return &VectorTable{entries: make(map[int64]Entry)}
}

// Rebuild clears the table and replays the given records.
func (t *VectorTable) Rebuild(records []ledger.Record) {
	t.lastID = 0
	t.entries = make(map[int64]Entry)
	for i := range records {
		t.Sync(&records[i])
	}
}

// Sync applies one record. Non-embedding kinds and already-processed ids are
// no-ops; unparseable payloads are skipped, the projection tolerates gaps.
func (t *VectorTable) Sync(rec *ledger.Record) {
	if rec.ID <= t.lastID {
		return
	}
	t.lastID = rec.ID
	if rec.Kind != ledger.KindEmbeddingAdd {
		return
	}

	var payload VectorPayload
	if err := json.Unmarshal([]byte(rec.Content), &payload); err != nil {
		return
	}
	if payload.RecordID == 0 || payload.Quant != "int8" {
		return
	}
	t.entries[payload.RecordID] = Entry{
		RecordID: payload.RecordID,
		Model:    payload.Model,
		Dims:     payload.Dims,
		Vector:   DequantizeInt8(payload.Vector, payload.Scale),
	}
}

// Get returns the vector entry for a record id, or nil.
func (t *VectorTable) Get(recordID int64) *Entry {
	e, ok := t.entries[recordID]
	if !ok {
		return nil
	}
	return &e
}

// Has reports whether a vector exists for the record id.
func (t *VectorTable) Has(recordID int64) bool {
	_, ok := t.entries[recordID]
	return ok
}

// Len returns the number of stored vectors.
func (t *VectorTable) Len() int { return len(t.entries) }
