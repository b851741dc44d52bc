package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes v with deterministic byte output: map keys are
// emitted in sorted order (encoding/json sorts map keys), no extra whitespace.
// Payloads that need a stable hash must be built as map[string]any so field
// order never depends on struct declaration order.
func CanonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return b, nil
}

// HashHex returns the lowercase hex SHA-256 of the canonical JSON of v.
func HashHex(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// contentHash identifies a record by payload alone — kind, content, meta —
// and is the idempotency key: re-appending a byte-identical payload dedupes
// against it regardless of where the chain tail has moved since.
func contentHash(kind Kind, content string, meta map[string]any) (string, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	return HashHex(map[string]any{
		"kind":    string(kind),
		"content": content,
		"meta":    meta,
	})
}

// recordHash computes the chain hash for a record. The timestamp is excluded
// so that two independent runs producing semantically identical content chain
// to identical hashes. prevHash is encoded as JSON null for the first record.
func recordHash(kind Kind, content string, meta map[string]any, prevHash string) (string, error) {
	var prev any
	if prevHash != "" {
		prev = prevHash
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return HashHex(map[string]any{
		"kind":      string(kind),
		"content":   content,
		"meta":      meta,
		"prev_hash": prev,
	})
}
