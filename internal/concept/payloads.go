package concept

import (
	"encoding/json"
	"fmt"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
)

// ValidationError is a hard failure: a concept event whose declared content
// hash does not match its canonicalized payload. Never silently corrected.
type ValidationError struct {
	RecordID int64
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("concept validation failed for record %d (%s): %s", e.RecordID, e.Field, e.Reason)
}

// idFieldForKind maps each concept event kind to the meta field that must
// carry the SHA-256 of its canonical-JSON content.
var idFieldForKind = map[ledger.Kind]string{
	ledger.KindConceptDefine:     "concept_id",
	ledger.KindConceptAlias:      "alias_id",
	ledger.KindConceptBindEvent:  "binding_id",
	ledger.KindConceptBindAsync:  "binding_id",
	ledger.KindConceptBindThread: "binding_id",
	ledger.KindConceptRelate:     "relation_id",
	ledger.KindConceptSnapshot:   "snapshot_id",
}

// validatePayload parses the record content as a JSON object and checks that
// the declared id field in meta equals the hash of the re-canonicalized
// content. Returns the parsed payload on success.
func validatePayload(rec *ledger.Record) (map[string]any, error) {
	field, ok := idFieldForKind[rec.Kind]
	if !ok {
		return nil, nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(rec.Content), &payload); err != nil {
		return nil, &ValidationError{RecordID: rec.ID, Field: field, Reason: fmt.Sprintf("malformed payload: %v", err)}
	}

	declared, _ := rec.Meta[field].(string)
	if declared == "" {
		return nil, &ValidationError{RecordID: rec.ID, Field: field, Reason: "missing declared content hash"}
	}

	computed, err := ledger.HashHex(payload)
	if err != nil {
		return nil, &ValidationError{RecordID: rec.ID, Field: field, Reason: err.Error()}
	}
	if computed != declared {
		return nil, &ValidationError{
			RecordID: rec.ID,
			Field:    field,
			Reason:   fmt.Sprintf("declared %q, computed %q", declared, computed),
		}
	}
	return payload, nil
}

// DefinePayload builds the canonical content and meta for a concept_define
// record. The hash covers exactly token, concept_kind, definition, attributes,
// and version; supersedes travels in meta.
func DefinePayload(token, conceptKind, definition string, attributes map[string]any, version int, supersedes string) (content string, meta map[string]any, err error) {
	if attributes == nil {
		attributes = map[string]any{}
	}
	payload := map[string]any{
		"token":        token,
		"concept_kind": conceptKind,
		"definition":   definition,
		"attributes":   attributes,
		"version":      version,
	}
	return buildPayload(payload, "concept_id", map[string]any{"supersedes": supersedes})
}

// AliasPayload builds content and meta for a concept_alias record.
func AliasPayload(from, to, reason string) (string, map[string]any, error) {
	return buildPayload(map[string]any{
		"from":   from,
		"to":     to,
		"reason": reason,
	}, "alias_id", nil)
}

// BindEventPayload builds content and meta for concept_bind_event and
// concept_bind_async records.
func BindEventPayload(recordID int64, tokens []string, relation string, weight float64) (string, map[string]any, error) {
	return buildPayload(map[string]any{
		"record_id": recordID,
		"tokens":    tokens,
		"relation":  relation,
		"weight":    weight,
	}, "binding_id", nil)
}

// BindThreadPayload builds content and meta for a concept_bind_thread record.
func BindThreadPayload(threadID string, tokens []string, relation string) (string, map[string]any, error) {
	return buildPayload(map[string]any{
		"thread_id": threadID,
		"tokens":    tokens,
		"relation":  relation,
	}, "binding_id", nil)
}

// RelatePayload builds content and meta for a concept_relate record.
func RelatePayload(from, to, relation string, weight float64) (string, map[string]any, error) {
	return buildPayload(map[string]any{
		"from":     from,
		"to":       to,
		"relation": relation,
		"weight":   weight,
	}, "relation_id", nil)
}

// SnapshotPayload builds content and meta for a concept_state_snapshot record.
func SnapshotPayload(upToRecordID int64, conceptCount, bindingCount, edgeCount int) (string, map[string]any, error) {
	return buildPayload(map[string]any{
		"up_to_record_id": upToRecordID,
		"concept_counts":  conceptCount,
		"binding_counts":  bindingCount,
		"edge_counts":     edgeCount,
	}, "snapshot_id", nil)
}

func buildPayload(payload map[string]any, idField string, extraMeta map[string]any) (string, map[string]any, error) {
	// Round-trip through JSON so producer-side hashing sees the same generic
	// types (float64 numbers) that validation sees after parsing.
	raw, err := ledger.CanonicalJSON(payload)
	if err != nil {
		return "", nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", nil, fmt.Errorf("reparse payload: %w", err)
	}
	hash, err := ledger.HashHex(generic)
	if err != nil {
		return "", nil, err
	}
	content, err := ledger.CanonicalJSON(generic)
	if err != nil {
		return "", nil, err
	}
	meta := map[string]any{idField: hash}
	for k, v := range extraMeta {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		meta[k] = v
	}
	return string(content), meta, nil
}
