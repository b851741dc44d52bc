package ledger

import (
	"encoding/json"
	"errors"
	"testing"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAndGet(t *testing.T) {
	l := testLedger(t)

	id, err := l.Append(KindMessage, "hello", map[string]any{"role": "user"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}

	rec, err := l.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("Get returned nil record")
	}
	if rec.Kind != KindMessage || rec.Content != "hello" {
		t.Errorf("record = %+v, want kind=message content=hello", rec)
	}
	if rec.Meta["role"] != "user" {
		t.Errorf("meta role = %v, want user", rec.Meta["role"])
	}
	if rec.PrevHash != "" {
		t.Errorf("first record prev_hash = %q, want empty", rec.PrevHash)
	}
	if rec.Hash == "" {
		t.Error("record hash is empty")
	}
}

func TestUnknownKindRejected(t *testing.T) {
	l := testLedger(t)

	_, err := l.Append(Kind("bogus"), "x", nil)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SchemaError", err)
	}

	n, _ := l.Len()
	if n != 0 {
		t.Errorf("ledger length = %d after rejected append, want 0", n)
	}
}

func TestStructuredContentRejected(t *testing.T) {
	l := testLedger(t)

	_, err := l.Append(KindConceptDefine, "not json", nil)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SchemaError", err)
	}

	// Arrays are not objects either.
	_, err = l.Append(KindConfig, "[1,2]", nil)
	if !errors.As(err, &se) {
		t.Fatalf("array content err = %v, want SchemaError", err)
	}

	n, _ := l.Len()
	if n != 0 {
		t.Errorf("ledger length = %d after rejected appends, want 0", n)
	}
}

func conceptDefineContent(t *testing.T) (string, string) {
	t.Helper()
	content, err := CanonicalJSON(map[string]any{
		"token":        "concept.x",
		"concept_kind": "fact",
		"definition":   "a fact",
		"attributes":   map[string]any{},
		"version":      1,
	})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(content, &generic); err != nil {
		t.Fatalf("reparse: %v", err)
	}
	hash, err := HashHex(generic)
	if err != nil {
		t.Fatalf("HashHex: %v", err)
	}
	return string(content), hash
}

func TestConceptDeclaredHashChecked(t *testing.T) {
	l := testLedger(t)
	content, hash := conceptDefineContent(t)

	var se *SchemaError
	_, err := l.Append(KindConceptDefine, content, map[string]any{"concept_id": "deadbeef"})
	if !errors.As(err, &se) {
		t.Fatalf("mismatched hash err = %v, want SchemaError", err)
	}

	_, err = l.Append(KindConceptDefine, content, nil)
	if !errors.As(err, &se) {
		t.Fatalf("missing hash err = %v, want SchemaError", err)
	}

	n, _ := l.Len()
	if n != 0 {
		t.Errorf("ledger length = %d after rejected appends, want 0", n)
	}

	id, err := l.Append(KindConceptDefine, content, map[string]any{"concept_id": hash})
	if err != nil {
		t.Fatalf("valid declared hash rejected: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
}

func TestIdempotentAppend(t *testing.T) {
	l := testLedger(t)

	id1, err := l.Append(KindMessage, "a", nil)
	if err != nil {
		t.Fatalf("append a: %v", err)
	}
	id2, err := l.Append(KindMessage, "b", nil)
	if err != nil {
		t.Fatalf("append b: %v", err)
	}
	id3, err := l.Append(KindMessage, "a", nil)
	if err != nil {
		t.Fatalf("append a again: %v", err)
	}

	if id3 != id1 {
		t.Errorf("duplicate append id = %d, want %d", id3, id1)
	}
	if id2 == id1 {
		t.Errorf("distinct payloads share id %d", id1)
	}

	n, _ := l.Len()
	if n != 2 {
		t.Errorf("ledger length = %d, want 2", n)
	}
}

func TestIdempotentAppendDistinguishesMeta(t *testing.T) {
	l := testLedger(t)

	id1, _ := l.Append(KindMessage, "a", map[string]any{"role": "user"})
	id2, _ := l.Append(KindMessage, "a", map[string]any{"role": "assistant"})
	if id1 == id2 {
		t.Errorf("different meta deduplicated to id %d", id1)
	}
}

func TestHashChain(t *testing.T) {
	l := testLedger(t)

	for _, content := range []string{"one", "two", "three"} {
		if _, err := l.Append(KindMessage, content, nil); err != nil {
			t.Fatalf("append %q: %v", content, err)
		}
	}

	records, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	if records[0].PrevHash != "" {
		t.Errorf("record 0 prev_hash = %q, want empty", records[0].PrevHash)
	}
	for i := 1; i < len(records); i++ {
		if records[i].PrevHash != records[i-1].Hash {
			t.Errorf("record %d prev_hash = %q, want %q", i, records[i].PrevHash, records[i-1].Hash)
		}
	}

	if err := l.VerifyChain(); err != nil {
		t.Errorf("VerifyChain: %v", err)
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	l := testLedger(t)

	l.Append(KindMessage, "one", nil)
	l.Append(KindMessage, "two", nil)

	if _, err := l.db.Exec("UPDATE records SET content = 'evil' WHERE id = 1"); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if err := l.VerifyChain(); err == nil {
		t.Error("VerifyChain passed on tampered ledger")
	}
}

func TestReadSurface(t *testing.T) {
	l := testLedger(t)

	l.Append(KindMessage, "m1", map[string]any{"role": "user"})
	l.Append(KindReflection, "r1", nil)
	l.Append(KindMessage, "m2", map[string]any{"role": "assistant"})
	l.Append(KindMessage, "m3", map[string]any{"role": "user"})

	tail, err := l.ReadTail(2)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if len(tail) != 2 || tail[0].ID != 3 || tail[1].ID != 4 {
		t.Errorf("ReadTail ids = %v, want [3 4]", recordIDs(tail))
	}

	since, _ := l.ReadSince(2)
	if len(since) != 2 || since[0].ID != 3 {
		t.Errorf("ReadSince(2) ids = %v, want [3 4]", recordIDs(since))
	}

	rng, _ := l.ReadRange(2, 3)
	if len(rng) != 2 || rng[0].ID != 2 || rng[1].ID != 3 {
		t.Errorf("ReadRange(2,3) ids = %v, want [2 3]", recordIDs(rng))
	}

	byKind, _ := l.ReadByKind(KindMessage)
	if len(byKind) != 3 {
		t.Errorf("ReadByKind(message) = %d records, want 3", len(byKind))
	}

	upTo, _ := l.ReadUpTo(2)
	if len(upTo) != 2 {
		t.Errorf("ReadUpTo(2) = %d records, want 2", len(upTo))
	}

	ok, _ := l.Exists(4)
	if !ok {
		t.Error("Exists(4) = false, want true")
	}
	ok, _ = l.Exists(99)
	if ok {
		t.Error("Exists(99) = true, want false")
	}
}

func TestHashSequence(t *testing.T) {
	l := testLedger(t)

	l.Append(KindMessage, "m1", nil)
	l.Append(KindMessage, "m2", nil)

	hashes, err := l.HashSequence()
	if err != nil {
		t.Fatalf("HashSequence: %v", err)
	}
	records, _ := l.ReadAll()
	if len(hashes) != len(records) {
		t.Fatalf("hash count = %d, want %d", len(hashes), len(records))
	}
	for i := range records {
		if hashes[i] != records[i].Hash {
			t.Errorf("hash[%d] = %q, want %q", i, hashes[i], records[i].Hash)
		}
	}

	partial, _ := l.HashSequenceUpTo(1)
	if len(partial) != 1 || partial[0] != records[0].Hash {
		t.Errorf("HashSequenceUpTo(1) = %v, want first hash only", partial)
	}
}

func TestDeterministicHashesAcrossRuns(t *testing.T) {
	// Timestamps are excluded from hashing, so two independent ledgers
	// receiving the same appends chain to identical hashes.
	l1 := testLedger(t)
	l2 := testLedger(t)

	for _, l := range []*Ledger{l1, l2} {
		l.Append(KindMessage, "same content", map[string]any{"role": "user"})
		l.Append(KindReflection, "same thought", nil)
	}

	h1, _ := l1.HashSequence()
	h2, _ := l2.HashSequence()
	if len(h1) != len(h2) {
		t.Fatalf("sequence lengths differ: %d vs %d", len(h1), len(h2))
	}
	for i := range h1 {
		if h1[i] != h2[i] {
			t.Errorf("hash[%d] differs across runs: %q vs %q", i, h1[i], h2[i])
		}
	}
}

func TestListeners(t *testing.T) {
	l := testLedger(t)

	var seen []int64
	l.Subscribe(func(r *Record) {
		panic("listener failure must not abort the write")
	})
	l.Subscribe(func(r *Record) {
		seen = append(seen, r.ID)
	})

	id, err := l.Append(KindMessage, "hello", nil)
	if err != nil {
		t.Fatalf("Append with panicking listener: %v", err)
	}
	if len(seen) != 1 || seen[0] != id {
		t.Errorf("second listener saw %v, want [%d]", seen, id)
	}

	// Duplicate appends do not re-notify.
	l.Append(KindMessage, "hello", nil)
	if len(seen) != 1 {
		t.Errorf("listener notified %d times, want 1", len(seen))
	}
}

func recordIDs(records []Record) []int64 {
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
