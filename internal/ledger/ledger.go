package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Record is a single immutable ledger entry. The hash covers kind, content,
// meta, and prev_hash — never the timestamp.
type Record struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"` // unix millis
	Kind      Kind           `json:"kind"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta"`
	PrevHash  string         `json:"prev_hash,omitempty"` // empty for the first record
	Hash      string         `json:"hash"`
}

// Listener is notified synchronously after every successful append, on the
// appending goroutine, inside the append critical section. Panics are caught
// and dropped per listener; they never abort the write or other listeners.
type Listener func(*Record)

// Ledger is the append-only, hash-chained record store. A single mutex covers
// read-hash-compute-insert-notify per append, so appends are strictly
// serialized and prev_hash chaining is race-free.
type Ledger struct {
	db        *DB
	mu        sync.Mutex
	listeners []Listener
}

// Open opens (or creates) a ledger at the given database path.
func Open(path string) (*Ledger, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// OpenMemory opens an in-memory ledger for testing.
func OpenMemory() (*Ledger, error) {
	db, err := OpenMemoryDB()
	if err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error { return l.db.Close() }

// DB exposes the underlying database handle (health checks, stats).
func (l *Ledger) DB() *DB { return l.db }

// Subscribe registers a listener. Listeners run in registration order.
func (l *Ledger) Subscribe(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Append validates, policy-gates, hashes, and inserts one record. Appending a
// payload whose hash already exists is a no-op that returns the prior id.
func (l *Ledger) Append(kind Kind, content string, meta map[string]any) (int64, error) {
	if !KnownKind(kind) {
		return 0, &SchemaError{Kind: kind, Reason: "unknown kind"}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if Structured(kind) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(content), &obj); err != nil {
			return 0, &SchemaError{Kind: kind, Reason: fmt.Sprintf("content is not a JSON object: %v", err)}
		}
		// Concept events carry a declared content hash in meta; it must match
		// the canonicalized payload or the write fails.
		if field, ok := conceptIDFields[kind]; ok {
			declared, _ := meta[field].(string)
			if declared == "" {
				return 0, &SchemaError{Kind: kind, Reason: fmt.Sprintf("missing declared content hash %q", field)}
			}
			computed, err := HashHex(obj)
			if err != nil {
				return 0, &SchemaError{Kind: kind, Reason: fmt.Sprintf("hash payload: %v", err)}
			}
			if computed != declared {
				return 0, &SchemaError{Kind: kind, Reason: fmt.Sprintf("%s mismatch: declared %q, computed %q", field, declared, computed)}
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if Sensitive(kind) {
		source := metaString(meta, "source")
		if source == "" {
			source = "unknown"
		}
		if forbidden := l.policyForbids(source, kind); forbidden {
			// Document the attempt, then fail the write.
			vc, _ := CanonicalJSON(map[string]any{
				"actor":          source,
				"attempted_kind": string(kind),
			})
			if _, _, err := l.appendLocked(KindViolation, string(vc), map[string]any{"source": source}); err != nil {
				log.Printf("ledger: record policy violation: %v", err)
			}
			return 0, &PolicyError{Source: source, Kind: kind}
		}
	}

	id, _, err := l.appendLocked(kind, content, meta)
	return id, err
}

// appendLocked performs the hash-chain insert and listener notification.
// Caller must hold l.mu.
func (l *Ledger) appendLocked(kind Kind, content string, meta map[string]any) (int64, bool, error) {
	// Idempotent insert: identical payloads return the existing record. The
	// idempotency key deliberately excludes prev_hash so retry-after-partial-
	// failure and replay both dedupe no matter where the tail has moved.
	cHash, err := contentHash(kind, content, meta)
	if err != nil {
		return 0, false, fmt.Errorf("content hash: %w", err)
	}
	var existingID int64
	err = l.db.QueryRow("SELECT id FROM records WHERE content_hash = ?", cHash).Scan(&existingID)
	if err == nil {
		return existingID, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("check duplicate: %w", err)
	}

	var prevHash sql.NullString
	err = l.db.QueryRow("SELECT hash FROM records ORDER BY id DESC LIMIT 1").Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("read tail: %w", err)
	}

	hash, err := recordHash(kind, content, meta, prevHash.String)
	if err != nil {
		return 0, false, fmt.Errorf("hash record: %w", err)
	}

	now := time.Now().UnixMilli()
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, false, fmt.Errorf("marshal meta: %w", err)
	}

	result, err := l.db.Exec(`
		INSERT INTO records (ts, kind, content, meta, prev_hash, hash, content_hash)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)
	`, now, string(kind), content, string(metaJSON), prevHash.String, hash, cHash)
	if err != nil {
		return 0, false, fmt.Errorf("insert record: %w", err)
	}
	id, _ := result.LastInsertId()

	rec := &Record{
		ID:        id,
		Timestamp: now,
		Kind:      kind,
		Content:   content,
		Meta:      meta,
		PrevHash:  prevHash.String,
		Hash:      hash,
	}
	l.notify(rec)
	return id, true, nil
}

func (l *Ledger) notify(rec *Record) {
	for i, fn := range l.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("ledger: listener %d failed on record %d: %v", i, rec.ID, r)
				}
			}()
			fn(rec)
		}()
	}
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

const selectRecord = `SELECT id, ts, kind, content, meta, prev_hash, hash FROM records`

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var r Record
		var kind string
		var metaJSON string
		var prevHash sql.NullString
		if err := rows.Scan(&r.ID, &r.Timestamp, &kind, &r.Content, &metaJSON, &prevHash, &r.Hash); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = Kind(kind)
		r.PrevHash = prevHash.String
		if err := json.Unmarshal([]byte(metaJSON), &r.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta for record %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (l *Ledger) queryRecords(where string, args ...any) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows, err := l.db.Query(selectRecord+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return scanRecords(rows)
}

// ReadAll returns every record ordered by id ascending.
func (l *Ledger) ReadAll() ([]Record, error) {
	return l.queryRecords("ORDER BY id ASC")
}

// ReadTail returns the last n records, ordered by id ascending.
func (l *Ledger) ReadTail(n int) ([]Record, error) {
	records, err := l.queryRecords("ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	// Reverse back to ascending.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// ReadSince returns records with id greater than the given id, ascending.
func (l *Ledger) ReadSince(id int64) ([]Record, error) {
	return l.queryRecords("WHERE id > ? ORDER BY id ASC", id)
}

// ReadRange returns records with lo <= id <= hi, ascending.
func (l *Ledger) ReadRange(lo, hi int64) ([]Record, error) {
	return l.queryRecords("WHERE id >= ? AND id <= ? ORDER BY id ASC", lo, hi)
}

// ReadByKind returns all records of the given kind, ascending.
func (l *Ledger) ReadByKind(kind Kind) ([]Record, error) {
	return l.queryRecords("WHERE kind = ? ORDER BY id ASC", string(kind))
}

// ReadUpTo returns records with id <= the given id, ascending. Supports
// checkpoint manifests that bound verification cost.
func (l *Ledger) ReadUpTo(id int64) ([]Record, error) {
	return l.queryRecords("WHERE id <= ? ORDER BY id ASC", id)
}

// Get returns the record with the given id, or nil if not found.
func (l *Ledger) Get(id int64) (*Record, error) {
	records, err := l.queryRecords("WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Exists reports whether a record with the given id exists.
func (l *Ledger) Exists(id int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var count int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM records WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return count > 0, nil
}

// Len returns the number of records in the ledger.
func (l *Ledger) Len() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	if err := l.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// HashSequence returns the hash of every record, ordered by id ascending.
func (l *Ledger) HashSequence() ([]string, error) {
	return l.hashSequenceWhere("")
}

// HashSequenceUpTo returns the hashes of records with id <= the given id.
func (l *Ledger) HashSequenceUpTo(id int64) ([]string, error) {
	return l.hashSequenceWhere("WHERE id <= ?", id)
}

func (l *Ledger) hashSequenceWhere(where string, args ...any) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows, err := l.db.Query("SELECT hash FROM records "+where+" ORDER BY id ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("hash sequence: %w", err)
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// VerifyChain walks the full sequence and fails on the first prev_hash
// mismatch or content-hash mismatch. Read-only; never run on the append path.
func (l *Ledger) VerifyChain() error {
	records, err := l.ReadAll()
	if err != nil {
		return err
	}
	prev := ""
	for i := range records {
		r := &records[i]
		if r.PrevHash != prev {
			return fmt.Errorf("chain break at record %d: prev_hash %q, want %q", r.ID, r.PrevHash, prev)
		}
		want, err := recordHash(r.Kind, r.Content, r.Meta, r.PrevHash)
		if err != nil {
			return fmt.Errorf("rehash record %d: %w", r.ID, err)
		}
		if r.Hash != want {
			return fmt.Errorf("hash mismatch at record %d: stored %q, computed %q", r.ID, r.Hash, want)
		}
		prev = r.Hash
	}
	return nil
}

// CountByKind returns record counts grouped by kind.
func (l *Ledger) CountByKind() (map[Kind]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows, err := l.db.Query("SELECT kind, COUNT(*) FROM records GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer rows.Close()
	counts := make(map[Kind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Kind(kind)] = n
	}
	return counts, rows.Err()
}
