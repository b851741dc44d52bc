// Package concept maintains the typed-token graph projection over the ledger:
// versioned definitions, alias resolution, typed relations, and event/thread
// bindings. All state is derived and fully rebuildable; query outputs are
// deterministically sorted because retrieval ordering depends on them.
package concept

import (
	"errors"
	"log"
	"sort"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
)

// Definition is one version of a concept token's definition.
type Definition struct {
	Token            string         `json:"token"`
	ConceptKind      string         `json:"concept_kind"`
	Definition       string         `json:"definition"`
	Attributes       map[string]any `json:"attributes"`
	Version          int            `json:"version"`
	ConceptID        string         `json:"concept_id"`
	DefiningRecordID int64          `json:"defining_record_id"`
	Supersedes       string         `json:"supersedes,omitempty"`
}

// Edge is a typed directed relation between two tokens. Stored directed,
// queryable in either direction.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// Stats summarizes index size.
type Stats struct {
	Concepts        int   `json:"concepts"`
	Aliases         int   `json:"aliases"`
	Edges           int   `json:"edges"`
	EventBindings   int   `json:"event_bindings"`
	ThreadBindings  int   `json:"thread_bindings"`
	LastProcessedID int64 `json:"last_processed_id"`
}

// Index is the concept-graph projection. Not safe for concurrent Sync from
// multiple goroutines; driven by the single appending thread, read-only
// elsewhere.
type Index struct {
	lastID int64

	defs    map[string]Definition
	history map[string][]Definition
	aliases map[string]string
	kinds   map[string]string

	edges map[Edge]bool

	eventsByToken  map[string]map[int64]string // token -> record id -> relation
	tokensByRecord map[int64]map[string]string // record id -> token -> relation
	root           map[string]int64            // earliest bound record id per token
	tail           map[string]int64            // latest bound record id per token

	threadsByToken map[string]map[string]string // token -> thread id -> relation
	tokensByThread map[string]map[string]string // thread id -> token -> relation
}

// New returns an empty concept index.
func New() *Index {
	return &Index{
		defs:           make(map[string]Definition),
		history:        make(map[string][]Definition),
		aliases:        make(map[string]string),
		kinds:          make(map[string]string),
		edges:          make(map[Edge]bool),
		eventsByToken:  make(map[string]map[int64]string),
		tokensByRecord: make(map[int64]map[string]string),
		root:           make(map[string]int64),
		tail:           make(map[string]int64),
		threadsByToken: make(map[string]map[string]string),
		tokensByThread: make(map[string]map[string]string),
	}
}

// Rebuild clears all state and replays the given records in order. A record
// failing hash validation is logged and skipped, the same way the live
// listener path treats it, so rebuild and sequential sync converge on
// identical state over any history.
func (x *Index) Rebuild(records []ledger.Record) error {
	*x = *New()
	for i := range records {
		if err := x.Sync(&records[i]); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				log.Printf("concept index: %v", err)
				continue
			}
			return err
		}
	}
	return nil
}

// Sync applies one record. Records at or below the high-water mark are
// ignored; this is the idempotency contract for incremental application.
// A record failing hash validation contributes nothing to the index but still
// advances the watermark, so replay past it is deterministic; the error is
// returned for the caller to log.
func (x *Index) Sync(rec *ledger.Record) error {
	if rec.ID <= x.lastID {
		return nil
	}

	payload, err := validatePayload(rec)
	if err != nil {
		x.lastID = rec.ID
		return err
	}

	switch rec.Kind {
	case ledger.KindConceptDefine:
		x.applyDefine(rec, payload)
	case ledger.KindConceptAlias:
		x.aliases[payloadString(payload, "from")] = payloadString(payload, "to")
	case ledger.KindConceptBindEvent, ledger.KindConceptBindAsync:
		recordID := payloadInt64(payload, "record_id")
		relation := payloadString(payload, "relation")
		for _, token := range payloadStrings(payload, "tokens") {
			x.bindEvent(token, recordID, relation)
		}
	case ledger.KindIdentityAdoption:
		x.applyIdentityAdoption(rec)
	case ledger.KindConceptRelate:
		x.edges[Edge{
			From:     payloadString(payload, "from"),
			To:       payloadString(payload, "to"),
			Relation: payloadString(payload, "relation"),
		}] = true
	case ledger.KindConceptBindThread:
		threadID := payloadString(payload, "thread_id")
		relation := payloadString(payload, "relation")
		for _, token := range payloadStrings(payload, "tokens") {
			x.bindThread(token, threadID, relation)
		}
	default:
		// Snapshot and non-concept kinds are no-ops.
	}

	x.lastID = rec.ID
	return nil
}

func (x *Index) applyDefine(rec *ledger.Record, payload map[string]any) {
	def := Definition{
		Token:            payloadString(payload, "token"),
		ConceptKind:      payloadString(payload, "concept_kind"),
		Definition:       payloadString(payload, "definition"),
		Version:          int(payloadInt64(payload, "version")),
		ConceptID:        metaStringOf(rec, "concept_id"),
		DefiningRecordID: rec.ID,
		Supersedes:       metaStringOf(rec, "supersedes"),
	}
	if attrs, ok := payload["attributes"].(map[string]any); ok {
		def.Attributes = attrs
	}
	x.defs[def.Token] = def
	x.history[def.Token] = append(x.history[def.Token], def)
	x.kinds[def.Token] = def.ConceptKind
}

func (x *Index) applyIdentityAdoption(rec *ledger.Record) {
	token := metaStringOf(rec, "token")
	if token == "" {
		return
	}
	x.bindEvent(token, rec.ID, "adoption")
	if x.kinds[token] == "" {
		x.kinds[token] = "identity"
	}
}

func (x *Index) bindEvent(token string, recordID int64, relation string) {
	if token == "" || recordID == 0 {
		return
	}
	if x.eventsByToken[token] == nil {
		x.eventsByToken[token] = make(map[int64]string)
	}
	x.eventsByToken[token][recordID] = relation
	if x.tokensByRecord[recordID] == nil {
		x.tokensByRecord[recordID] = make(map[string]string)
	}
	x.tokensByRecord[recordID][token] = relation

	if cur, ok := x.root[token]; !ok || recordID < cur {
		x.root[token] = recordID
	}
	if cur, ok := x.tail[token]; !ok || recordID > cur {
		x.tail[token] = recordID
	}
}

func (x *Index) bindThread(token, threadID, relation string) {
	if token == "" || threadID == "" {
		return
	}
	if x.threadsByToken[token] == nil {
		x.threadsByToken[token] = make(map[string]string)
	}
	x.threadsByToken[token][threadID] = relation
	if x.tokensByThread[threadID] == nil {
		x.tokensByThread[threadID] = make(map[string]string)
	}
	x.tokensByThread[threadID][token] = relation
}

// CanonicalToken resolves a token through the alias chain. A visited set
// guards against cycles: on revisit it stops and returns the last resolved
// token rather than looping.
func (x *Index) CanonicalToken(token string) string {
	visited := map[string]bool{token: true}
	current := token
	for {
		next, ok := x.aliases[current]
		if !ok {
			return current
		}
		if visited[next] {
			return current
		}
		visited[next] = true
		current = next
	}
}

// GetDefinition returns the current definition for a token, or nil.
func (x *Index) GetDefinition(token string) *Definition {
	def, ok := x.defs[x.CanonicalToken(token)]
	if !ok {
		return nil
	}
	return &def
}

// GetHistory returns all definition versions for a token, oldest first.
func (x *Index) GetHistory(token string) []Definition {
	hist := x.history[x.CanonicalToken(token)]
	out := make([]Definition, len(hist))
	copy(out, hist)
	return out
}

// EventsForConcept returns the record ids bound to a token, ascending,
// optionally filtered by relation (empty relation matches all).
func (x *Index) EventsForConcept(token, relation string) []int64 {
	bindings := x.eventsByToken[x.CanonicalToken(token)]
	var ids []int64
	for id, rel := range bindings {
		if relation != "" && rel != relation {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ConceptsForRecord returns the tokens bound to a record id, sorted.
func (x *Index) ConceptsForRecord(id int64) []string {
	return sortedKeys(x.tokensByRecord[id])
}

// Neighbors returns tokens connected to the given token by an edge in either
// direction, optionally filtered by relation.
func (x *Index) Neighbors(token, relation string) []string {
	token = x.CanonicalToken(token)
	set := make(map[string]bool)
	for e := range x.edges {
		if relation != "" && e.Relation != relation {
			continue
		}
		if e.From == token {
			set[e.To] = true
		}
		if e.To == token {
			set[e.From] = true
		}
	}
	return sortedSet(set)
}

// OutgoingNeighbors returns edge targets from the given token.
func (x *Index) OutgoingNeighbors(token, relation string) []string {
	token = x.CanonicalToken(token)
	set := make(map[string]bool)
	for e := range x.edges {
		if e.From != token {
			continue
		}
		if relation != "" && e.Relation != relation {
			continue
		}
		set[e.To] = true
	}
	return sortedSet(set)
}

// IncomingNeighbors returns edge sources pointing at the given token.
func (x *Index) IncomingNeighbors(token, relation string) []string {
	token = x.CanonicalToken(token)
	set := make(map[string]bool)
	for e := range x.edges {
		if e.To != token {
			continue
		}
		if relation != "" && e.Relation != relation {
			continue
		}
		set[e.From] = true
	}
	return sortedSet(set)
}

// ThreadsForConcepts returns the commitment ids bound to any of the given
// tokens, sorted.
func (x *Index) ThreadsForConcepts(tokens []string) []string {
	set := make(map[string]bool)
	for _, token := range tokens {
		for threadID := range x.threadsByToken[x.CanonicalToken(token)] {
			set[threadID] = true
		}
	}
	return sortedSet(set)
}

// ConceptsForThread returns the tokens bound to a commitment id, sorted.
func (x *Index) ConceptsForThread(threadID string) []string {
	return sortedKeys(x.tokensByThread[threadID])
}

// RootRecordID returns the earliest record id bound to a token.
func (x *Index) RootRecordID(token string) (int64, bool) {
	id, ok := x.root[x.CanonicalToken(token)]
	return id, ok
}

// TailRecordID returns the latest record id bound to a token.
func (x *Index) TailRecordID(token string) (int64, bool) {
	id, ok := x.tail[x.CanonicalToken(token)]
	return id, ok
}

// ConceptKind returns the cached concept_kind for a token, or "".
func (x *Index) ConceptKind(token string) string {
	return x.kinds[x.CanonicalToken(token)]
}

// Tokens returns every token with a definition or binding, sorted.
func (x *Index) Tokens() []string {
	set := make(map[string]bool)
	for t := range x.defs {
		set[t] = true
	}
	for t := range x.eventsByToken {
		set[t] = true
	}
	for t := range x.threadsByToken {
		set[t] = true
	}
	return sortedSet(set)
}

// Stats returns index size counters.
func (x *Index) Stats() Stats {
	eventBindings := 0
	for _, m := range x.eventsByToken {
		eventBindings += len(m)
	}
	threadBindings := 0
	for _, m := range x.threadsByToken {
		threadBindings += len(m)
	}
	return Stats{
		Concepts:        len(x.defs),
		Aliases:         len(x.aliases),
		Edges:           len(x.edges),
		EventBindings:   eventBindings,
		ThreadBindings:  threadBindings,
		LastProcessedID: x.lastID,
	}
}

// LastProcessedID returns the sync high-water mark.
func (x *Index) LastProcessedID() int64 { return x.lastID }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func payloadInt64(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func payloadStrings(payload map[string]any, key string) []string {
	raw, _ := payload[key].([]any)
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func metaStringOf(rec *ledger.Record, key string) string {
	s, _ := rec.Meta[key].(string)
	return s
}
