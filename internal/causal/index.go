// Package causal maintains the reply/commitment/reflection graph projection
// over a fixed subset of record kinds, and reconstructs ordered threads for a
// commitment id. Inconsistencies (a close with no matching open, a reflection
// on an unknown record) are skipped, never raised: the projection must
// tolerate partial histories.
package causal

import (
	"sort"
	"strings"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
)

// Edge labels.
const (
	LabelRepliesTo  = "replies_to"
	LabelCommitsTo  = "commits_to"
	LabelCloses     = "closes"
	LabelReflectsOn = "reflects_on"
)

// Node is one graph node per tracked record.
type Node struct {
	ID       int64       `json:"id"`
	Kind     ledger.Kind `json:"kind"`
	Role     string      `json:"role,omitempty"`      // for messages
	ThreadID string      `json:"thread_id,omitempty"` // for commitment open/close
}

// Edge is a labeled directed edge between two record ids.
type Edge struct {
	From  int64  `json:"from"`
	To    int64  `json:"to"`
	Label string `json:"label"`
}

// trackedKinds is the fixed kind subset projected into the graph.
var trackedKinds = map[ledger.Kind]bool{
	ledger.KindMessage:         true,
	ledger.KindCommitmentOpen:  true,
	ledger.KindCommitmentClose: true,
	ledger.KindReflection:      true,
}

// Index is the causal graph projection. Driven by a single listener thread;
// read-only from other goroutines.
type Index struct {
	lastID int64

	nodes map[int64]*Node
	out   map[int64][]Edge
	in    map[int64][]Edge

	lastUserID   int64
	commitLines  map[int64]map[string]bool // assistant record id -> extracted commitment lines
	openByThread map[string]int64
}

// New returns an empty causal index.
func New() *Index {
	return &Index{
		nodes:        make(map[int64]*Node),
		out:          make(map[int64][]Edge),
		in:           make(map[int64][]Edge),
		commitLines:  make(map[int64]map[string]bool),
		openByThread: make(map[string]int64),
	}
}

// Rebuild clears all state and replays the given records in order.
func (x *Index) Rebuild(records []ledger.Record) {
	*x = *New()
	for i := range records {
		x.AddRecord(&records[i])
	}
}

// AddRecord applies one record. Idempotent: a no-op if the record was already
// processed, its node already exists, or its kind is untracked.
func (x *Index) AddRecord(rec *ledger.Record) {
	if rec.ID <= x.lastID {
		return
	}
	x.lastID = rec.ID
	if !trackedKinds[rec.Kind] {
		return
	}
	if _, exists := x.nodes[rec.ID]; exists {
		return
	}

	switch rec.Kind {
	case ledger.KindMessage:
		x.addMessage(rec)
	case ledger.KindCommitmentOpen:
		x.addOpen(rec)
	case ledger.KindCommitmentClose:
		x.addClose(rec)
	case ledger.KindReflection:
		x.addReflection(rec)
	}
}

func (x *Index) addMessage(rec *ledger.Record) {
	role := metaString(rec, "role")
	x.nodes[rec.ID] = &Node{ID: rec.ID, Kind: rec.Kind, Role: role}

	switch role {
	case "user":
		x.lastUserID = rec.ID
	case "assistant":
		if x.lastUserID != 0 {
			x.addEdge(rec.ID, x.lastUserID, LabelRepliesTo)
		}
		if lines := extractCommitmentLines(rec.Content); len(lines) > 0 {
			x.commitLines[rec.ID] = lines
		}
	}
}

func (x *Index) addOpen(rec *ledger.Record) {
	threadID := metaString(rec, "thread_id")
	x.nodes[rec.ID] = &Node{ID: rec.ID, Kind: rec.Kind, ThreadID: threadID}
	if threadID != "" {
		x.openByThread[threadID] = rec.ID
	}

	// Match the declared commitment text against extracted commitment lines of
	// prior assistant records; the most recent match wins.
	text := metaString(rec, "text")
	if text == "" {
		return
	}
	var match int64
	for id, lines := range x.commitLines {
		if id >= rec.ID || !lines[text] {
			continue
		}
		if id > match {
			match = id
		}
	}
	if match != 0 {
		x.addEdge(rec.ID, match, LabelCommitsTo)
	}
}

func (x *Index) addClose(rec *ledger.Record) {
	threadID := metaString(rec, "thread_id")
	x.nodes[rec.ID] = &Node{ID: rec.ID, Kind: rec.Kind, ThreadID: threadID}

	openID, ok := x.openByThread[threadID]
	if !ok {
		return // no matching open: skipped, not fatal
	}
	x.addEdge(rec.ID, openID, LabelCloses)
}

func (x *Index) addReflection(rec *ledger.Record) {
	x.nodes[rec.ID] = &Node{ID: rec.ID, Kind: rec.Kind}

	target := metaInt64(rec, "target_id")
	if target == 0 {
		return
	}
	if _, exists := x.nodes[target]; !exists {
		return
	}
	x.addEdge(rec.ID, target, LabelReflectsOn)
}

func (x *Index) addEdge(from, to int64, label string) {
	e := Edge{From: from, To: to, Label: label}
	x.out[from] = append(x.out[from], e)
	x.in[to] = append(x.in[to], e)
}

// extractCommitmentLines returns the set of commitment declarations in an
// assistant message: trimmed lines whose lowercased form starts with
// "commit:", keyed by the remainder of the line, trimmed.
func extractCommitmentLines(text string) map[string]bool {
	var lines map[string]bool
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if !strings.HasPrefix(lower, "commit:") {
			continue
		}
		value := strings.TrimSpace(trimmed[len("commit:"):])
		if value == "" {
			continue
		}
		if lines == nil {
			lines = make(map[string]bool)
		}
		lines[value] = true
	}
	return lines
}

// Node returns the node for a record id, or nil.
func (x *Index) Node(id int64) *Node {
	return x.nodes[id]
}

// ThreadFor returns the ordered record ids of a thread: assistant node(s)
// ascending, then the open, then close node(s) ascending, then reflection
// nodes on the assistant node(s), ascending and deduplicated. Returns nil for
// an unknown thread id.
func (x *Index) ThreadFor(threadID string) []int64 {
	openID, ok := x.openByThread[threadID]
	if !ok {
		return nil
	}

	var assistants []int64
	for _, e := range x.out[openID] {
		if e.Label == LabelCommitsTo {
			assistants = append(assistants, e.To)
		}
	}
	sort.Slice(assistants, func(i, j int) bool { return assistants[i] < assistants[j] })

	var closes []int64
	for _, e := range x.in[openID] {
		if e.Label == LabelCloses {
			closes = append(closes, e.From)
		}
	}
	sort.Slice(closes, func(i, j int) bool { return closes[i] < closes[j] })

	reflSet := make(map[int64]bool)
	for _, a := range assistants {
		for _, e := range x.in[a] {
			if e.Label == LabelReflectsOn {
				reflSet[e.From] = true
			}
		}
	}
	reflections := sortedIDs(reflSet)

	ordered := make([]int64, 0, len(assistants)+1+len(closes)+len(reflections))
	ordered = append(ordered, assistants...)
	ordered = append(ordered, openID)
	ordered = append(ordered, closes...)
	ordered = append(ordered, reflections...)
	return ordered
}

// SubgraphFor returns the thread plus one-hop neighbors of every thread
// member, sorted ascending.
func (x *Index) SubgraphFor(threadID string) []int64 {
	members := x.ThreadFor(threadID)
	if members == nil {
		return nil
	}
	set := make(map[int64]bool)
	for _, id := range members {
		set[id] = true
		for _, n := range x.Neighbors(id, "both", "") {
			set[n] = true
		}
	}
	return sortedIDs(set)
}

// Neighbors returns record ids adjacent to id. direction is "out", "in", or
// "both"; label filters by edge label when non-empty. Output is ascending.
func (x *Index) Neighbors(id int64, direction, label string) []int64 {
	set := make(map[int64]bool)
	if direction == "out" || direction == "both" {
		for _, e := range x.out[id] {
			if label == "" || e.Label == label {
				set[e.To] = true
			}
		}
	}
	if direction == "in" || direction == "both" {
		for _, e := range x.in[id] {
			if label == "" || e.Label == label {
				set[e.From] = true
			}
		}
	}
	return sortedIDs(set)
}

// RecentFrontier returns up to limit node ids, picking the highest ids first
// and re-sorting ascending for output. kinds filters by record kind when
// non-empty.
func (x *Index) RecentFrontier(limit int, kinds []ledger.Kind) []int64 {
	kindSet := make(map[ledger.Kind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	var ids []int64
	for id, n := range x.nodes {
		if len(kindSet) > 0 && !kindSet[n.Kind] {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RecordsForThread reverse-maps a record id to the thread ids it belongs to,
// recursing at most one hop through reflects_on.
func (x *Index) RecordsForThread(id int64) []string {
	return x.threadsOf(id, true)
}

func (x *Index) threadsOf(id int64, followReflection bool) []string {
	node := x.nodes[id]
	if node == nil {
		return nil
	}

	set := make(map[string]bool)
	switch node.Kind {
	case ledger.KindCommitmentOpen, ledger.KindCommitmentClose:
		if node.ThreadID != "" {
			set[node.ThreadID] = true
		}
	case ledger.KindMessage:
		// Opens committing to this assistant record carry the thread ids.
		for _, e := range x.in[id] {
			if e.Label != LabelCommitsTo {
				continue
			}
			if open := x.nodes[e.From]; open != nil && open.ThreadID != "" {
				set[open.ThreadID] = true
			}
		}
	case ledger.KindReflection:
		if followReflection {
			for _, e := range x.out[id] {
				if e.Label != LabelReflectsOn {
					continue
				}
				for _, threadID := range x.threadsOf(e.To, false) {
					set[threadID] = true
				}
			}
		}
	}

	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Threads returns every known thread id, sorted.
func (x *Index) Threads() []string {
	out := make([]string, 0, len(x.openByThread))
	for t := range x.openByThread {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Stats returns node and edge counts.
func (x *Index) Stats() (nodes, edges int) {
	for _, es := range x.out {
		edges += len(es)
	}
	return len(x.nodes), edges
}

// LastProcessedID returns the high-water mark.
func (x *Index) LastProcessedID() int64 { return x.lastID }

func sortedIDs(set map[int64]bool) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func metaString(rec *ledger.Record, key string) string {
	s, _ := rec.Meta[key].(string)
	return s
}

func metaInt64(rec *ledger.Record, key string) int64 {
	switch v := rec.Meta[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
