// Package retrieval fuses concept bindings, causal thread expansion, and
// vector similarity into one ranked, budget-capped, deterministically ordered
// set of record ids. Vector search refines an already-structurally-selected
// candidate set; it is never a free search over the whole ledger.
package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scottonanski/persistent-mind-model/internal/causal"
	"github.com/scottonanski/persistent-mind-model/internal/concept"
	"github.com/scottonanski/persistent-mind-model/internal/embed"
	"github.com/scottonanski/persistent-mind-model/internal/ledger"
)

// Engine reads the ledger and the projections; it never mutates anything and
// may run on any goroutine concurrently with appends.
type Engine struct {
	ledger   *ledger.Ledger
	concepts *concept.Index
	causal   *causal.Index
	vectors  *embed.VectorTable
	embedder *embed.Embedder
}

// New assembles a retrieval engine over the given ledger and projections.
func New(l *ledger.Ledger, concepts *concept.Index, causalIdx *causal.Index, vectors *embed.VectorTable, embedder *embed.Embedder) *Engine {
	return &Engine{
		ledger:   l,
		concepts: concepts,
		causal:   causalIdx,
		vectors:  vectors,
		embedder: embedder,
	}
}

// Result is one retrieval outcome.
type Result struct {
	RecordIDs       []int64  `json:"record_ids"`
	ActiveThreadIDs []string `json:"active_thread_ids"`
	ActiveConcepts  []string `json:"active_concepts"`
	Budget          int      `json:"budget"`
}

// bucket priorities, filled in strict order until the budget is exhausted.
const (
	bucketForced = iota // forced concept evidence + pinned summaries
	bucketConcept
	bucketThread
	bucketSummary
	bucketVector
	bucketResidual
	bucketCount
)

// Run executes the retrieval pipeline for a query. An empty query with no
// seed concepts returns the summary-pin-only result, never an error.
func (e *Engine) Run(query string, cfg Config) (*Result, error) {
	records, err := e.ledger.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	byID := make(map[int64]*ledger.Record, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	buckets := make([]map[int64]bool, bucketCount)
	for i := range buckets {
		buckets[i] = make(map[int64]bool)
	}
	add := func(b int, id int64) {
		if _, ok := byID[id]; ok {
			buckets[b][id] = true
		}
	}

	// 1. Seed concepts.
	seeds := e.seedConcepts(cfg)
	threadSet := make(map[string]bool)

	pinOnly := query == "" && len(seeds) == 0

	if !pinOnly {
		// 2. Concept selection.
		e.selectConcepts(seeds, cfg, add, threadSet)

		// 3. Thread expansion.
		if cfg.TriggerRecordID > 0 {
			for _, threadID := range e.causal.RecordsForThread(cfg.TriggerRecordID) {
				threadSet[threadID] = true
			}
		}
		for threadID := range threadSet {
			for _, id := range e.causal.ThreadFor(threadID) {
				add(bucketThread, id)
			}
			for _, id := range e.causal.SubgraphFor(threadID) {
				add(bucketThread, id)
			}
		}

		// 4. Vector refinement over the structurally-selected candidates.
		candidates := make([]ledger.Record, 0)
		seen := make(map[int64]bool)
		for _, b := range []int{bucketForced, bucketConcept, bucketThread} {
			for id := range buckets[b] {
				if !seen[id] {
					seen[id] = true
					candidates = append(candidates, *byID[id])
				}
			}
		}
		for _, id := range e.selectByVector(candidates, query, cfg.VectorTopN) {
			add(bucketVector, id)
		}

		// 5. Summary-tier vector search, expanding via referenced samples and
		// threads.
		var summaries []ledger.Record
		for i := range records {
			if isSummaryKind(records[i].Kind) {
				summaries = append(summaries, records[i])
			}
		}
		for _, id := range e.selectByVector(summaries, query, cfg.SummaryTopN) {
			add(bucketSummary, id)
			for _, ref := range referencedIDs(byID[id]) {
				add(bucketSummary, ref)
			}
			for _, threadID := range referencedThreads(byID[id]) {
				for _, tid := range e.causal.ThreadFor(threadID) {
					add(bucketSummary, tid)
				}
				threadSet[threadID] = true
			}
		}
	}

	// 6. Pinning: recent summary/long-range records are always included,
	// together with their referenced evidence ids.
	pinned := 0
	for i := len(records) - 1; i >= 0 && pinned < cfg.PinCount; i-- {
		if !isSummaryKind(records[i].Kind) {
			continue
		}
		add(bucketForced, records[i].ID)
		for _, ref := range referencedIDs(&records[i]) {
			add(bucketForced, ref)
		}
		pinned++
	}

	if !pinOnly {
		// 7. Graph expansion: one-hop neighbors of everything chosen so far.
		chosen := make(map[int64]bool)
		for _, b := range buckets {
			for id := range b {
				chosen[id] = true
			}
		}
		for id := range chosen {
			for _, n := range e.causal.Neighbors(id, "both", "") {
				if !chosen[n] {
					add(bucketResidual, n)
				}
			}
		}
	}

	// 8. Budget and bucket fill: strict priority order, each bucket sorted by
	// id descending, truncated only once the cumulative budget is exhausted.
	total, err := e.ledger.Len()
	if err != nil {
		return nil, fmt.Errorf("ledger size: %w", err)
	}
	budget := cfg.Budget(total)

	var out []int64
	emitted := make(map[int64]bool)
	for _, b := range buckets {
		ids := make([]int64, 0, len(b))
		for id := range b {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
		for _, id := range ids {
			if len(out) >= budget {
				break
			}
			if emitted[id] {
				continue
			}
			emitted[id] = true
			out = append(out, id)
		}
	}

	threads := make([]string, 0, len(threadSet))
	for t := range threadSet {
		threads = append(threads, t)
	}
	sort.Strings(threads)

	return &Result{
		RecordIDs:       out,
		ActiveThreadIDs: threads,
		ActiveConcepts:  seeds,
		Budget:          budget,
	}, nil
}

// seedConcepts unions configured, sticky, and trigger-attached tokens, all
// canonicalized, sorted, deduplicated.
func (e *Engine) seedConcepts(cfg Config) []string {
	set := make(map[string]bool)
	for _, t := range cfg.AlwaysInclude {
		set[e.concepts.CanonicalToken(t)] = true
	}
	for _, t := range cfg.Sticky {
		set[e.concepts.CanonicalToken(t)] = true
	}
	if cfg.TriggerRecordID > 0 {
		for _, t := range e.concepts.ConceptsForRecord(cfg.TriggerRecordID) {
			set[e.concepts.CanonicalToken(t)] = true
		}
	}
	seeds := make([]string, 0, len(set))
	for t := range set {
		seeds = append(seeds, t)
	}
	sort.Strings(seeds)
	return seeds
}

// selectConcepts fills the concept and forced buckets from seed-token
// bindings and collects bound thread ids. Forced tokens additionally pull
// their topological root and tail records so the earliest and latest evidence
// for identity-class concepts survives budget trimming.
func (e *Engine) selectConcepts(seeds []string, cfg Config, add func(int, int64), threadSet map[string]bool) {
	taken := 0
	for _, token := range seeds {
		forced := forcedToken(token, cfg.ForcedPrefixes)
		ids := e.concepts.EventsForConcept(token, "")

		if forced {
			// Most recent evidence first, capped per token.
			n := len(ids)
			for i := 0; i < cfg.ForcedCap && i < n; i++ {
				add(bucketForced, ids[n-1-i])
			}
			if root, ok := e.concepts.RootRecordID(token); ok {
				add(bucketForced, root)
			}
			if tail, ok := e.concepts.TailRecordID(token); ok {
				add(bucketForced, tail)
			}
		} else {
			for i := len(ids) - 1; i >= 0 && taken < cfg.ConceptCap; i-- {
				add(bucketConcept, ids[i])
				taken++
			}
		}

		for _, threadID := range e.concepts.ThreadsForConcepts([]string{token}) {
			threadSet[threadID] = true
		}
	}
}

// selectByVector scores candidates against the query, preferring persisted
// vectors from the vector table and embedding record content only when no
// vector has been persisted. Ordering is (-score, id ascending).
func (e *Engine) selectByVector(records []ledger.Record, query string, limit int) []int64 {
	queryVec := e.embedder.Embed(query)

	scored := make([]embed.Scored, 0, len(records))
	for i := range records {
		r := &records[i]
		var vec []float64
		if entry := e.vectors.Get(r.ID); entry != nil {
			vec = entry.Vector
		} else {
			vec = e.embedder.Embed(r.Content)
		}
		scored = append(scored, embed.Scored{ID: r.ID, Score: embed.Cosine(queryVec, vec)})
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
	for i, s := range scored {
		ids[i] = s.ID
	}
	return ids
}

func forcedToken(token string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(token, p) {
			return true
		}
	}
	return false
}

func isSummaryKind(k ledger.Kind) bool {
	return k == ledger.KindSummary || k == ledger.KindLongrangeMemory
}

// referencedIDs extracts sample/evidence record ids from a summary record's
// meta.
func referencedIDs(rec *ledger.Record) []int64 {
	var out []int64
	for _, key := range []string{"sample_ids", "evidence_ids"} {
		raw, _ := rec.Meta[key].([]any)
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				out = append(out, int64(f))
			}
		}
	}
	return out
}

// referencedThreads extracts thread ids from a summary record's meta.
func referencedThreads(rec *ledger.Record) []string {
	raw, _ := rec.Meta["thread_ids"].([]any)
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// SelectionPayload documents a completed retrieval as a retrieval_selection
// ledger record.
func SelectionPayload(query string, res *Result) (string, error) {
	content, err := ledger.CanonicalJSON(map[string]any{
		"query":           query,
		"budget":          res.Budget,
		"record_ids":      res.RecordIDs,
		"thread_ids":      res.ActiveThreadIDs,
		"active_concepts": res.ActiveConcepts,
	})
	if err != nil {
		return "", err
	}
	return string(content), nil
}
