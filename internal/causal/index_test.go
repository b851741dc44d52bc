package causal

import (
	"reflect"
	"testing"

	"github.com/scottonanski/persistent-mind-model/internal/ledger"
)

func msg(id int64, role, content string) ledger.Record {
	return ledger.Record{
		ID:      id,
		Kind:    ledger.KindMessage,
		Content: content,
		Meta:    map[string]any{"role": role},
	}
}

func open(id int64, threadID, text string) ledger.Record {
	return ledger.Record{
		ID:      id,
		Kind:    ledger.KindCommitmentOpen,
		Content: text,
		Meta:    map[string]any{"thread_id": threadID, "text": text},
	}
}

func closeRec(id int64, threadID string) ledger.Record {
	return ledger.Record{
		ID:      id,
		Kind:    ledger.KindCommitmentClose,
		Content: "done",
		Meta:    map[string]any{"thread_id": threadID},
	}
}

func reflection(id, targetID int64) ledger.Record {
	return ledger.Record{
		ID:      id,
		Kind:    ledger.KindReflection,
		Content: "thinking about it",
		Meta:    map[string]any{"target_id": targetID},
	}
}

// threadHistory builds the canonical test history: user(1), assistant(2) with
// a commitment line, open(3), close(4).
func threadHistory() []ledger.Record {
	return []ledger.Record{
		msg(1, "user", "please ship the feature"),
		msg(2, "assistant", "Working on it.\ncommit: ship the feature\nMore soon."),
		open(3, "T", "ship the feature"),
		closeRec(4, "T"),
	}
}

func TestRepliesTo(t *testing.T) {
	x := New()
	x.Rebuild(threadHistory())

	replies := x.Neighbors(2, "out", LabelRepliesTo)
	if !reflect.DeepEqual(replies, []int64{1}) {
		t.Errorf("assistant replies_to = %v, want [1]", replies)
	}
}

func TestThreadFor(t *testing.T) {
	x := New()
	x.Rebuild(threadHistory())

	got := x.ThreadFor("T")
	if !reflect.DeepEqual(got, []int64{2, 3, 4}) {
		t.Errorf("ThreadFor(T) = %v, want [2 3 4]", got)
	}
}

func TestThreadForUnknown(t *testing.T) {
	x := New()
	x.Rebuild(threadHistory())

	if got := x.ThreadFor("missing"); got != nil {
		t.Errorf("ThreadFor(missing) = %v, want nil", got)
	}
}

func TestThreadForWithReflection(t *testing.T) {
	records := threadHistory()
	records = append(records, reflection(5, 2))

	x := New()
	x.Rebuild(records)

	got := x.ThreadFor("T")
	if !reflect.DeepEqual(got, []int64{2, 3, 4, 5}) {
		t.Errorf("ThreadFor(T) = %v, want [2 3 4 5]", got)
	}
}

func TestCommitsToMatchesExactText(t *testing.T) {
	records := []ledger.Record{
		msg(1, "user", "hello"),
		msg(2, "assistant", "commit: do the thing"),
		open(3, "T", "do something else entirely"),
	}
	x := New()
	x.Rebuild(records)

	if got := x.Neighbors(3, "out", LabelCommitsTo); len(got) != 0 {
		t.Errorf("mismatched text produced commits_to = %v", got)
	}
}

func TestCommitsToPrefersMostRecentAssistant(t *testing.T) {
	records := []ledger.Record{
		msg(1, "assistant", "commit: ship it"),
		msg(2, "assistant", "commit: ship it"),
		open(3, "T", "ship it"),
	}
	x := New()
	x.Rebuild(records)

	got := x.Neighbors(3, "out", LabelCommitsTo)
	if !reflect.DeepEqual(got, []int64{2}) {
		t.Errorf("commits_to = %v, want [2]", got)
	}
}

func TestCloseWithoutOpenSkipped(t *testing.T) {
	x := New()
	x.Rebuild([]ledger.Record{closeRec(1, "orphan")})

	// Skipped, never fatal; the node still exists.
	if x.Node(1) == nil {
		t.Fatal("close node missing")
	}
	if got := x.Neighbors(1, "out", LabelCloses); len(got) != 0 {
		t.Errorf("orphan close edges = %v, want none", got)
	}
}

func TestReflectionOnUnknownTargetSkipped(t *testing.T) {
	x := New()
	x.Rebuild([]ledger.Record{reflection(1, 99)})

	if got := x.Neighbors(1, "out", LabelReflectsOn); len(got) != 0 {
		t.Errorf("reflection edges = %v, want none", got)
	}
}

func TestUntrackedKindsIgnored(t *testing.T) {
	x := New()
	x.AddRecord(&ledger.Record{ID: 1, Kind: ledger.KindConfig, Content: "{}", Meta: map[string]any{}})

	if x.Node(1) != nil {
		t.Error("untracked kind got a node")
	}
}

func TestAddRecordIdempotent(t *testing.T) {
	x := New()
	records := threadHistory()
	for i := range records {
		x.AddRecord(&records[i])
	}
	nodesBefore, edgesBefore := x.Stats()

	for i := range records {
		x.AddRecord(&records[i])
	}
	nodesAfter, edgesAfter := x.Stats()

	if nodesBefore != nodesAfter || edgesBefore != edgesAfter {
		t.Errorf("re-applying records changed the graph: %d/%d -> %d/%d",
			nodesBefore, edgesBefore, nodesAfter, edgesAfter)
	}
}

func TestSubgraphFor(t *testing.T) {
	records := threadHistory()
	records = append(records, reflection(5, 2))

	x := New()
	x.Rebuild(records)

	// Thread members {2,3,4,5} plus one-hop neighbor 1 (replies_to target).
	got := x.SubgraphFor("T")
	if !reflect.DeepEqual(got, []int64{1, 2, 3, 4, 5}) {
		t.Errorf("SubgraphFor(T) = %v, want [1 2 3 4 5]", got)
	}
}

func TestRecentFrontier(t *testing.T) {
	x := New()
	x.Rebuild(threadHistory())

	got := x.RecentFrontier(2, nil)
	if !reflect.DeepEqual(got, []int64{3, 4}) {
		t.Errorf("RecentFrontier(2) = %v, want [3 4]", got)
	}

	onlyMessages := x.RecentFrontier(10, []ledger.Kind{ledger.KindMessage})
	if !reflect.DeepEqual(onlyMessages, []int64{1, 2}) {
		t.Errorf("RecentFrontier(messages) = %v, want [1 2]", onlyMessages)
	}
}

func TestRecordsForThread(t *testing.T) {
	records := threadHistory()
	records = append(records, reflection(5, 2))

	x := New()
	x.Rebuild(records)

	tests := []struct {
		id   int64
		want []string
	}{
		{2, []string{"T"}}, // assistant, via commits_to
		{3, []string{"T"}}, // open
		{4, []string{"T"}}, // close
		{5, []string{"T"}}, // reflection, one hop through reflects_on
		{1, nil},           // plain user message belongs to no thread
	}
	for _, tt := range tests {
		got := x.RecordsForThread(tt.id)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("RecordsForThread(%d) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestReplayDeterminism(t *testing.T) {
	records := threadHistory()
	records = append(records, reflection(5, 2), msg(6, "user", "next"), msg(7, "assistant", "ok"))

	rebuilt := New()
	rebuilt.Rebuild(records)

	synced := New()
	for i := range records {
		synced.AddRecord(&records[i])
	}

	rn, re := rebuilt.Stats()
	sn, se := synced.Stats()
	if rn != sn || re != se {
		t.Fatalf("stats differ: rebuild %d/%d, sync %d/%d", rn, re, sn, se)
	}
	if !reflect.DeepEqual(rebuilt.ThreadFor("T"), synced.ThreadFor("T")) {
		t.Errorf("threads differ: %v vs %v", rebuilt.ThreadFor("T"), synced.ThreadFor("T"))
	}
	for id := int64(1); id <= 7; id++ {
		if !reflect.DeepEqual(rebuilt.Neighbors(id, "both", ""), synced.Neighbors(id, "both", "")) {
			t.Errorf("neighbors differ for %d", id)
		}
	}
}
