package ledger

import (
	"encoding/json"
)

// Policy is carried by a config record with a "type":"policy" marker. The most
// recent such record governs sensitive-kind gating.
type Policy struct {
	Type          string              `json:"type"`
	ForbidSources map[string][]string `json:"forbid_sources"`
}

// Forbids reports whether the policy forbids source from writing kind.
func (p *Policy) Forbids(source string, kind Kind) bool {
	for _, k := range p.ForbidSources[source] {
		if Kind(k) == kind {
			return true
		}
	}
	return false
}

// policyForbids loads the most recent policy record and evaluates it.
// Fail-open: if no policy record exists, or the latest one cannot be parsed,
// the write proceeds. Availability over strict enforcement when policy state
// is corrupt. Caller must hold l.mu.
func (l *Ledger) policyForbids(source string, kind Kind) bool {
	policy := l.latestPolicyLocked()
	if policy == nil {
		return false
	}
	return policy.Forbids(source, kind)
}

// latestPolicyLocked scans config records newest-first for the most recent
// parseable policy. Caller must hold l.mu.
func (l *Ledger) latestPolicyLocked() *Policy {
	rows, err := l.db.Query(
		"SELECT content FROM records WHERE kind = ? ORDER BY id DESC",
		string(KindConfig),
	)
	if err != nil {
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil
		}
		var p Policy
		if err := json.Unmarshal([]byte(content), &p); err != nil {
			continue
		}
		if p.Type != "policy" {
			continue
		}
		return &p
	}
	return nil
}

// LatestPolicy returns the currently active policy, or nil if none is set.
func (l *Ledger) LatestPolicy() *Policy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latestPolicyLocked()
}
