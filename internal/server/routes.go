package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/scottonanski/persistent-mind-model/internal/retrieval"
)

func (s *Server) handleAppendRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    string         `json:"kind"`
		Content string         `json:"content"`
		Meta    map[string]any `json:"meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		http.Error(w, `{"error":"kind required"}`, http.StatusBadRequest)
		return
	}

	kind := ledger.Kind(req.Kind)
	meta := req.Meta
	if kind == ledger.KindCommitmentOpen {
		if meta == nil {
			meta = map[string]any{}
		}
		// Opening a commitment without a thread id mints one.
		if _, ok := meta["thread_id"]; !ok {
			meta["thread_id"] = uuid.NewString()
		}
	}

	id, err := s.ledger.Append(kind, req.Content, meta)
	if err != nil {
		var schemaErr *ledger.SchemaError
		var policyErr *ledger.PolicyError
		switch {
		case errors.As(err, &schemaErr):
			http.Error(w, `{"error":"`+schemaErr.Error()+`"}`, http.StatusBadRequest)
		case errors.As(err, &policyErr):
			http.Error(w, `{"error":"`+policyErr.Error()+`"}`, http.StatusForbidden)
		default:
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		}
		return
	}

	rec, err := s.ledger.Get(id)
	if err != nil || rec == nil {
		http.Error(w, `{"error":"record not readable after append"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"id":   rec.ID,
		"hash": rec.Hash,
		"kind": rec.Kind,
		"meta": rec.Meta,
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	var (
		records []ledger.Record
		err     error
	)
	switch {
	case r.URL.Query().Get("tail") != "":
		n, convErr := strconv.Atoi(r.URL.Query().Get("tail"))
		if convErr != nil || n <= 0 {
			http.Error(w, `{"error":"tail must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		records, err = s.ledger.ReadTail(n)
	case r.URL.Query().Get("since") != "":
		id, convErr := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		if convErr != nil {
			http.Error(w, `{"error":"since must be an integer"}`, http.StatusBadRequest)
			return
		}
		records, err = s.ledger.ReadSince(id)
	case r.URL.Query().Get("kind") != "":
		records, err = s.ledger.ReadByKind(ledger.Kind(r.URL.Query().Get("kind")))
	default:
		records, err = s.ledger.ReadAll()
	}
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid record id"}`, http.StatusBadRequest)
		return
	}

	rec, err := s.ledger.Get(id)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, `{"error":"record not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	length, err := s.ledger.Len()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := s.ledger.VerifyChain(); err != nil {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     false,
			"length": length,
			"error":  err.Error(),
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"ok":     true,
		"length": length,
	})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	cfg := s.retrievalCfg
	if t := r.URL.Query().Get("trigger"); t != "" {
		id, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"trigger must be an integer record id"}`, http.StatusBadRequest)
			return
		}
		cfg.TriggerRecordID = id
	}

	res, err := s.engine.Run(query, cfg)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	// Document the selection in the ledger. A policy refusing the audit
	// record does not fail the retrieval itself.
	if payload, perr := retrieval.SelectionPayload(query, res); perr == nil {
		meta := map[string]any{"source": "retrieval_engine"}
		if _, aerr := s.ledger.Append(ledger.KindRetrievalSelection, payload, meta); aerr != nil {
			log.Printf("retrieval selection audit append failed: %v", aerr)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleConcept(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	canonical := s.concepts.CanonicalToken(token)

	def := s.concepts.GetDefinition(canonical)
	events := s.concepts.EventsForConcept(canonical, "")
	if def == nil && len(events) == 0 {
		http.Error(w, `{"error":"concept not found"}`, http.StatusNotFound)
		return
	}

	resp := map[string]any{
		"token":     canonical,
		"events":    events,
		"neighbors": s.concepts.Neighbors(canonical, ""),
		"threads":   s.concepts.ThreadsForConcepts([]string{canonical}),
	}
	if def != nil {
		resp["definition"] = def
		resp["history"] = s.concepts.GetHistory(canonical)
	}
	if root, ok := s.concepts.RootRecordID(canonical); ok {
		resp["root_record_id"] = root
	}
	if tail, ok := s.concepts.TailRecordID(canonical); ok {
		resp["tail_record_id"] = tail
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	ids := s.causal.ThreadFor(threadID)
	if len(ids) == 0 {
		http.Error(w, `{"error":"thread not found"}`, http.StatusNotFound)
		return
	}

	records := make([]ledger.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.ledger.Get(id)
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"thread_id":  threadID,
		"record_ids": ids,
		"records":    records,
		"concepts":   s.concepts.ConceptsForThread(threadID),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	length, err := s.ledger.Len()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	byKind, err := s.ledger.CountByKind()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	nodes, edges := s.causal.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ledger": map[string]any{
			"length":  length,
			"by_kind": byKind,
		},
		"concepts": s.concepts.Stats(),
		"causal": map[string]any{
			"nodes":   nodes,
			"edges":   edges,
			"threads": len(s.causal.Threads()),
		},
		"vectors": s.vectors.Len(),
	})
}
