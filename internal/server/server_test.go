package server

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scottonanski/persistent-mind-model/internal/causal"
	"github.com/scottonanski/persistent-mind-model/internal/concept"
	"github.com/scottonanski/persistent-mind-model/internal/embed"
	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/scottonanski/persistent-mind-model/internal/retrieval"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	l, err := ledger.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	concepts := concept.New()
	causalIdx := causal.New()
	vectors := embed.NewVectorTable()
	embedder := embed.New(embed.DefaultDims)
	l.Subscribe(func(r *ledger.Record) {
		if err := concepts.Sync(r); err != nil {
			log.Printf("concept sync: %v", err)
		}
		causalIdx.AddRecord(r)
		vectors.Sync(r)
	})

	return New(l, concepts, causalIdx, vectors, embedder, retrieval.DefaultConfig(), "test-version")
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
}
