package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/scottonanski/persistent-mind-model/internal/causal"
	"github.com/scottonanski/persistent-mind-model/internal/concept"
	"github.com/scottonanski/persistent-mind-model/internal/embed"
	"github.com/scottonanski/persistent-mind-model/internal/ledger"
	"github.com/scottonanski/persistent-mind-model/internal/retrieval"
)

// Server is the pmm HTTP API server. All state lives in the ledger; the
// indexes it holds are projections kept current by a ledger subscription.
type Server struct {
	ledger   *ledger.Ledger
	concepts *concept.Index
	causal   *causal.Index
	vectors  *embed.VectorTable
	embedder *embed.Embedder
	engine   *retrieval.Engine

	retrievalCfg retrieval.Config
	router       chi.Router
	version      string
	started      time.Time
}

// New creates a new Server over an opened ledger and its projections.
func New(l *ledger.Ledger, concepts *concept.Index, causalIdx *causal.Index, vectors *embed.VectorTable, embedder *embed.Embedder, retrievalCfg retrieval.Config, version string) *Server {
	s := &Server{
		ledger:       l,
		concepts:     concepts,
		causal:       causalIdx,
		vectors:      vectors,
		embedder:     embedder,
		engine:       retrieval.New(l, concepts, causalIdx, vectors, embedder),
		retrievalCfg: retrievalCfg,
		version:      version,
		started:      time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/records", s.handleAppendRecord)
		r.Get("/records", s.handleListRecords)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Get("/chain/verify", s.handleVerifyChain)
		r.Get("/retrieve", s.handleRetrieve)
		r.Get("/concepts/{token}", s.handleConcept)
		r.Get("/threads/{threadID}", s.handleThread)
		r.Get("/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.ledger.DB().Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.ledger.DB().Path,
	})
}
