// Package monitor exposes the read-only operational surface: prometheus
// metrics, the latest position snapshot, and a liveness probe. It never
// mutates trading state.
package monitor

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/rollingk/trader/internal/ledger"
)

// Server serves the monitor endpoints.
type Server struct {
	store *ledger.Store
}

// NewServer returns a monitor over the given ledger store.
func NewServer(store *ledger.Store) *Server {
	return &Server{store: store}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return r
}

// ListenAndServe blocks serving the monitor on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("monitor listening")
	return srv.ListenAndServe()
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	path, ok := s.store.LatestSnapshotPath()
	if !ok {
		http.Error(w, `{"error":"no snapshot"}`, http.StatusNotFound)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		http.Error(w, `{"error":"snapshot unreadable"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
