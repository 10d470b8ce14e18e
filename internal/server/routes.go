package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.HandleFunc("/ws", s.serveWS)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/document", s.getDocument).Methods(http.MethodGet)
	r.HandleFunc("/document/history", s.getHistory).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp"`
	Connections int    `json:"connections"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UnixMilli(),
		Connections: s.deps.Registry.Count(),
	})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Store.Snapshot())
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Store.History())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
