package preview

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/gurisko/demosite/internal/failure"
	"github.com/gurisko/demosite/internal/registry"
)

type HealthResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/sites", s.handleSites)
	mux.Handle("GET /", http.FileServer(hiddenFS{http.Dir(s.root)}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Seconds(),
	})
}

// handleSites returns the registry exactly as the pipeline reads it
func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	reg, err := s.loadSites()
	if err != nil {
		log.Printf("[WARN] preview: loading registry: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Kind:  string(failure.KindOf(err)),
		})
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// loadSites decodes the registry once per version of the file
func (s *Server) loadSites() (*registry.Registry, error) {
	key := "absent"
	if fi, err := os.Stat(s.store.Path()); err == nil {
		key = fmt.Sprintf("%d:%d", fi.ModTime().UnixNano(), fi.Size())
	}
	if v, ok := s.sites.Get(key); ok {
		if reg, ok := v.(*registry.Registry); ok {
			return reg, nil
		}
	}
	reg, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	s.sites.Set(key, reg, gocache.DefaultExpiration)
	return reg, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("[WARN] preview: encoding response: %v", err)
	}
}
