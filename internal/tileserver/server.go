// Package tileserver serves tile assets from any loader.Source over HTTP, so
// one archive or directory can feed viewers elsewhere through HTTPSource.
package tileserver

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"tilearray/internal/loader"
	"tilearray/internal/logging"
)

// Server provides HTTP endpoints for tile assets
type Server struct {
	src    loader.Source
	addr   string
	server *http.Server
}

// NewServer creates a new tile server
func NewServer(src loader.Source, addr string) *Server {
	return &Server{
		src:  src,
		addr: addr,
	}
}

// Handler routes /tile/{name} and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tile/", s.handleTile)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	logging.Logger().Info("tile server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleTile serves /tile/{category}/{file}
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/tile/")
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		http.Error(w, "Invalid tile path", http.StatusBadRequest)
		return
	}

	data, err := s.src.Fetch(r.Context(), name)
	switch {
	case errors.Is(err, loader.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		logging.Logger().Warn("tile fetch failed", "name", name, "error", err)
		http.Error(w, "Failed to get tile", http.StatusInternalServerError)
		return
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "max-age=86400") // Cache for 24 hours
	w.Write(data)
}

// handleHealth provides a health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
