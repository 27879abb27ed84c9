package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.CreateHandler)
	mux.HandleFunc("/api/jobs/by-document/", s.app.JobHandler.ByDocumentHandler)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.GetHandler)

	// API routes - Batch runs
	mux.HandleFunc("/api/batch", s.app.BatchHandler.StartHandler)
	mux.HandleFunc("/api/batch/", s.app.BatchHandler.RunHandler)

	// API routes - Documents
	mux.HandleFunc("/api/documents/", s.app.DocumentHandler.Handler)

	// Live event channel (SSE)
	mux.HandleFunc("/api/events", s.app.EventsHandler.StreamHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Catch-all for unknown API paths
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			s.app.APIHandler.NotFoundHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})

	return mux
}
