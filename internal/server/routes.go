// Package server wires HTTP handlers into a ServeMux for the room chat
// application via routing helpers.
package server

import "net/http"

// Routes returns the application handler: every route behind the CORS
// middleware for the configured origins.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("POST /upload", s.UploadHandler)
	mux.HandleFunc("GET /files/{name}", s.FileHandler)
	mux.HandleFunc("GET /thumbnails/{name}", s.ThumbnailHandler)
	mux.HandleFunc("GET /stats", s.StatsHandler)
	return s.origins.cors().Handler(mux)
}
