// Package server exposes HTTP handlers, including WebSocket upgrades, file
// uploads and downloads, thumbnails and health checks.
package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Tyrowin/roomchat/internal/filestore"
)

const healthText = "WebSocket with Rooms is live!"

// WebSocketHandler upgrades the request, registers the new client with the
// relay and starts its pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s.relay, r.RemoteAddr, s.cfg.MaxMessageSize, s.log)
	if err := s.relay.Register(client); err != nil {
		s.log.Warn("Rejecting connection", "addr", r.RemoteAddr, "error", err)
		_ = conn.Close()
		return
	}
	client.Start()
}

// HealthHandler answers liveness probes with a fixed plain text body.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, healthText)
}

// UploadHandler accepts one multipart file field named "file" and reports
// the stored name.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ref, err := s.store.Save(r.Context(), file, header.Filename)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.log.Error("Upload failed", "file", header.Filename, "error", err)
		http.Error(w, "Upload failed", http.StatusInternalServerError)
		return
	}

	if err := writeJSON(w, http.StatusOK, ref); err != nil {
		s.log.Warn("Error writing upload response", "error", err)
	}
}

// FileHandler streams a stored file back with its sniffed content type.
func (s *Server) FileHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	ref, err := s.store.Stat(r.Context(), name)
	if err != nil {
		s.writeStoreError(w, name, err)
		return
	}

	rc, err := s.store.Open(name)
	if err != nil {
		s.writeStoreError(w, name, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", ref.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(ref.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Warn("Error streaming file", "file", name, "error", err)
	}
}

// ThumbnailHandler serves a JPEG preview of a stored image.
func (s *Server) ThumbnailHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	data, err := s.store.Thumbnail(r.Context(), name, filestore.DefaultThumbnailSize)
	if err != nil {
		s.writeStoreError(w, name, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := w.Write(data); err != nil {
		s.log.Warn("Error writing thumbnail", "file", name, "error", err)
	}
}

// StatsHandler reports live connection, room and upload counts.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.store.Count(r.Context())
	if err != nil {
		s.log.Warn("Error counting uploads", "error", err)
	}

	if err := writeJSON(w, http.StatusOK, statsResponse{Stats: s.relay.Stats(), Uploads: uploads}); err != nil {
		s.log.Warn("Error writing stats response", "error", err)
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, filestore.ErrNotFound):
		http.Error(w, "File not found", http.StatusNotFound)
	case errors.Is(err, filestore.ErrNotImage):
		http.Error(w, "File is not an image", http.StatusUnsupportedMediaType)
	default:
		s.log.Error("File store error", "file", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
