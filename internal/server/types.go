// Package server defines shared HTTP payload types and utility helpers that
// are reused across client and handler logic.
package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Tyrowin/roomchat/internal/relay"
)

// statsResponse is served by GET /stats.
type statsResponse struct {
	relay.Stats
	Uploads int `json:"uploads"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
