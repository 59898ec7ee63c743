// Package server ties the relay, the file store and the HTTP surface together
// through the Server type.
package server

import (
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/gorilla/websocket"
)

// Server serves the chat WebSocket endpoint and the upload routes.
type Server struct {
	cfg      Config
	relay    *relay.Relay
	store    FileStore
	log      *slog.Logger
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// NewServer builds a Server around a running relay and a file store.
func NewServer(cfg Config, rl *relay.Relay, store FileStore, log *slog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	origins := newOriginPolicy(cfg.Origins(), log)
	return &Server{
		cfg:     cfg,
		relay:   rl,
		store:   store,
		log:     log,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
}
