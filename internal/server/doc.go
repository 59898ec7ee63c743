// Package server implements the HTTP and WebSocket surface of the room chat
// relay.
//
// The implementation is organized into specialized files for configuration,
// origin policy, clients, routing, and HTTP handlers. Room state lives in the
// relay package; uploads live behind the FileStore interface.
package server
