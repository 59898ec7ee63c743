// Package relay implements room-scoped message fan-out for chat connections.
//
// A single Relay goroutine owns the connection registry, room membership and
// every delivery, so room state needs no locks. Transports feed it decoded
// commands and receive frames through the Peer interface.
package relay
