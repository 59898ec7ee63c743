package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Peer is the relay's view of a live connection. Deliver must never block: it
// reports false when the frame could not be queued. Only the relay loop calls
// Deliver and Close.
type Peer interface {
	ID() string
	Deliver(frame []byte) bool
	Close()
}

// FileSource opens previously uploaded files for the echo stream.
type FileSource interface {
	Open(name string) (io.ReadCloser, error)
}

// Options tune the relay.
type Options struct {
	// ChunkSize is the byte size of each fileStream chunk.
	ChunkSize int
	// EchoStream streams a shared file back to its sharer.
	EchoStream bool
}

const defaultChunkSize = 64 * 1024

// Stats is a point-in-time view of relay state.
type Stats struct {
	Connections int `json:"connections"`
	Named       int `json:"named"`
	Rooms       int `json:"rooms"`
}

type streamChunk struct {
	conn   string
	frame  []byte
	result chan bool
}

// Relay owns room membership and the connection registry. All state is
// mutated by the Run loop only; public methods hand work to the loop over
// channels.
type Relay struct {
	log      *slog.Logger
	files    FileSource
	opts     Options
	registry *Registry

	peers map[string]Peer
	// room -> member connection ids
	rooms map[string]map[string]struct{}
	// connection id -> rooms joined
	joined map[string]map[string]struct{}

	register   chan Peer
	unregister chan string
	commands   chan Command
	chunks     chan streamChunk
	queries    chan func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a relay. files may be nil, which disables the echo stream.
func New(log *slog.Logger, files FileSource, opts Options) *Relay {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		log:        log,
		files:      files,
		opts:       opts,
		registry:   NewRegistry(),
		peers:      make(map[string]Peer),
		rooms:      make(map[string]map[string]struct{}),
		joined:     make(map[string]map[string]struct{}),
		register:   make(chan Peer),
		unregister: make(chan string),
		commands:   make(chan Command),
		chunks:     make(chan streamChunk),
		queries:    make(chan func()),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run is the relay's event loop. It must run in its own goroutine and returns
// once Shutdown is called.
func (r *Relay) Run() {
	defer close(r.done)

	for {
		select {
		case <-r.ctx.Done():
			r.closePeers()
			return
		case p := <-r.register:
			r.attach(p)
		case id := <-r.unregister:
			r.detach(id)
		case cmd := <-r.commands:
			r.dispatch(cmd)
		case c := <-r.chunks:
			c.result <- r.deliver(c.conn, c.frame)
		case q := <-r.queries:
			q()
		}
	}
}

// Register adds a connection and greets it with a connected event.
func (r *Relay) Register(p Peer) error {
	select {
	case r.register <- p:
		return nil
	case <-r.ctx.Done():
		return ErrStopped
	}
}

// Disconnect removes a connection from every room it joined and forgets its
// name. Remaining members are not notified.
func (r *Relay) Disconnect(connID string) {
	select {
	case r.unregister <- connID:
	case <-r.ctx.Done():
	}
}

// Dispatch hands a decoded command to the loop.
func (r *Relay) Dispatch(cmd Command) error {
	select {
	case r.commands <- cmd:
		return nil
	case <-r.ctx.Done():
		return ErrStopped
	}
}

// Reject answers a connection whose frame failed to decode with an error
// event. It goes through the loop so delivery never races with Close.
func (r *Relay) Reject(connID string, err error) error {
	reply := ErrorReply{Error: err.Error()}
	var de *DecodeError
	if errors.As(err, &de) {
		reply = ErrorReply{Event: de.Event, Error: de.Err.Error()}
	}
	return r.Dispatch(rejection{ConnID: connID, Reply: reply})
}

// Members returns the sorted connection ids currently in room.
func (r *Relay) Members(room string) []string {
	var members []string
	_ = r.query(func() {
		members = lo.Keys(r.rooms[room])
	})
	sort.Strings(members)
	return members
}

// Rooms returns the sorted rooms connID has joined.
func (r *Relay) Rooms(connID string) []string {
	var rooms []string
	_ = r.query(func() {
		rooms = lo.Keys(r.joined[connID])
	})
	sort.Strings(rooms)
	return rooms
}

// Username returns the display name registered for connID.
func (r *Relay) Username(connID string) (string, bool) {
	var (
		name string
		ok   bool
	)
	_ = r.query(func() {
		name, ok = r.registry.Lookup(connID)
	})
	return name, ok
}

func (r *Relay) Stats() Stats {
	var s Stats
	_ = r.query(func() {
		s = Stats{
			Connections: len(r.peers),
			Named:       r.registry.Len(),
			Rooms:       len(r.rooms),
		}
	})
	return s
}

// Shutdown stops the loop, closes every peer and waits for running file
// streams to stop, up to timeout.
func (r *Relay) Shutdown(timeout time.Duration) error {
	r.log.Info("Initiating relay shutdown")
	r.cancel()
	<-r.done

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("Relay shutdown completed")
		return nil
	case <-time.After(timeout):
		r.log.Warn("Relay shutdown timeout reached, file streams may still be running")
		return context.DeadlineExceeded
	}
}

func (r *Relay) query(fn func()) error {
	finished := make(chan struct{})
	select {
	case r.queries <- func() { fn(); close(finished) }:
	case <-r.ctx.Done():
		return ErrStopped
	}
	<-finished
	return nil
}

func (r *Relay) attach(p Peer) {
	if p == nil {
		r.log.Warn("Received nil peer registration; skipping")
		return
	}
	id := p.ID()
	if old, ok := r.peers[id]; ok && old != p {
		r.detach(id)
	}
	r.peers[id] = p
	r.log.Info("Connection registered", "conn", id, "connections", len(r.peers))

	frame, err := Encode(EventConnected, Connected{Sender: id, Text: connectedText})
	if err != nil {
		r.log.Error("Failed to encode connected event", "error", err)
		return
	}
	if !p.Deliver(frame) {
		r.log.Warn("Connection dropped before greeting", "conn", id)
		r.detach(id)
	}
}

func (r *Relay) detach(id string) {
	p, ok := r.peers[id]
	if !ok {
		return
	}
	for room := range r.joined[id] {
		r.removeMember(room, id)
	}
	r.registry.Remove(id)
	delete(r.peers, id)
	p.Close()
	r.log.Info("Connection unregistered", "conn", id, "connections", len(r.peers))
}

func (r *Relay) dispatch(cmd Command) {
	if _, ok := r.peers[cmd.Connection()]; !ok {
		r.log.Debug("Dropping command from unknown connection", "conn", cmd.Connection())
		return
	}

	switch c := cmd.(type) {
	case JoinRoom:
		r.join(c)
	case LeaveRoom:
		r.leave(c)
	case SendMessage:
		r.sendMessage(c)
	case ShareFile:
		r.shareFile(c)
	case rejection:
		r.reject(c)
	default:
		r.log.Error("Unhandled command type", "type", fmt.Sprintf("%T", cmd))
	}
}

func (r *Relay) join(c JoinRoom) {
	r.addMember(c.Room, c.ConnID)
	r.registry.Register(c.ConnID, c.Username)
	r.log.Info("User joined room", "conn", c.ConnID, "username", c.Username, "room", c.Room)

	r.broadcast(c.Room, EventMessage, ChatMessage{
		Text:     fmt.Sprintf("User %s joined the room.", c.ConnID),
		Sender:   c.ConnID,
		Username: lo.ToPtr(c.Username),
	})
}

func (r *Relay) leave(c LeaveRoom) {
	r.removeMember(c.Room, c.ConnID)
	r.log.Info("User left room", "conn", c.ConnID, "room", c.Room)

	r.broadcast(c.Room, EventMessage, ChatMessage{
		Text:   fmt.Sprintf("User %s left the room.", c.ConnID),
		Sender: c.ConnID,
	})
}

func (r *Relay) sendMessage(c SendMessage) {
	r.log.Debug("Relaying message", "conn", c.ConnID, "room", c.Room)

	r.broadcast(c.Room, EventMessage, ChatMessage{
		Text:     c.Message,
		Sender:   c.ConnID,
		Username: r.username(c.ConnID),
	})
}

func (r *Relay) shareFile(c ShareFile) {
	r.log.Info("File shared", "conn", c.ConnID, "room", c.Room, "file", c.File.Filename)

	r.broadcast(c.Room, EventFileShared, FileShared{
		Filename: c.File.Filename,
		Size:     c.File.Size,
		Sender:   c.ConnID,
		Username: r.username(c.ConnID),
		IsImage:  c.IsImage,
	})

	if r.opts.EchoStream && r.files != nil {
		r.startStream(c.ConnID, c.File.Filename)
	}
}

func (r *Relay) reject(c rejection) {
	frame, err := Encode(EventError, c.Reply)
	if err != nil {
		r.log.Error("Failed to encode error reply", "error", err)
		return
	}
	if !r.deliver(c.ConnID, frame) {
		r.detach(c.ConnID)
	}
}

func (r *Relay) username(connID string) *string {
	name, ok := r.registry.Lookup(connID)
	if !ok {
		return nil
	}
	return lo.ToPtr(name)
}

func (r *Relay) addMember(room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[connID] = struct{}{}

	rooms, ok := r.joined[connID]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[connID] = rooms
	}
	rooms[room] = struct{}{}
}

func (r *Relay) removeMember(room, connID string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
}

// broadcast delivers an event to every current member of room. Members whose
// send buffer is full are dropped as if they had disconnected.
func (r *Relay) broadcast(room, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		r.log.Error("Failed to encode broadcast", "event", event, "error", err)
		return
	}

	var failed []string
	for member := range r.rooms[room] {
		if !r.deliver(member, frame) {
			failed = append(failed, member)
		}
	}

	for _, id := range failed {
		r.log.Warn("Connection removed due to full send buffer", "conn", id)
		r.detach(id)
	}
}

func (r *Relay) deliver(connID string, frame []byte) bool {
	p, ok := r.peers[connID]
	if !ok {
		return false
	}
	return p.Deliver(frame)
}

func (r *Relay) closePeers() {
	r.log.Info("Shutting down all connections")
	for id, p := range r.peers {
		p.Close()
		delete(r.peers, id)
	}
	clear(r.rooms)
	clear(r.joined)
	clear(r.registry.names)
}
