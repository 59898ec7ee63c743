// Package session is a Go client for the room chat relay. A Session mirrors
// a single room membership, keeps the rendered message list and uploads files
// before sharing them.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// You is the sender shown on entries this session produced itself.
const You = "You"

// Options configure Dial.
type Options struct {
	// ServerURL is the HTTP base URL of the relay, e.g. http://localhost:7777.
	ServerURL string
	// Origin is sent on the WebSocket handshake and on uploads.
	Origin string
	// HTTPClient is used for uploads. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// OnEntry, when set, is called for every entry appended to the list.
	OnEntry func(Entry)
}

// Entry is one rendered line of the conversation.
type Entry struct {
	Text     string
	Sender   string
	Username string
	// File is set for file shares.
	File    string
	IsImage bool
}

// Session is one connection to the relay.
type Session struct {
	opts    Options
	base    *url.URL
	conn    *websocket.Conn
	httpc   *http.Client
	log     *slog.Logger
	writeMu sync.Mutex

	mu        sync.Mutex
	userID    string
	room      string
	username  string
	joined    bool
	entries   []Entry
	streamed  int64
	completed int
	lastError *relay.ErrorReply

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

// Dial connects to the relay and waits for the connected greeting.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	base, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	wsURL := *base
	switch base.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws"

	header := http.Header{}
	if opts.Origin != "" {
		header.Set("Origin", opts.Origin)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL.String(), err)
	}

	s := &Session{
		opts:  opts,
		base:  base,
		conn:  conn,
		httpc: opts.HTTPClient,
		log:   opts.Logger,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.readLoop()

	select {
	case <-s.ready:
		return s, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}
}

// UserID is the connection id the relay assigned.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Room returns the joined room, if any.
func (s *Session) Room() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.joined
}

// Join enters room under username. Both must be non-empty and the session
// must not already be in a room.
func (s *Session) Join(room, username string) error {
	if room == "" || username == "" {
		return ErrMissingField
	}

	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.mu.Unlock()

	if err := s.emit(relay.EventJoinRoom, relay.JoinRoom{Room: room, Username: username}); err != nil {
		return err
	}

	s.mu.Lock()
	s.room, s.username, s.joined = room, username, true
	s.mu.Unlock()
	return nil
}

// Leave exits the current room and clears the message list.
func (s *Session) Leave() error {
	s.mu.Lock()
	room, joined := s.room, s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}

	if err := s.emit(relay.EventLeaveRoom, room); err != nil {
		return err
	}

	s.mu.Lock()
	s.room, s.joined = "", false
	s.entries = nil
	s.mu.Unlock()
	return nil
}

// Send posts text to the current room and appends it locally as You.
func (s *Session) Send(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	room, username, joined := s.room, s.username, s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}

	if err := s.emit(relay.EventSendMessage, relay.SendMessage{Room: room, Message: text, Sender: username}); err != nil {
		return err
	}
	s.append(Entry{Text: text, Sender: You, Username: username})
	return nil
}

// Messages returns a copy of the rendered list.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// StreamedBytes is the total size of fileStream chunks received so far.
func (s *Session) StreamedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamed
}

// CompletedStreams counts fileStreamComplete events received.
func (s *Session) CompletedStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// LastError returns the most recent error event from the relay.
func (s *Session) LastError() (relay.ErrorReply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastError == nil {
		return relay.ErrorReply{}, false
	}
	return *s.lastError, true
}

// Done is closed when the connection is gone.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close disconnects and waits for the reader to stop.
func (s *Session) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Session) emit(event string, data any) error {
	frame, err := relay.Encode(event, data)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func (s *Session) readLoop() {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.log.Debug("Session read loop stopped", "error", err)
			}
			return
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			s.handle(line)
		}
	}
}

func (s *Session) handle(frame []byte) {
	var env relay.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		s.log.Warn("Ignoring malformed frame", "error", err)
		return
	}

	switch env.Event {
	case relay.EventConnected:
		var c relay.Connected
		if err := json.Unmarshal(env.Data, &c); err != nil {
			s.log.Warn("Malformed connected event", "error", err)
			return
		}
		s.mu.Lock()
		s.userID = c.Sender
		s.mu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })

	case relay.EventMessage:
		var m relay.ChatMessage
		if err := json.Unmarshal(env.Data, &m); err != nil {
			s.log.Warn("Malformed message event", "error", err)
			return
		}
		if s.own(m.Sender) {
			return
		}
		s.append(Entry{Text: m.Text, Sender: m.Sender, Username: lo.FromPtr(m.Username)})

	case relay.EventFileShared:
		var f relay.FileShared
		if err := json.Unmarshal(env.Data, &f); err != nil {
			s.log.Warn("Malformed fileShared event", "error", err)
			return
		}
		if s.own(f.Sender) {
			return
		}
		s.append(Entry{
			Text:     "File shared: " + f.Filename,
			Sender:   f.Sender,
			Username: lo.FromPtr(f.Username),
			File:     f.Filename,
			IsImage:  f.IsImage,
		})

	case relay.EventFileStream:
		var chunk []byte
		if err := json.Unmarshal(env.Data, &chunk); err != nil {
			s.log.Warn("Malformed fileStream chunk", "error", err)
			return
		}
		s.mu.Lock()
		s.streamed += int64(len(chunk))
		s.mu.Unlock()

	case relay.EventFileStreamComplete:
		s.mu.Lock()
		s.completed++
		s.mu.Unlock()
		s.log.Debug("File stream complete")

	case relay.EventError:
		var reply relay.ErrorReply
		if err := json.Unmarshal(env.Data, &reply); err != nil {
			s.log.Warn("Malformed error event", "error", err)
			return
		}
		s.mu.Lock()
		s.lastError = &reply
		s.mu.Unlock()
		s.log.Warn("Relay rejected frame", "event", reply.Event, "error", reply.Error)

	default:
		s.log.Debug("Ignoring unknown event", "event", env.Event)
	}
}

func (s *Session) own(sender string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sender == s.userID
}

func (s *Session) append(e Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	if s.opts.OnEntry != nil {
		s.opts.OnEntry(e)
	}
}
