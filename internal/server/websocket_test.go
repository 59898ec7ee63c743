package server_test

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/filestore"
	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type chatFixture struct {
	url   string
	relay *relay.Relay
	store *filestore.Store
}

func newChatFixture(t *testing.T, mutate func(cfg *server.Config)) chatFixture {
	t.Helper()
	cfg := *server.NewConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	store := filestore.New(t.TempDir(), nil, testLogger())
	rl := startTestRelay(t, store, relay.Options{ChunkSize: 4, EchoStream: cfg.EchoFileStream})
	ts := startTestServer(t, cfg, rl, store)
	return chatFixture{url: ts.URL, relay: rl, store: store}
}

func joinRoom(c *wsClient, room, username string) {
	c.send(relay.EventJoinRoom, relay.JoinRoom{Room: room, Username: username})
}

func TestWebSocket_LobbyScenario(t *testing.T) {
	req := require.New(t)

	// Given Alice and Bob connected and both in the lobby
	fx := newChatFixture(t, nil)
	alice := connectClient(t, fx.url)
	bob := connectClient(t, fx.url)
	req.NotEqual(alice.id, bob.id)

	joinRoom(alice, "lobby", "Alice")
	joined := alice.nextMessage()
	req.Equal("User "+alice.id+" joined the room.", joined.Text)
	req.Equal("Alice", *joined.Username)

	joinRoom(bob, "lobby", "Bob")
	for _, c := range []*wsClient{alice, bob} {
		msg := c.nextMessage()
		req.Equal("User "+bob.id+" joined the room.", msg.Text)
		req.Equal(bob.id, msg.Sender)
		req.Equal("Bob", *msg.Username)
	}

	// When Alice says hi
	alice.send(relay.EventSendMessage, relay.SendMessage{Room: "lobby", Message: "hi", Sender: "Alice"})

	// Then both receive it under Alice's connection id
	for _, c := range []*wsClient{alice, bob} {
		msg := c.nextMessage()
		req.Equal("hi", msg.Text)
		req.Equal(alice.id, msg.Sender)
		req.Equal("Alice", *msg.Username)
	}

	// When Bob leaves
	bob.send(relay.EventLeaveRoom, "lobby")

	// Then Alice is told and Bob no longer receives room traffic
	left := alice.nextMessage()
	req.Equal("User "+bob.id+" left the room.", left.Text)
	req.Nil(left.Username)

	alice.send(relay.EventSendMessage, relay.SendMessage{Room: "lobby", Message: "anyone?"})
	req.Equal("anyone?", alice.nextMessage().Text)
	bob.expectSilence()
}

func TestWebSocket_RoomsAreIsolated(t *testing.T) {
	req := require.New(t)

	fx := newChatFixture(t, nil)
	alice := connectClient(t, fx.url)
	carol := connectClient(t, fx.url)
	joinRoom(alice, "lobby", "Alice")
	alice.nextMessage()
	joinRoom(carol, "games", "Carol")
	carol.nextMessage()

	alice.send(relay.EventSendMessage, relay.SendMessage{Room: "lobby", Message: "lobby only"})

	req.Equal("lobby only", alice.nextMessage().Text)
	carol.expectSilence()
}

func TestWebSocket_ShareFileEchoesToSharer(t *testing.T) {
	req := require.New(t)

	// Given Alice and Bob in the lobby
	fx := newChatFixture(t, nil)
	alice := connectClient(t, fx.url)
	bob := connectClient(t, fx.url)
	joinRoom(alice, "lobby", "Alice")
	alice.nextMessage()
	joinRoom(bob, "lobby", "Bob")
	alice.nextMessage()
	bob.nextMessage()

	// And a file uploaded over HTTP
	body, contentType := multipartBody(t, "file", "notes.txt", []byte("0123456789"))
	httpReq, err := http.NewRequest(http.MethodPost, fx.url+"/upload", body)
	req.NoError(err)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Origin", testOrigin)
	resp, err := http.DefaultClient.Do(httpReq)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	var ref filestore.FileRef
	req.NoError(json.NewDecoder(resp.Body).Decode(&ref))
	req.True(strings.HasSuffix(ref.Filename, "-notes.txt"))
	req.Equal(int64(10), ref.Size)

	// When Alice shares it
	alice.send(relay.EventShareFile, relay.ShareFile{
		Room: "lobby",
		File: relay.FileRef{Filename: ref.Filename, Size: ref.Size},
	})

	// Then both members see the share
	for _, c := range []*wsClient{alice, bob} {
		env := c.next()
		req.Equal(relay.EventFileShared, env.Event)
		var shared relay.FileShared
		req.NoError(json.Unmarshal(env.Data, &shared))
		req.Equal(ref.Filename, shared.Filename)
		req.Equal(alice.id, shared.Sender)
		req.False(shared.IsImage)
	}

	// And Alice alone gets the bytes back followed by completion
	var echoed []byte
	for {
		env := alice.next()
		if env.Event == relay.EventFileStreamComplete {
			break
		}
		req.Equal(relay.EventFileStream, env.Event)
		var chunk []byte
		req.NoError(json.Unmarshal(env.Data, &chunk))
		echoed = append(echoed, chunk...)
	}
	req.Equal("0123456789", string(echoed))
	bob.expectSilence()
}

func TestWebSocket_InvalidFramesGetErrorEvent(t *testing.T) {
	fx := newChatFixture(t, nil)
	alice := connectClient(t, fx.url)

	tests := []struct {
		name      string
		raw       string
		wantEvent string
	}{
		{name: "not json", raw: "hello", wantEvent: ""},
		{name: "unknown event", raw: `{"event":"dance","data":{}}`, wantEvent: "dance"},
		{name: "join without room", raw: `{"event":"joinRoom","data":{"username":"x"}}`, wantEvent: relay.EventJoinRoom},
		{name: "leave with object", raw: `{"event":"leaveRoom","data":{"room":"lobby"}}`, wantEvent: relay.EventLeaveRoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)))

			env := alice.next()
			require.Equal(t, relay.EventError, env.Event)
			var reply relay.ErrorReply
			require.NoError(t, json.Unmarshal(env.Data, &reply))
			require.Equal(t, tt.wantEvent, reply.Event)
			require.NotEmpty(t, reply.Error)
		})
	}

	// And the connection stays usable
	joinRoom(alice, "lobby", "Alice")
	require.Equal(t, "User "+alice.id+" joined the room.", alice.nextMessage().Text)
}

func TestWebSocket_DisconnectRemovesMembership(t *testing.T) {
	req := require.New(t)

	fx := newChatFixture(t, nil)
	alice := connectClient(t, fx.url)
	bob := connectClient(t, fx.url)
	joinRoom(alice, "lobby", "Alice")
	alice.nextMessage()
	joinRoom(bob, "lobby", "Bob")
	alice.nextMessage()
	bob.nextMessage()

	req.NoError(alice.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = alice.conn.Close()

	req.Eventually(func() bool {
		members := fx.relay.Members("lobby")
		return len(members) == 1 && members[0] == bob.id
	}, 2*time.Second, 20*time.Millisecond)
	_, named := fx.relay.Username(alice.id)
	req.False(named)
	bob.expectSilence()
}

func TestWebSocket_OversizedMessageClosesConnection(t *testing.T) {
	fx := newChatFixture(t, func(cfg *server.Config) { cfg.MaxMessageSize = 128 })
	alice := connectClient(t, fx.url)

	huge := strings.Repeat("x", 1024)
	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte(huge)))

	require.NoError(t, alice.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.conn.ReadMessage()
	require.Error(t, err)
	require.False(t, websocket.IsUnexpectedCloseError(err, websocket.CloseMessageTooBig, websocket.CloseAbnormalClosure),
		"unexpected error %v", err)
}

func TestWebSocket_OriginPolicy(t *testing.T) {
	fx := newChatFixture(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = "http://example.com, http://localhost:3000"
	})

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{name: "configured origin", origin: "http://example.com", allowed: true},
		{name: "case insensitive", origin: "HTTP://EXAMPLE.COM", allowed: true},
		{name: "second configured origin", origin: testOrigin, allowed: true},
		{name: "missing origin", origin: "", allowed: false},
		{name: "other origin", origin: "http://evil.example", allowed: false},
		{name: "malformed origin", origin: "not-a-url", allowed: false},
		{name: "different port", origin: "http://example.com:8080", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := dialWithOrigin(wsURL(fx.url), tt.origin)
			if resp != nil {
				defer resp.Body.Close()
			}
			if tt.allowed {
				require.NoError(t, err)
				_ = conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			require.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestWebSocket_WildcardOrigin(t *testing.T) {
	fx := newChatFixture(t, func(cfg *server.Config) { cfg.AllowedOrigins = "*" })

	for _, origin := range []string{"http://example.com", "https://another.com"} {
		conn, resp, err := dialWithOrigin(wsURL(fx.url), origin)
		if resp != nil {
			_ = resp.Body.Close()
		}
		require.NoError(t, err, origin)
		_ = conn.Close()
	}
}

func TestWebSocket_RelayShutdownClosesClients(t *testing.T) {
	fx := newChatFixture(t, nil)
	clients := []*wsClient{connectClient(t, fx.url), connectClient(t, fx.url), connectClient(t, fx.url)}

	require.NoError(t, fx.relay.Shutdown(2*time.Second))

	for i, c := range clients {
		require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := c.conn.ReadMessage()
		require.Error(t, err, "client %d still open", i)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("client %d was not closed before the deadline", i)
		}
	}
}
