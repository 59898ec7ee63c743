package server_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:3000"

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func startTestRelay(t *testing.T, files relay.FileSource, opts relay.Options) *relay.Relay {
	t.Helper()
	rl := relay.New(testLogger(), files, opts)
	go rl.Run()
	t.Cleanup(func() { _ = rl.Shutdown(time.Second) })
	return rl
}

// startTestServer serves the full route table for store over httptest.
func startTestServer(t *testing.T, cfg server.Config, rl *relay.Relay, store server.FileStore) *httptest.Server {
	t.Helper()
	srv := server.NewServer(cfg, rl, store, testLogger())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// wsClient reads envelopes off a gorilla connection, splitting batched
// messages on newlines.
type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []relay.Envelope
	id      string
}

func dialWithOrigin(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return dialer.Dial(url, header)
}

// connectClient dials, consumes the connected greeting and records the
// assigned connection id.
func connectClient(t *testing.T, httpURL string) *wsClient {
	t.Helper()
	conn, resp, err := dialWithOrigin(wsURL(httpURL), testOrigin)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{t: t, conn: conn}
	env := c.next()
	require.Equal(t, relay.EventConnected, env.Event)
	var greeting relay.Connected
	require.NoError(t, json.Unmarshal(env.Data, &greeting))
	require.NotEmpty(t, greeting.Sender)
	require.Equal(t, "You are connected to the server.", greeting.Text)
	c.id = greeting.Sender
	return c
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	frame, err := relay.Encode(event, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *wsClient) next() relay.Envelope {
	c.t.Helper()
	for len(c.pending) == 0 {
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			var env relay.Envelope
			require.NoError(c.t, json.Unmarshal(line, &env))
			c.pending = append(c.pending, env)
		}
	}
	env := c.pending[0]
	c.pending = c.pending[1:]
	return env
}

func (c *wsClient) nextMessage() relay.ChatMessage {
	c.t.Helper()
	env := c.next()
	require.Equal(c.t, relay.EventMessage, env.Event)
	var msg relay.ChatMessage
	require.NoError(c.t, json.Unmarshal(env.Data, &msg))
	return msg
}

// expectSilence asserts nothing arrives for a short while. The connection is
// unusable for reads afterwards.
func (c *wsClient) expectSilence() {
	c.t.Helper()
	require.Empty(c.t, c.pending)
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, data, err := c.conn.ReadMessage()
	require.Error(c.t, err, "unexpected frame %s", data)
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}
