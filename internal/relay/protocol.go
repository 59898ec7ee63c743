package relay

import (
	"encoding/json"
	"fmt"
)

// Event names exchanged over the socket.
const (
	EventConnected          = "connected"
	EventJoinRoom           = "joinRoom"
	EventLeaveRoom          = "leaveRoom"
	EventSendMessage        = "sendMessage"
	EventMessage            = "message"
	EventShareFile          = "shareFile"
	EventFileShared         = "fileShared"
	EventFileStream         = "fileStream"
	EventFileStreamComplete = "fileStreamComplete"
	EventError              = "error"
)

const connectedText = "You are connected to the server."

// Envelope is the JSON frame carried by every text message on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Connected is sent to a connection right after it is registered.
type Connected struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// ChatMessage is the payload of a room `message` broadcast. Username is nil
// when the sender never registered a display name.
type ChatMessage struct {
	Text     string  `json:"text"`
	Sender   string  `json:"sender"`
	Username *string `json:"username,omitempty"`
}

// FileShared is the payload of a room `fileShared` broadcast.
type FileShared struct {
	Filename string  `json:"filename"`
	Size     int64   `json:"size"`
	Sender   string  `json:"sender"`
	Username *string `json:"username,omitempty"`
	IsImage  bool    `json:"isImage"`
}

// ErrorReply is sent back to a connection whose frame was rejected.
type ErrorReply struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

// Encode builds a wire frame. A nil data produces an envelope without payload.
func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
