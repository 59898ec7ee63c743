package relay

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Command is an inbound request from a connection. The set of commands is
// closed: JoinRoom, LeaveRoom, SendMessage, ShareFile and the internal
// rejection reply.
type Command interface {
	Connection() string
	command()
}

type JoinRoom struct {
	ConnID   string `json:"-"`
	Room     string `json:"room" validate:"required,max=128"`
	Username string `json:"username" validate:"max=64"`
}

type LeaveRoom struct {
	ConnID string `json:"-"`
	Room   string `json:"-" validate:"required,max=128"`
}

// SendMessage carries the client-declared sender as Sender, which the relay
// ignores in favour of the connection id.
type SendMessage struct {
	ConnID  string `json:"-"`
	Room    string `json:"room" validate:"required,max=128"`
	Message string `json:"message"`
	Sender  string `json:"sender,omitempty"`
}

// FileRef points at a previously uploaded file.
type FileRef struct {
	Filename string `json:"filename" validate:"required,max=255"`
	Size     int64  `json:"size" validate:"gte=0"`
}

type ShareFile struct {
	ConnID  string  `json:"-"`
	Room    string  `json:"room" validate:"required,max=128"`
	File    FileRef `json:"file"`
	IsImage bool    `json:"isImage"`
}

type rejection struct {
	ConnID string
	Reply  ErrorReply
}

func (c JoinRoom) Connection() string    { return c.ConnID }
func (c LeaveRoom) Connection() string   { return c.ConnID }
func (c SendMessage) Connection() string { return c.ConnID }
func (c ShareFile) Connection() string   { return c.ConnID }
func (c rejection) Connection() string   { return c.ConnID }

func (JoinRoom) command()    {}
func (LeaveRoom) command()   {}
func (SendMessage) command() {}
func (ShareFile) command()   {}
func (rejection) command()   {}

// Decode parses and validates one inbound frame from connID. Errors are
// always *DecodeError.
func Decode(connID string, raw []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}

	var (
		cmd Command
		err error
	)
	switch env.Event {
	case EventJoinRoom:
		c := JoinRoom{}
		err = unmarshalData(env.Data, &c)
		c.ConnID = connID
		cmd = c
	case EventLeaveRoom:
		c := LeaveRoom{}
		err = unmarshalData(env.Data, &c.Room)
		c.ConnID = connID
		cmd = c
	case EventSendMessage:
		c := SendMessage{}
		err = unmarshalData(env.Data, &c)
		c.ConnID = connID
		cmd = c
	case EventShareFile:
		c := ShareFile{}
		err = unmarshalData(env.Data, &c)
		c.ConnID = connID
		cmd = c
	default:
		return nil, &DecodeError{Event: env.Event, Err: ErrUnknownEvent}
	}
	if err != nil {
		return nil, &DecodeError{Event: env.Event, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}
	if err := validate.Struct(cmd); err != nil {
		return nil, &DecodeError{Event: env.Event, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}
	return cmd, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
