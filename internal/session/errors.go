package session

import "errors"

var (
	ErrNotJoined     = errors.New("not in a room")
	ErrAlreadyJoined = errors.New("already in a room")
	ErrMissingField  = errors.New("room and username are required")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrUploadFailed  = errors.New("upload failed")
	ErrClosed        = errors.New("session closed")
)
