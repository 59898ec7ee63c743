package filestore

import "errors"

var (
	ErrNotFound      = errors.New("file not found")
	ErrDirectory     = errors.New("upload directory unavailable")
	ErrNotImage      = errors.New("file is not an image")
	ErrNameCollision = errors.New("could not allocate a unique filename")
)
