package server

import (
	"context"
	"io"

	"github.com/Tyrowin/roomchat/internal/filestore"
)

//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// FileStore is the storage the HTTP routes depend on.
type FileStore interface {
	Save(ctx context.Context, r io.Reader, originalName string) (filestore.FileRef, error)
	Open(name string) (io.ReadCloser, error)
	Stat(ctx context.Context, name string) (filestore.FileRef, error)
	Thumbnail(ctx context.Context, name string, maxDim uint) ([]byte, error)
	Count(ctx context.Context) (int, error)
}
