// Package filestore persists uploaded files on disk under server-chosen
// names and serves them back, with optional SQLite metadata and image
// thumbnails.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// FileRef describes a stored file.
type FileRef struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	IsImage     bool   `json:"isImage"`
}

// Store saves uploads into a single flat directory.
type Store struct {
	dir     string
	catalog *Catalog
	log     *slog.Logger
	thumbs  *thumbnailCache
	now     func() time.Time
}

// New returns a store rooted at dir. catalog may be nil.
func New(dir string, catalog *Catalog, log *slog.Logger) *Store {
	return &Store{
		dir:     dir,
		catalog: catalog,
		log:     log,
		thumbs:  newThumbnailCache(),
		now:     time.Now,
	}
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// Save writes r under a new unique name derived from originalName. The
// directory is created on demand.
func (s *Store) Save(ctx context.Context, r io.Reader, originalName string) (FileRef, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return FileRef{}, fmt.Errorf("%w: %v", ErrDirectory, err)
	}

	f, name, err := s.create(originalName)
	if err != nil {
		return FileRef{}, err
	}
	path := filepath.Join(s.dir, name)

	size, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return FileRef{}, fmt.Errorf("failed to write %s: %w", name, err)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		_ = os.Remove(path)
		return FileRef{}, fmt.Errorf("failed to sniff %s: %w", name, err)
	}

	ref := FileRef{
		Filename:    name,
		Size:        size,
		ContentType: mt.String(),
		IsImage:     isImage(mt),
	}

	if s.catalog != nil {
		rec := Record{
			Filename:     name,
			OriginalName: originalName,
			Size:         size,
			ContentType:  ref.ContentType,
			UploadedAt:   s.now(),
		}
		if err := s.catalog.Put(ctx, rec); err != nil {
			s.log.Warn("Upload stored without catalog entry", "file", name, "error", err)
		}
	}

	s.log.Info("File uploaded", "file", name, "size", size, "contentType", ref.ContentType)
	return ref, nil
}

// create opens a fresh file named "<unix millis>-<sanitized name>". A short
// random suffix is added when that name is already taken.
func (s *Store) create(originalName string) (*os.File, string, error) {
	clean := sanitizeFilename(originalName)
	stamp := s.now().UnixMilli()
	name := fmt.Sprintf("%d-%s", stamp, clean)

	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create %s: %w", name, err)
		}
		name = fmt.Sprintf("%d-%s-%s", stamp, uuid.NewString()[:8], clean)
	}
	return nil, "", ErrNameCollision
}

// Open returns a reader over a stored file.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	return s.openFile(name)
}

// Retrieve reads a whole stored file into memory.
func (s *Store) Retrieve(name string) ([]byte, error) {
	f, err := s.openFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

func (s *Store) openFile(name string) (*os.File, error) {
	if !validName(name) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// Stat describes a stored file, preferring catalogued metadata.
func (s *Store) Stat(ctx context.Context, name string) (FileRef, error) {
	if !validName(name) {
		return FileRef{}, ErrNotFound
	}
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return FileRef{}, ErrNotFound
	}
	if err != nil {
		return FileRef{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	if s.catalog != nil {
		rec, err := s.catalog.Get(ctx, name)
		if err == nil {
			return FileRef{
				Filename:    name,
				Size:        info.Size(),
				ContentType: rec.ContentType,
				IsImage:     strings.HasPrefix(rec.ContentType, "image/"),
			}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("Catalog lookup failed", "file", name, "error", err)
		}
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return FileRef{}, fmt.Errorf("failed to sniff %s: %w", name, err)
	}
	return FileRef{
		Filename:    name,
		Size:        info.Size(),
		ContentType: mt.String(),
		IsImage:     isImage(mt),
	}, nil
}

// Count returns how many uploads are catalogued, or zero without a catalog.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.catalog == nil {
		return 0, nil
	}
	return s.catalog.Count(ctx)
}

func isImage(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
	}
	return false
}

// sanitizeFilename keeps only the base name of an uploaded filename.
func sanitizeFilename(filename string) string {
	clean := filepath.Base(filepath.Clean(filename))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}

// validName accepts only plain names that resolve inside the upload directory.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}
