package filestore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"sync"

	"github.com/nfnt/resize"
)

// DefaultThumbnailSize bounds both sides of a generated thumbnail.
const DefaultThumbnailSize = 300

type thumbnailCache struct {
	mu    sync.RWMutex
	cache map[string][]byte
}

func newThumbnailCache() *thumbnailCache {
	return &thumbnailCache{cache: make(map[string][]byte)}
}

func (c *thumbnailCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.cache[key]
	return data, ok
}

func (c *thumbnailCache) put(key string, data []byte) {
	c.mu.Lock()
	c.cache[key] = data
	c.mu.Unlock()
}

// Thumbnail returns a JPEG no larger than maxDim on either side. Results are
// cached for the life of the store; names are never reused so entries do not
// go stale.
func (s *Store) Thumbnail(ctx context.Context, name string, maxDim uint) ([]byte, error) {
	if maxDim == 0 {
		maxDim = DefaultThumbnailSize
	}
	key := fmt.Sprintf("%s@%d", name, maxDim)
	if data, ok := s.thumbs.get(key); ok {
		return data, nil
	}

	ref, err := s.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ref.IsImage {
		return nil, ErrNotImage
	}

	f, err := s.openFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	thumbnail := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumbnail, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail for %s: %w", name, err)
	}

	data := buf.Bytes()
	s.thumbs.put(key, data)
	return data, nil
}
