package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/Tyrowin/roomchat/internal/relay"
)

// Upload is the store's answer to POST /upload.
type Upload struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	IsImage     bool   `json:"isImage"`
}

// ShareFile uploads r as name, then announces it to the current room.
func (s *Session) ShareFile(ctx context.Context, name string, r io.Reader) (Upload, error) {
	s.mu.Lock()
	room, username, joined := s.room, s.username, s.joined
	s.mu.Unlock()
	if !joined {
		return Upload{}, ErrNotJoined
	}

	up, err := s.upload(ctx, name, r)
	if err != nil {
		return Upload{}, err
	}

	err = s.emit(relay.EventShareFile, relay.ShareFile{
		Room:    room,
		File:    relay.FileRef{Filename: up.Filename, Size: up.Size},
		IsImage: up.IsImage,
	})
	if err != nil {
		return up, err
	}

	s.append(Entry{
		Text:     "File shared: " + name,
		Sender:   You,
		Username: username,
		File:     up.Filename,
		IsImage:  up.IsImage,
	})
	return up, nil
}

// upload streams the multipart body through a pipe so large files are not
// buffered in memory.
func (s *Session) upload(ctx context.Context, name string, r io.Reader) (Upload, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	endpoint := s.base.JoinPath("upload")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return Upload{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if s.opts.Origin != "" {
		req.Header.Set("Origin", s.opts.Origin)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return Upload{}, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Upload{}, fmt.Errorf("%w: %s: %s", ErrUploadFailed, resp.Status, string(body))
	}

	var up Upload
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return Upload{}, fmt.Errorf("decode upload response: %w", err)
	}
	return up, nil
}
