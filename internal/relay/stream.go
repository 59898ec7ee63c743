package relay

import (
	"errors"
	"io"
)

// startStream echoes filename back to connID as fileStream chunks followed by
// fileStreamComplete. The stream is abandoned if the file cannot be read, the
// connection goes away, or the relay stops.
func (r *Relay) startStream(connID, filename string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.stream(connID, filename); err != nil {
			r.log.Warn("File stream abandoned", "conn", connID, "file", filename, "error", err)
			return
		}
		r.log.Debug("File stream completed", "conn", connID, "file", filename)
	}()
}

func (r *Relay) stream(connID, filename string) error {
	f, err := r.files.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, r.opts.ChunkSize)
	for {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			frame, err := Encode(EventFileStream, buf[:n])
			if err != nil {
				return err
			}
			if err := r.push(connID, frame); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	frame, err := Encode(EventFileStreamComplete, nil)
	if err != nil {
		return err
	}
	return r.push(connID, frame)
}

// push hands one frame to the loop and waits for the delivery result.
func (r *Relay) push(connID string, frame []byte) error {
	result := make(chan bool, 1)
	select {
	case r.chunks <- streamChunk{conn: connID, frame: frame, result: result}:
	case <-r.ctx.Done():
		return ErrStopped
	}

	select {
	case ok := <-result:
		if !ok {
			return ErrStreamDropped
		}
		return nil
	case <-r.ctx.Done():
		return ErrStopped
	}
}
