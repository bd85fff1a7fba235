package response

import (
	"bytes"
	"errors"
	"io"
)

// ErrBodyClosed is returned when reading a closed body.
var ErrBodyClosed = errors.New("response body closed")

// Body is an in-memory, seekable response body.
type Body struct {
	r      *bytes.Reader
	size   int64
	closed bool
}

// NewBody wraps data. The slice is not copied.
func NewBody(data []byte) *Body {
	return &Body{r: bytes.NewReader(data), size: int64(len(data))}
}

// Read implements io.Reader.
func (b *Body) Read(p []byte) (int, error) {
	if b.closed {
		return 0, ErrBodyClosed
	}
	return b.r.Read(p)
}

// Seek implements io.Seeker.
func (b *Body) Seek(offset int64, whence int) (int64, error) {
	if b.closed {
		return 0, ErrBodyClosed
	}
	return b.r.Seek(offset, whence)
}

// Rewind seeks back to the start.
func (b *Body) Rewind() error {
	_, err := b.Seek(0, io.SeekStart)
	return err
}

// Size returns the total body length.
func (b *Body) Size() int64 {
	return b.size
}

// EOF reports whether the whole body has been read.
func (b *Body) EOF() bool {
	return b.r.Len() == 0
}

// Close implements io.Closer.
func (b *Body) Close() error {
	b.closed = true
	return nil
}
