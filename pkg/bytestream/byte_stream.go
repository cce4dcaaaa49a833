// Package bytestream implements a bounded, in-memory byte pipe with a single
// producer view (Writer) and a single consumer view (Reader).
//
// Nothing here blocks. A full stream truncates pushes, an empty one returns
// nothing, and back-pressure is visible only through AvailableCapacity.
package bytestream

import (
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by Writer.Write after Close.
	ErrClosed = errors.New("bytestream: write to closed stream")
	// ErrFull is returned by Writer.Write when only part of the input fit.
	ErrFull = errors.New("bytestream: stream at capacity")
)

// ByteStream is a fixed-capacity FIFO of bytes.
type ByteStream struct {
	capacity uint64
	buf      []byte

	bytesPushed uint64
	bytesPopped uint64
	closed      bool
	err         bool

	writer Writer
	reader Reader
}

// Writer is the producer side of a ByteStream.
type Writer struct {
	s *ByteStream
}

// Reader is the consumer side of a ByteStream.
type Reader struct {
	s *ByteStream
}

// New creates a stream holding at most capacity unread bytes.
func New(capacity uint64) *ByteStream {
	s := &ByteStream{capacity: capacity}
	s.writer.s = s
	s.reader.s = s
	return s
}

// Writer returns the stream's only Writer.
func (s *ByteStream) Writer() *Writer { return &s.writer }

// Reader returns the stream's only Reader.
func (s *ByteStream) Reader() *Reader { return &s.reader }

// Capacity returns the capacity the stream was created with.
func (s *ByteStream) Capacity() uint64 { return s.capacity }

func (s *ByteStream) available() uint64 {
	return s.capacity - uint64(len(s.buf))
}

// Push appends as much of data as fits. The rest is dropped. Pushing to a
// closed stream does nothing.
func (w *Writer) Push(data []byte) {
	w.push(data)
}

func (w *Writer) push(data []byte) int {
	s := w.s
	if s.closed {
		return 0
	}
	n := min(uint64(len(data)), s.available())
	s.buf = append(s.buf, data[:n]...)
	s.bytesPushed += n
	return int(n)
}

// Write implements io.Writer on top of Push. A short write reports ErrFull,
// or ErrClosed if the stream no longer accepts data.
func (w *Writer) Write(p []byte) (int, error) {
	if w.s.closed {
		return 0, ErrClosed
	}
	n := w.push(p)
	if n < len(p) {
		return n, ErrFull
	}
	return n, nil
}

// Close signals that no more bytes will be pushed.
func (w *Writer) Close() { w.s.closed = true }

// IsClosed reports whether Close has been called.
func (w *Writer) IsClosed() bool { return w.s.closed }

// AvailableCapacity is how many more bytes Push would accept right now.
func (w *Writer) AvailableCapacity() uint64 { return w.s.available() }

// BytesPushed is the total number of bytes ever accepted.
func (w *Writer) BytesPushed() uint64 { return w.s.bytesPushed }

// SetError marks the stream as terminated abnormally.
func (w *Writer) SetError() { w.s.err = true }

// HasError reports whether SetError was called on either view.
func (w *Writer) HasError() bool { return w.s.err }

// Peek returns the buffered bytes without consuming them. The slice is only
// valid until the next Push or Pop.
func (r *Reader) Peek() []byte { return r.s.buf }

// Pop discards up to n bytes from the front of the stream.
func (r *Reader) Pop(n uint64) {
	s := r.s
	n = min(n, uint64(len(s.buf)))
	s.buf = s.buf[n:]
	s.bytesPopped += n
	if len(s.buf) == 0 {
		s.buf = nil
	}
}

// Read implements io.Reader. It never blocks: with nothing buffered it
// returns 0, nil, or io.EOF once the stream is finished.
func (r *Reader) Read(p []byte) (int, error) {
	if r.IsFinished() {
		return 0, io.EOF
	}
	n := copy(p, r.s.buf)
	r.Pop(uint64(n))
	return n, nil
}

// IsFinished reports whether the stream is closed and fully drained.
func (r *Reader) IsFinished() bool { return r.s.closed && len(r.s.buf) == 0 }

// IsClosed reports whether the writer has closed the stream.
func (r *Reader) IsClosed() bool { return r.s.closed }

// BytesBuffered is the number of bytes pushed but not yet popped.
func (r *Reader) BytesBuffered() uint64 { return uint64(len(r.s.buf)) }

// BytesPopped is the total number of bytes ever popped.
func (r *Reader) BytesPopped() uint64 { return r.s.bytesPopped }

// SetError marks the stream as terminated abnormally.
func (r *Reader) SetError() { r.s.err = true }

// HasError reports whether SetError was called on either view.
func (r *Reader) HasError() bool { return r.s.err }
