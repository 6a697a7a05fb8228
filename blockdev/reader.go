package blockdev

import (
	"context"
	"io"
	"sync"
)

// Reader adapts a Window to io.Reader, io.ReaderAt, and io.Seeker for
// filesystem libraries that consume byte-addressed images. Partial
// sectors are staged through an internal buffer; the window below
// serializes against the device mutex.
type Reader struct {
	win  *Window
	size int64

	mu  sync.Mutex
	off int64
}

// NewReader creates a byte-addressed reader over the window.
func NewReader(w *Window) *Reader {
	return &Reader{
		win:  w,
		size: int64(w.SectorCount()) * int64(w.SectorSize()),
	}
}

// Size returns the window size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// ReadAt implements io.ReaderAt.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= r.size {
		return 0, io.EOF
	}

	want := int64(len(p))
	if off+want > r.size {
		want = r.size - off
	}
	if want == 0 {
		return 0, nil
	}

	ss := int64(r.win.SectorSize())
	first := off / ss
	last := (off + want - 1) / ss
	count := uint32(last - first + 1)

	buf := make([]byte, int64(count)*ss)
	if err := r.win.ReadSectors(context.Background(), uint64(first), count, buf); err != nil {
		return 0, err
	}

	n := copy(p, buf[off-first*ss:off-first*ss+want])
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	off := r.off
	r.mu.Unlock()

	n, err := r.ReadAt(p, off)

	r.mu.Lock()
	r.off = off + int64(n)
	r.mu.Unlock()
	return n, err
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.off + offset
	case io.SeekEnd:
		target = r.size + offset
	default:
		return 0, io.ErrUnexpectedEOF
	}
	if target < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.off = target
	return target, nil
}
