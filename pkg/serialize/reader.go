package serialize

import (
	"fmt"
)

// Reader consumes a byte slice front to back. Returned slices alias the
// underlying buffer.
type Reader struct {
	bytes []byte
	rpos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{
		bytes: data,
	}
}

func (r *Reader) Read(n int) ([]byte, error) {
	if n < 0 || r.rpos+n > len(r.bytes) {
		return nil, fmt.Errorf("short read: want %d bytes, have %d", n, r.Remaining())
	}
	bs := r.bytes[r.rpos : r.rpos+n]
	r.rpos += n
	return bs, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.bytes) - r.rpos
}
