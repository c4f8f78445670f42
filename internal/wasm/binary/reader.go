package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/tetratelabs/stitch/internal/leb128"
)

// ErrInvalidByte is wrapped by errors about a byte that is not a valid tag at its position.
var ErrInvalidByte = errors.New("invalid byte")

var errUnexpectedEnd = errors.New("unexpected end")

// offsetError is an error located at an absolute position of the binary.
type offsetError struct {
	offset uint64
	err    error
}

func (e *offsetError) Error() string {
	return e.err.Error()
}

func (e *offsetError) Unwrap() error {
	return e.err
}

// reader is a cursor over the bytes [pos, end) of a binary. Positions are absolute, so a sub-reader reports the
// same offsets as its parent.
type reader struct {
	buf      []byte
	pos, end int
}

func newReader(b []byte) *reader {
	return &reader{buf: b, end: len(b)}
}

// offset is the absolute position of the next byte.
func (r *reader) offset() uint64 {
	return uint64(r.pos)
}

// remaining is the count of unread bytes.
func (r *reader) remaining() int {
	return r.end - r.pos
}

func (r *reader) errorf(format string, args ...interface{}) error {
	return &offsetError{offset: r.offset(), err: fmt.Errorf(format, args...)}
}

func (r *reader) wrap(err error) error {
	return &offsetError{offset: r.offset(), err: err}
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= r.end {
		return 0, r.wrap(errUnexpectedEnd)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// peekByte returns the next byte without consuming it.
func (r *reader) peekByte() (byte, error) {
	if r.pos >= r.end {
		return 0, r.wrap(errUnexpectedEnd)
	}
	return r.buf[r.pos], nil
}

// take consumes the next n bytes, returning them without copying.
func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, r.wrap(errUnexpectedEnd)
	}
	b := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// sub consumes the next n bytes and returns a reader over them.
func (r *reader) sub(n uint32) (*reader, error) {
	if uint64(n) > uint64(r.remaining()) {
		return nil, r.errorf("%w: %d bytes needed, %d remaining", errUnexpectedEnd, n, r.remaining())
	}
	s := &reader{buf: r.buf, pos: r.pos, end: r.pos + int(n)}
	r.pos += int(n)
	return s, nil
}

// leb consumes a LEB128 value decoded by load, which sees only the bytes of this reader.
func (r *reader) leb(load func([]byte) (uint64, uint64, error)) (uint64, error) {
	v, n, err := load(r.buf[r.pos:r.end])
	if err != nil {
		return 0, r.wrap(err)
	}
	r.pos += int(n)
	return v, nil
}

func (r *reader) readU32() (uint32, error) {
	v, err := r.leb(func(b []byte) (uint64, uint64, error) {
		v, n, err := leb128.LoadUint32(b)
		return uint64(v), n, err
	})
	return uint32(v), err
}

func (r *reader) readS32() (int32, error) {
	v, err := r.leb(func(b []byte) (uint64, uint64, error) {
		v, n, err := leb128.LoadInt32(b)
		return uint64(v), n, err
	})
	return int32(v), err
}

func (r *reader) readS33() (int64, error) {
	v, err := r.leb(func(b []byte) (uint64, uint64, error) {
		v, n, err := leb128.LoadInt33AsInt64(b)
		return uint64(v), n, err
	})
	return int64(v), err
}

func (r *reader) readU64() (uint64, error) {
	return r.leb(leb128.LoadUint64)
}

func (r *reader) readS64() (int64, error) {
	v, err := r.leb(func(b []byte) (uint64, uint64, error) {
		v, n, err := leb128.LoadInt64(b)
		return uint64(v), n, err
	})
	return int64(v), err
}

func (r *reader) readF32() (float32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (r *reader) readF64() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// readBytes consumes a length-prefixed byte vector.
func (r *reader) readBytes() ([]byte, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.remaining()) {
		return nil, r.errorf("%w: length %d exceeds remaining %d bytes", errUnexpectedEnd, n, r.remaining())
	}
	return r.take(int(n))
}

// readName consumes a length-prefixed UTF-8 string.
func (r *reader) readName() (string, error) {
	start := r.offset()
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", &offsetError{offset: start, err: errors.New("malformed UTF-8 encoding")}
	}
	return string(b), nil
}

// readVec consumes a length-prefixed vector, calling each for every element in order. Elements are decoded as they
// are reached, so a malformed element stops the iteration without decoding the rest.
func (r *reader) readVec(each func(i uint32) error) (uint32, error) {
	n, err := r.readU32()
	if err != nil {
		return 0, err
	}
	// Every element takes at least one byte.
	if uint64(n) > uint64(r.remaining()) {
		return 0, r.errorf("%w: vector of %d elements exceeds remaining %d bytes", errUnexpectedEnd, n, r.remaining())
	}
	for i := uint32(0); i < n; i++ {
		if err = each(i); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// ensureEnd fails unless every byte was consumed.
func (r *reader) ensureEnd(what string) error {
	if r.pos != r.end {
		return r.errorf("%s size mismatch: %d bytes left", what, r.remaining())
	}
	return nil
}
