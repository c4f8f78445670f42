package binary

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReader_sub(t *testing.T) {
	r := newReader([]byte{0x01, 0x02, 0x03, 0x04})
	_, err := r.readByte()
	require.NoError(t, err)

	s, err := r.sub(2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.offset())
	require.Equal(t, 2, s.remaining())
	require.Equal(t, uint64(3), r.offset())

	b, err := s.readByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x02), b)
	require.EqualError(t, s.ensureEnd("test"), "test size mismatch: 1 bytes left")

	// The sub-reader never reads past its end.
	_, err = s.take(2)
	require.Error(t, err)

	_, err = r.sub(2)
	require.EqualError(t, err, "unexpected end: 2 bytes needed, 1 remaining")
}

func TestReader_readNumbers(t *testing.T) {
	r := newReader([]byte{
		0xe5, 0x8e, 0x26, // u32 624485
		0x7f,                               // s32 -1
		0x40,                               // s33 -64
		0x80, 0x80, 0x80, 0x80, 0x80, 0x01, // u64 1<<35
		0x00, 0x00, 0x80, 0x3f, // f32 1.0
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0x7f, // f64 +Inf
	})
	u32, err := r.readU32()
	require.NoError(t, err)
	require.Equal(t, uint32(624485), u32)

	s32, err := r.readS32()
	require.NoError(t, err)
	require.Equal(t, int32(-1), s32)

	s33, err := r.readS33()
	require.NoError(t, err)
	require.Equal(t, int64(-64), s33)

	u64, err := r.readU64()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<35), u64)

	f32, err := r.readF32()
	require.NoError(t, err)
	require.Equal(t, float32(1.0), f32)

	f64, err := r.readF64()
	require.NoError(t, err)
	require.True(t, math.IsInf(f64, 1))

	_, err = r.readByte()
	require.True(t, errors.Is(err, errUnexpectedEnd))
}

func TestReader_readName(t *testing.T) {
	r := newReader([]byte{0x03, 'a', 0xc3, 0xa9, 0x02, 0xc3, 0x28})
	name, err := r.readName()
	require.NoError(t, err)
	require.Equal(t, "aé", name)

	_, err = r.readName()
	require.EqualError(t, err, "malformed UTF-8 encoding")
	var oe *offsetError
	require.True(t, errors.As(err, &oe))
	require.Equal(t, uint64(4), oe.offset)
}

func TestReader_readVec(t *testing.T) {
	t.Run("decodes lazily", func(t *testing.T) {
		r := newReader([]byte{0x03, 0x01, 0xff, 0x02})
		var seen []byte
		_, err := r.readVec(func(i uint32) error {
			b, err := r.readByte()
			if err != nil {
				return err
			}
			if b == 0xff {
				return r.errorf("bad element %d", i)
			}
			seen = append(seen, b)
			return nil
		})
		require.EqualError(t, err, "bad element 1")
		require.Equal(t, []byte{0x01}, seen)
	})

	t.Run("count larger than input", func(t *testing.T) {
		r := newReader([]byte{0x05, 0x01})
		_, err := r.readVec(func(uint32) error { return nil })
		require.EqualError(t, err, "unexpected end: vector of 5 elements exceeds remaining 1 bytes")
	})
}
