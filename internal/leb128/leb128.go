package leb128

import "errors"

const (
	maxVarintLen32 = 5
	maxVarintLen33 = 5
	maxVarintLen64 = 10
)

var (
	errOverflow      = errors.New("integer representation too long")
	errTooLarge      = errors.New("integer too large")
	errUnexpectedEOF = errors.New("unexpected end of LEB128 input")
)

// EncodeInt32 encodes the signed value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt64(value int64) (buf []byte) {
	for {
		// Take 7 remaining low-order bits from the value into b.
		b := uint8(value & 0x7f)
		// Extract the sign bit.
		s := uint8(value & 0x40)
		value >>= 7

		// The encoding unsigned numbers is simpler as it only needs to check if the value is non-zero to tell if there
		// are more bits to encode. Signed is a little more complicated as you have to double-check the sign bit.
		// If either case, set the high-order bit to tell the reader there are more bytes in this int.
		if (value != -1 || s == 0) && (value != 0 || s != 0) {
			b |= 0x80
		}

		// Append b into the buffer
		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
	}
	return buf
}

// EncodeUint32 encodes the value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint64(value uint64) (buf []byte) {
	// This is effectively a do/while loop where we take 7 bits of the value and encode them until it is zero.
	for {
		// Take 7 remaining low-order bits from the value into b.
		b := uint8(value & 0x7f)
		value = value >> 7

		// If there are remaining bits, the value won't be zero: Set the high-
		// order bit to tell the reader there are more bytes in this uint.
		if value != 0 {
			b |= 0x80
		}

		// Append b into the buffer
		buf = append(buf, b)
		if b&0x80 == 0 {
			return buf
		}
	}
}

// LoadUint32 decodes an unsigned 32-bit value from the head of buf and returns it with the number of bytes read.
func LoadUint32(buf []byte) (ret uint32, bytesRead uint64, err error) {
	v, n, err := loadUnsigned(buf, 32, maxVarintLen32)
	return uint32(v), n, err
}

// LoadUint64 decodes an unsigned 64-bit value from the head of buf and returns it with the number of bytes read.
func LoadUint64(buf []byte) (ret uint64, bytesRead uint64, err error) {
	return loadUnsigned(buf, 64, maxVarintLen64)
}

// LoadInt32 decodes a signed 32-bit value from the head of buf and returns it with the number of bytes read.
func LoadInt32(buf []byte) (ret int32, bytesRead uint64, err error) {
	v, n, err := loadSigned(buf, 32, maxVarintLen32)
	return int32(v), n, err
}

// LoadInt33AsInt64 decodes a signed 33-bit value, the encoding of block types given by type index.
func LoadInt33AsInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	return loadSigned(buf, 33, maxVarintLen33)
}

// LoadInt64 decodes a signed 64-bit value from the head of buf and returns it with the number of bytes read.
func LoadInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	return loadSigned(buf, 64, maxVarintLen64)
}

func loadUnsigned(buf []byte, bits, maxLen uint) (uint64, uint64, error) {
	var ret uint64
	for i := uint(0); i < maxLen; i++ {
		if int(i) >= len(buf) {
			return 0, 0, errUnexpectedEOF
		}
		b := buf[i]
		if i == maxLen-1 {
			if b&0x80 != 0 {
				return 0, 0, errOverflow
			}
			// Only bits-7*i bits of the final byte carry the value.
			if b>>(bits-7*i) != 0 {
				return 0, 0, errTooLarge
			}
		}
		ret |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return ret, uint64(i + 1), nil
		}
	}
	return 0, 0, errOverflow
}

func loadSigned(buf []byte, bits, maxLen uint) (int64, uint64, error) {
	var ret int64
	var shift uint
	for i := uint(0); i < maxLen; i++ {
		if int(i) >= len(buf) {
			return 0, 0, errUnexpectedEOF
		}
		b := buf[i]
		if i == maxLen-1 {
			if b&0x80 != 0 {
				return 0, 0, errOverflow
			}
			// The unused high bits must all equal the sign bit of the value.
			rem := bits - 7*i
			upper := (b & 0x7f) >> (rem - 1)
			if upper != 0 && upper != 0x7f>>(rem-1) {
				return 0, 0, errTooLarge
			}
		}
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				ret |= -1 << shift
			}
			return ret, uint64(i + 1), nil
		}
	}
	return 0, 0, errOverflow
}

