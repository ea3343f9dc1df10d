// Package shortvec implements the compact-u16 length prefix used by the
// transaction wire format.
package shortvec

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// MaxEncodedLen is the longest valid encoding in bytes.
const MaxEncodedLen = 3

// ErrOverflow is returned for lengths outside the u16 range.
var ErrOverflow = errors.New("shortvec: length overflows u16")

// AppendLen appends the encoding of n to buf.
func AppendLen(buf []byte, n int) ([]byte, error) {
	if n < 0 || n > math.MaxUint16 {
		return buf, errors.Wrapf(ErrOverflow, "len %d", n)
	}
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(buf, b), nil
		}
		buf = append(buf, b|0x80)
	}
}

// EncodeLen writes the encoding of n to w.
func EncodeLen(w io.Writer, n int) (int, error) {
	buf, err := AppendLen(make([]byte, 0, MaxEncodedLen), n)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

// DecodeLen reads an encoded length from r.
func DecodeLen(r io.ByteReader) (int, error) {
	var val int
	for i := 0; i < MaxEncodedLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errors.Wrap(err, "shortvec: read")
		}
		val |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if val > math.MaxUint16 {
				return 0, ErrOverflow
			}
			return val, nil
		}
	}
	return 0, errors.Errorf("shortvec: encoding longer than %d bytes", MaxEncodedLen)
}
