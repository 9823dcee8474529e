// Package varint implements the LEB128-style variable-length integer codec
// used for NodeKey and RecordPageKey fields in the on-disk page layout
// (SPEC_FULL.md §6). It is a direct translation of the bit-shifting
// continuation scheme in UnorderedKeyValuePage.java's Utils.getVarLong/
// putVarLong — every byte carries 7 payload bits plus a continuation bit
// in the MSB, least-significant group first.
package varint

import "io"

const (
	continuationBit = 0x80
	payloadMask     = 0x7f
)

// PutUvarint appends the varint encoding of v to dst and returns the
// extended slice.
func PutUvarint(dst []byte, v uint64) []byte {
	for v >= continuationBit {
		dst = append(dst, byte(v)|continuationBit)
		v >>= 7
	}
	return append(dst, byte(v))
}

// ReadUvarintBytes decodes a varint directly from a byte slice, returning
// the decoded value and the number of bytes consumed. Used by page codecs
// that already hold the whole page in memory and want to avoid wrapping it
// in a bytes.Reader just to satisfy io.ByteReader.
func ReadUvarintBytes(src []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i, b := range src {
		if shift >= 64 {
			return 0, 0, io.ErrShortBuffer
		}
		result |= uint64(b&payloadMask) << shift
		if b&continuationBit == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, io.ErrUnexpectedEOF
}

// ReadUvarint decodes a varint from r. It returns io.ErrUnexpectedEOF if the
// stream ends mid-sequence and an error if the encoding overflows 64 bits.
func ReadUvarint(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && shift > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if shift >= 64 {
			return 0, io.ErrShortBuffer
		}
		result |= uint64(b&payloadMask) << shift
		if b&continuationBit == 0 {
			return result, nil
		}
		shift += 7
	}
}
