// Package bitset implements the fixed-size bit vector used to mark which
// slots of a record page are populated (SPEC_FULL.md §6: "bitset
// slot_bits (NDP_NODE_COUNT bits)"). Serialization format: a big-endian
// uint32 word count prefix followed by that many little-endian uint64 words,
// mirroring SerializationType.serializeBitSet/deserializeBitSet in the
// Java original, which likewise writes a word count ahead of the raw
// words of java.util.BitSet.
package bitset

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Set is a fixed-capacity bit vector.
type Set struct {
	words []uint64
	n     int // capacity in bits
}

// New allocates a Set with room for n bits, all initially clear.
func New(n int) *Set {
	return &Set{words: make([]uint64, (n+63)/64), n: n}
}

// Cap returns the bit capacity the set was created with.
func (s *Set) Cap() int { return s.n }

// SetBit marks bit i as present.
func (s *Set) SetBit(i int) {
	s.words[i/64] |= 1 << uint(i%64)
}

// IsSet reports whether bit i is present.
func (s *Set) IsSet(i int) bool {
	return s.words[i/64]&(1<<uint(i%64)) != 0
}

// NextSet returns the index of the first set bit at or after from, or -1 if
// none remain. Mirrors java.util.BitSet#nextSetBit used while walking the
// entries bitmap in document order during deserialization.
func (s *Set) NextSet(from int) int {
	if from < 0 {
		from = 0
	}
	wordIdx := from / 64
	if wordIdx >= len(s.words) {
		return -1
	}
	// Mask off bits before 'from' in the first word.
	w := s.words[wordIdx] &^ (uint64(1)<<uint(from%64) - 1)
	for {
		if w != 0 {
			return wordIdx*64 + bits.TrailingZeros64(w)
		}
		wordIdx++
		if wordIdx >= len(s.words) {
			return -1
		}
		w = s.words[wordIdx]
	}
}

// Count returns the number of set bits.
func (s *Set) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Serialize writes the word-count prefix followed by the little-endian
// words to dst and returns the extended slice.
func (s *Set) Serialize(dst []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s.words)))
	dst = append(dst, lenBuf[:]...)
	var wordBuf [8]byte
	for _, w := range s.words {
		binary.LittleEndian.PutUint64(wordBuf[:], w)
		dst = append(dst, wordBuf[:]...)
	}
	return dst
}

// Deserialize reads a Set previously written by Serialize from src,
// returning the number of bytes consumed. capBits is the bit capacity to
// allocate the resulting Set with (NDPNodeCount in this package's callers).
func Deserialize(src []byte, capBits int) (*Set, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("bitset: truncated length prefix")
	}
	wordCount := int(binary.BigEndian.Uint32(src[:4]))
	if wordCount < 0 || 4+wordCount*8 > len(src) {
		return nil, 0, fmt.Errorf("bitset: truncated word data (want %d words)", wordCount)
	}
	s := New(capBits)
	if wordCount > len(s.words) {
		return nil, 0, fmt.Errorf("bitset: word count %d exceeds capacity %d", wordCount, len(s.words))
	}
	off := 4
	for i := 0; i < wordCount; i++ {
		s.words[i] = binary.LittleEndian.Uint64(src[off : off+8])
		off += 8
	}
	return s, off, nil
}
