package douki

import "math/bits"

// bitmask256 is a set of up to 256 value indices. Companions use it to track
// which values changed since they were last serialized.
type bitmask256 [4]uint64

// set enables the bit for the given value index.
func (m *bitmask256) set(bit uint8) {
	i := bit >> 6 // (bit / 64) to find the uint64 index
	o := bit & 63 // (bit % 64) to find the bit offset
	m[i] |= uint64(1) << uint64(o)
}

// unset disables the bit for the given value index.
func (m *bitmask256) unset(bit uint8) {
	i := bit >> 6
	o := bit & 63
	m[i] &= ^(uint64(1) << uint64(o))
}

// intersects checks if m and other share at least one set bit.
func (m bitmask256) intersects(other bitmask256) bool {
	return (m[0]&other[0]) != 0 ||
		(m[1]&other[1]) != 0 ||
		(m[2]&other[2]) != 0 ||
		(m[3]&other[3]) != 0
}

// isZero reports whether no bit is set.
func (m bitmask256) isZero() bool {
	return m[0]|m[1]|m[2]|m[3] == 0
}

// count is the number of set bits.
func (m bitmask256) count() int {
	return bits.OnesCount64(m[0]) + bits.OnesCount64(m[1]) + bits.OnesCount64(m[2]) + bits.OnesCount64(m[3])
}

// appendIndices appends the set bits to dst in ascending order.
func (m bitmask256) appendIndices(dst []uint8) []uint8 {
	for w, word := range m {
		for word != 0 {
			o := bits.TrailingZeros64(word)
			dst = append(dst, uint8(w<<6|o))
			word &= word - 1
		}
	}
	return dst
}
