// Package bits provides bit-field helpers used by the decoder and the
// memory-mapped register file.
//
// All helpers operate on 32-bit words. Bit ranges are validated: start must
// lie in [0, 32) and count in [1, 32-start]. An invalid range is a
// programming error and panics.
package bits

import "fmt"

// Width is the number of bits in a word handled by this package.
const Width = 32

func checkBit(bit int) {
	if bit < 0 || bit >= Width {
		panic(fmt.Sprintf("bits: bit %d out of range [0, %d)", bit, Width))
	}
}

func checkRange(start, count int) {
	checkBit(start)
	if count < 1 || count > Width-start {
		panic(fmt.Sprintf("bits: count %d out of range [1, %d] for start %d",
			count, Width-start, start))
	}
}

func mask(count int) uint32 {
	if count == Width {
		return 0xFFFFFFFF
	}
	return (uint32(1) << count) - 1
}

// Extract returns count bits of v starting at bit start, shifted down to
// bit 0.
func Extract(v uint32, start, count int) uint32 {
	checkRange(start, count)
	return (v >> start) & mask(count)
}

// Insert replaces count bits of v starting at bit start with the low bits
// of field.
func Insert(v, field uint32, start, count int) uint32 {
	checkRange(start, count)
	m := mask(count) << start
	return (v &^ m) | ((field << start) & m)
}

// Set returns v with the given bit set.
func Set(v uint32, bit int) uint32 {
	checkBit(bit)
	return v | uint32(1)<<bit
}

// Clear returns v with the given bit cleared.
func Clear(v uint32, bit int) uint32 {
	checkBit(bit)
	return v &^ (uint32(1) << bit)
}

// Toggle returns v with the given bit flipped.
func Toggle(v uint32, bit int) uint32 {
	checkBit(bit)
	return v ^ uint32(1)<<bit
}

// Check reports whether the given bit of v is set.
func Check(v uint32, bit int) bool {
	checkBit(bit)
	return v&(uint32(1)<<bit) != 0
}

// SignExtend interprets the low count bits of v as a two's complement
// number and returns it widened to 32 bits.
func SignExtend(v uint32, count int) int32 {
	checkRange(0, count)
	shift := Width - count
	return int32(v<<shift) >> shift
}
