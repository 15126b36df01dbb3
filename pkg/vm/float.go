package vm

import "math"

// x20 registers hold the IEEE-754 bit pattern of a float32 for the
// *F instructions; these two helpers convert to/from the float
// domain for the duration of one arithmetic op. They are exported so
// that CLI front-ends (cmd/testvm) can format or parse a raw memory
// word as a float the same way the core interpreter does.

func bitsToFloat32(bits int32) float32 {
	return BitsToFloat32(bits)
}

func float32ToBits(f float32) int32 {
	return Float32ToBits(f)
}

// BitsToFloat32 reinterprets a register/memory word as an IEEE-754
// float32.
func BitsToFloat32(bits int32) float32 {
	return math.Float32frombits(uint32(bits))
}

// Float32ToBits reinterprets a float32 as the register/memory word
// holding its IEEE-754 bit pattern.
func Float32ToBits(f float32) int32 {
	return int32(math.Float32bits(f))
}
