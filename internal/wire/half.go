package wire

import "math"

// halfFromFloat converts to IEEE 754 binary16, rounding to nearest even.
func halfFromFloat(f float64) uint16 {
	bits := math.Float32bits(float32(f))
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23) & 0xff
	mant := bits & 0x7fffff

	switch {
	case exp == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp-127 > 15:
		return sign | 0x7c00
	case exp-127 >= -14:
		e := uint16(exp-127+15) << 10
		m := uint16(mant >> 13)
		h := sign | e | m
		round := mant & 0x1fff
		if round > 0x1000 || (round == 0x1000 && m&1 == 1) {
			h++
		}
		return h
	case exp-127 >= -25:
		mant |= 0x800000
		shift := uint32(-(exp - 127) - 14 + 13)
		m := uint16(mant >> shift)
		rem := mant & (1<<shift - 1)
		half := uint32(1) << (shift - 1)
		if rem > half || (rem == half && m&1 == 1) {
			m++
		}
		return sign | m
	default:
		return sign
	}
}

func floatFromHalf(h uint16) float64 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0x1f:
		return float64(math.Float32frombits(sign | 0x7f800000 | mant<<13))
	case exp == 0:
		if mant == 0 {
			return float64(math.Float32frombits(sign))
		}
		f := float64(mant) / 1024 * math.Pow(2, -14)
		if sign != 0 {
			f = -f
		}
		return f
	default:
		return float64(math.Float32frombits(sign | (exp+112)<<23 | mant<<13))
	}
}
