package packet

import "math"

// Position packing used for volatile updates. Values are stored relative to
// the observer. Adding 2 to the magnitude puts every value in [2, 512) so the
// exponent has a fixed top bit and only its low 3 bits need to travel.

// PackXZ stores x and z in 24 bits: per axis 1 sign bit, 3 exponent bits and
// 8 mantissa bits (rounded). Magnitudes past about 510 saturate.
func PackXZ(x, z float32) [3]byte {
	xb := math.Float32bits(offset2(x))
	zb := math.Float32bits(offset2(z))

	var data uint32
	if xb&0x7c000000 != 0x40000000 || xb&0x3ffc000 == 0x3ffc000 {
		data |= 0x7ff000
	}
	if zb&0x7c000000 != 0x40000000 || zb&0x3ffc000 == 0x3ffc000 {
		data |= 0x0007ff
	}
	data |= ((xb >> 3) & 0x7ff000) + ((xb & 0x4000) >> 2)
	data |= ((zb >> 15) & 0x0007ff) + ((zb & 0x4000) >> 14)
	data &= 0x7ff7ff
	data |= (xb >> 8) & 0x800000
	data |= (zb >> 20) & 0x000800
	return [3]byte{byte(data >> 16), byte(data >> 8), byte(data)}
}

func UnpackXZ(p [3]byte) (x, z float32) {
	data := uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
	x = math.Float32frombits(0x40000000|(data&0x7ff000)<<3) - 2
	z = math.Float32frombits(0x40000000|(data&0x0007ff)<<15) - 2
	x = math.Float32frombits(math.Float32bits(x) | (data&0x800000)<<8)
	z = math.Float32frombits(math.Float32bits(z) | (data&0x000800)<<20)
	return x, z
}

// PackY stores y in 16 bits: 1 sign bit, 4 exponent bits, 11 mantissa bits.
func PackY(y float32) uint16 {
	yb := math.Float32bits(offset2(y))
	data := uint16((yb >> 12) & 0x7fff)
	data |= uint16((yb >> 16) & 0x8000)
	return data
}

func UnpackY(data uint16) float32 {
	y := math.Float32frombits(0x40000000|uint32(data&0x7fff)<<12) - 2
	return math.Float32frombits(math.Float32bits(y) | uint32(data&0x8000)<<16)
}

// AngleToInt8 maps [-π, π] onto [-128, 127]; π wraps to -128.
func AngleToInt8(v float32) int8 {
	if v >= 0 {
		return int8(int32(math.Floor(float64(v)*128/math.Pi + 0.5)))
	}
	return -int8(int32(math.Floor(float64(-v)*128/math.Pi + 0.5)))
}

func Int8ToAngle(v int8) float32 {
	return float32(float64(v) * math.Pi / 128)
}

func offset2(v float32) float32 {
	if math.Signbit(float64(v)) {
		return v - 2
	}
	return v + 2
}
