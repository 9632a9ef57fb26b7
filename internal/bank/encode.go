// internal/bank/encode.go
package bank

import (
	"math"

	"github.com/tamzrod/modsim/internal/schema"
)

// encodeWords converts a scaled value into big-endian wire words:
// high word first for 32-bit types, two's complement for signed,
// IEEE-754 bit pattern for float32. Integer types use banker's
// rounding; values outside the type's range are clamped to its
// bounds rather than wrapped.
func encodeWords(t schema.NumericType, scale, scaled float64) []uint16 {
	raw := scaled * scale
	if math.IsNaN(raw) {
		raw = 0
	}
	min, max := t.Bounds()

	if t == schema.F32 {
		if raw < min {
			raw = min
		} else if raw > max {
			raw = max
		}
		bits := math.Float32bits(float32(raw))
		return []uint16{uint16(bits >> 16), uint16(bits)}
	}

	r := math.RoundToEven(raw)
	if r < min {
		r = min
	} else if r > max {
		r = max
	}

	switch t {
	case schema.U16:
		return []uint16{uint16(r)}
	case schema.I16:
		return []uint16{uint16(int16(r))}
	case schema.U32:
		v := uint32(r)
		return []uint16{uint16(v >> 16), uint16(v)}
	default: // I32
		v := uint32(int32(r))
		return []uint16{uint16(v >> 16), uint16(v)}
	}
}

// decodeWords is the inverse mapping, back into the scaled domain.
func decodeWords(t schema.NumericType, scale float64, words []uint16) float64 {
	switch t {
	case schema.U16:
		return float64(words[0]) / scale
	case schema.I16:
		return float64(int16(words[0])) / scale
	case schema.U32:
		return float64(uint32(words[0])<<16|uint32(words[1])) / scale
	case schema.I32:
		return float64(int32(uint32(words[0])<<16|uint32(words[1]))) / scale
	default: // F32
		return float64(math.Float32frombits(uint32(words[0])<<16|uint32(words[1]))) / scale
	}
}

// clampScaled bounds a scaled value to the register's representable
// range and, for writables, to the declared min/max.
func clampScaled(s *schema.Spec, v float64) float64 {
	min, max := s.Type.Bounds()
	lo, hi := min/s.Scale, max/s.Scale
	if v < lo {
		v = lo
	} else if v > hi {
		v = hi
	}
	if s.Min != nil && v < *s.Min {
		v = *s.Min
	}
	if s.Max != nil && v > *s.Max {
		v = *s.Max
	}
	return v
}
