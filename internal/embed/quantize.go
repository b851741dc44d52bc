package embed

import "math"

// QuantizeInt8 maps a float64 vector to int8 with a single scale factor:
// scale = max(|v|)/127, or 1.0 for the all-zero vector. Each component is
// rounded to the nearest int8 within [-128, 127].
func QuantizeInt8(vec []float64) ([]int8, float64) {
	maxAbs := 0.0
	for _, v := range vec {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	scale := 1.0
	if maxAbs > 0 {
		scale = maxAbs / 127
	}

	q := make([]int8, len(vec))
	for i, v := range vec {
		r := math.Round(v / scale)
		if r > 127 {
			r = 127
		}
		if r < -128 {
			r = -128
		}
		q[i] = int8(r)
	}
	return q, scale
}

// DequantizeInt8 inverts QuantizeInt8: v = int8 * scale.
func DequantizeInt8(q []int8, scale float64) []float64 {
	vec := make([]float64, len(q))
	for i, v := range q {
		vec[i] = float64(v) * scale
	}
	return vec
}
