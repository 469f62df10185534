// Package vecmath holds the single-precision vector loops shared by the CPU
// kernels.
package vecmath

import "github.com/chewxy/math32"

// Dot computes the dot product of a and b over len(a) elements.
func Dot(a, b []float32) float32 {
	var sum float32
	i := 0
	for ; i <= len(a)-4; i += 4 {
		sum += a[i] * b[i]
		sum += a[i+1] * b[i+1]
		sum += a[i+2] * b[i+2]
		sum += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// AddScaled performs dst += src * scale.
func AddScaled(dst, src []float32, scale float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * scale
		dst[i+1] += src[i+1] * scale
		dst[i+2] += src[i+2] * scale
		dst[i+3] += src[i+3] * scale
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * scale
	}
}

// SumSquares returns Σ x².
func SumSquares(x []float32) float32 {
	return Dot(x, x)
}

// Zero clears dst.
func Zero(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
}

// Sigmoid is 1/(1+e^-x).
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// SoftmaxMasked normalises row[:n] in place with the max subtracted for
// stability and zeroes row[n:]. When n is 0 the whole row is zeroed.
func SoftmaxMasked(row []float32, n int) {
	if n <= 0 {
		Zero(row)
		return
	}
	max := math32.Inf(-1)
	for _, v := range row[:n] {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i, v := range row[:n] {
		e := math32.Exp(v - max)
		row[i] = e
		sum += e
	}
	inv := 1 / sum
	for i := range row[:n] {
		row[i] *= inv
	}
	Zero(row[n:])
}
