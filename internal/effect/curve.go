// Package effect implements the waveshaping distortion that can be spliced
// between the active playback bus and the output.
package effect

import "math"

const (
	// CurveSamples is the resolution of the distortion transfer curve.
	CurveSamples = 44100
	// DefaultAmount is the distortion amount used when none is configured.
	DefaultAmount = 100
)

// MakeDistortionCurve builds the transfer curve for amount. Input amplitudes
// in [-1, 1] map linearly onto the curve's indices.
func MakeDistortionCurve(amount float64) []float64 {
	const deg = math.Pi / 180
	curve := make([]float64, CurveSamples)
	for i := range curve {
		x := float64(i)*2/CurveSamples - 1
		curve[i] = ((3 + amount) * x * 20 * deg) / (math.Pi + amount*math.Abs(x))
	}
	return curve
}

// shape looks x up on curve with linear interpolation, clamping outside [-1, 1].
func shape(curve []float64, x float64) float64 {
	n := len(curve)
	v := float64(n-1) / 2 * (x + 1)
	if v <= 0 {
		return curve[0]
	}
	if v >= float64(n-1) {
		return curve[n-1]
	}
	k := int(v)
	f := v - float64(k)
	return (1-f)*curve[k] + f*curve[k+1]
}
