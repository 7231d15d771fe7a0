package effect

import "math"

// tapsPerPhase is the length of each polyphase branch of the anti-imaging
// and anti-aliasing filter.
const tapsPerPhase = 16

// oversampler runs a memoryless nonlinearity at factor times the input rate:
// zero-stuff and lowpass up, apply fn, lowpass and decimate back down. One
// instance carries the filter history of one channel across frames.
type oversampler struct {
	factor int
	kernel []float64 // unit DC gain, factor*tapsPerPhase taps
	up     []float64 // last tapsPerPhase input samples, newest first
	down   []float64 // last len(kernel) shaped samples, newest first
}

func newOversampler(factor int) *oversampler {
	k := lowpass(factor*tapsPerPhase, 0.45/float64(factor))
	return &oversampler{
		factor: factor,
		kernel: k,
		up:     make([]float64, tapsPerPhase),
		down:   make([]float64, len(k)),
	}
}

func (o *oversampler) reset() {
	clear(o.up)
	clear(o.down)
}

// process writes one output sample per input sample.
func (o *oversampler) process(in, out []float64, fn func(float64) float64) {
	gain := float64(o.factor)
	for i, x := range in {
		push(o.up, x)
		for p := 0; p < o.factor; p++ {
			var y float64
			for k, v := range o.up {
				y += o.kernel[p+k*o.factor] * v
			}
			push(o.down, fn(y*gain))
		}
		var d float64
		for k, v := range o.down {
			d += o.kernel[k] * v
		}
		out[i] = d
	}
}

func push(hist []float64, v float64) {
	copy(hist[1:], hist[:len(hist)-1])
	hist[0] = v
}

// lowpass designs a Blackman-windowed sinc with cutoff fc in cycles per
// sample, normalised to unit DC gain.
func lowpass(n int, fc float64) []float64 {
	h := make([]float64, n)
	mid := float64(n-1) / 2
	var sum float64
	for i := range h {
		t := float64(i) - mid
		s := 2 * fc
		if t != 0 {
			s = math.Sin(2*math.Pi*fc*t) / (math.Pi * t)
		}
		r := float64(i) / float64(n-1)
		w := 0.42 - 0.5*math.Cos(2*math.Pi*r) + 0.08*math.Cos(4*math.Pi*r)
		h[i] = s * w
		sum += h[i]
	}
	for i := range h {
		h[i] /= sum
	}
	return h
}
