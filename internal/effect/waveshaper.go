package effect

import (
	"fmt"
	"sync"

	"github.com/satindergrewal/looper/internal/audio"
)

// Waveshaper applies a transfer curve to every sample, optionally at an
// oversampled rate to keep the added harmonics from aliasing.
type Waveshaper struct {
	curve      []float64
	oversample int

	mu       sync.Mutex
	channels [audio.Channels]*oversampler
	in, out  []float64
}

// NewWaveshaper creates a node for curve. oversample of 1 disables
// oversampling; other values must be 2 or 4.
func NewWaveshaper(curve []float64, oversample int) (*Waveshaper, error) {
	if len(curve) < 2 {
		return nil, fmt.Errorf("waveshaper curve needs at least 2 points, got %d", len(curve))
	}
	if oversample <= 1 {
		return &Waveshaper{curve: curve, oversample: 1}, nil
	}
	if oversample != 2 && oversample != 4 {
		return nil, fmt.Errorf("oversample must be 1, 2 or 4: %d", oversample)
	}

	w := &Waveshaper{curve: curve, oversample: oversample}
	for ch := range w.channels {
		w.channels[ch] = newOversampler(oversample)
	}
	return w, nil
}

// Reset clears filter history, used when the node moves to a new source.
func (w *Waveshaper) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, st := range w.channels {
		if st != nil {
			st.reset()
		}
	}
}

// Process shapes one interleaved stereo frame.
func (w *Waveshaper) Process(frame []int16) []int16 {
	out := make([]int16, len(frame))
	if w.oversample == 1 {
		for i, s := range frame {
			out[i] = toPCM(shape(w.curve, float64(s)/32768))
		}
		return out
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(frame) / audio.Channels
	if cap(w.in) < n {
		w.in = make([]float64, n)
		w.out = make([]float64, n)
	}
	in, res := w.in[:n], w.out[:n]
	fn := func(x float64) float64 { return shape(w.curve, x) }
	for ch, st := range w.channels {
		for i := range in {
			in[i] = float64(frame[i*audio.Channels+ch]) / 32768
		}
		st.process(in, res, fn)
		for i, v := range res {
			out[i*audio.Channels+ch] = toPCM(v)
		}
	}
	return out
}

func toPCM(v float64) int16 {
	v *= 32768
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
