package effect

import (
	"math"
	"testing"

	"github.com/satindergrewal/looper/internal/audio"
)

// --- Curve ---

func TestCurveLength(t *testing.T) {
	if got := len(MakeDistortionCurve(DefaultAmount)); got != CurveSamples {
		t.Errorf("len(curve) = %d, want %d", got, CurveSamples)
	}
}

func TestCurveCentreIsZeroForZeroAmount(t *testing.T) {
	curve := MakeDistortionCurve(0)
	if v := curve[CurveSamples/2]; math.Abs(v) > 1e-12 {
		t.Errorf("curve[N/2] = %v, want ~0", v)
	}
}

func TestCurveIsOddSymmetric(t *testing.T) {
	for _, amount := range []float64{0, 1, 50, 100, 400} {
		curve := MakeDistortionCurve(amount)
		// x(N-i) = -x(i), so curve[N-i] must equal -curve[i].
		for i := 1; i < CurveSamples; i += 97 {
			a, b := curve[i], curve[CurveSamples-i]
			if math.Abs(a+b) > 1e-9 {
				t.Fatalf("amount %v: curve[%d]=%v, curve[%d]=%v not odd", amount, i, a, CurveSamples-i, b)
			}
		}
	}
}

func TestCurveMatchesFormula(t *testing.T) {
	curve := MakeDistortionCurve(100)
	i := 33075 // x = 0.5
	x := float64(i)*2/CurveSamples - 1
	want := (103 * x * 20 * math.Pi / 180) / (math.Pi + 100*math.Abs(x))
	if math.Abs(curve[i]-want) > 1e-12 {
		t.Errorf("curve[%d] = %v, want %v", i, curve[i], want)
	}
}

func TestShapeClampsAndInterpolates(t *testing.T) {
	curve := []float64{-1, 0, 1}
	tests := []struct {
		x, want float64
	}{
		{-2, -1},
		{-1, -1},
		{-0.5, -0.5},
		{0, 0},
		{0.25, 0.25},
		{1, 1},
		{3, 1},
	}
	for _, tt := range tests {
		if got := shape(curve, tt.x); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("shape(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

// --- Waveshaper ---

func TestWaveshaperIdentityCurve(t *testing.T) {
	w, err := NewWaveshaper([]float64{-1, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	frame := []int16{0, 16384, -16384, 8192}
	got := w.Process(frame)
	for i, v := range frame {
		if d := int(got[i]) - int(v); d > 1 || d < -1 {
			t.Errorf("sample %d = %d, want %d", i, got[i], v)
		}
	}
}

func TestWaveshaperOversampledFrameShape(t *testing.T) {
	w, err := NewWaveshaper(MakeDistortionCurve(DefaultAmount), 4)
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]int16, audio.FrameSamples)
	for i := range frame {
		frame[i] = int16(20000 * math.Sin(float64(i/2)*2*math.Pi*440/audio.SampleRate))
	}
	limit := int16(32768 / 2) // curve peak for amount 100 is ~0.349, plus filter ripple
	for n := 0; n < 5; n++ {
		out := w.Process(frame)
		if len(out) != len(frame) {
			t.Fatalf("frame %d: len = %d, want %d", n, len(out), len(frame))
		}
		for i, v := range out {
			if v > limit || v < -limit {
				t.Fatalf("frame %d sample %d = %d exceeds curve range", n, i, v)
			}
		}
	}
}

func TestWaveshaperRejectsBadOversample(t *testing.T) {
	if _, err := NewWaveshaper(MakeDistortionCurve(0), 3); err == nil {
		t.Error("oversample 3 should be rejected")
	}
	if _, err := NewWaveshaper([]float64{1}, 1); err == nil {
		t.Error("single-point curve should be rejected")
	}
}

// --- Chain ---

type fakeSource struct {
	routes []audio.Processor
}

func (f *fakeSource) Route(p audio.Processor) { f.routes = append(f.routes, p) }

func (f *fakeSource) current() audio.Processor {
	if len(f.routes) == 0 {
		return nil
	}
	return f.routes[len(f.routes)-1]
}

func TestEnableIsIdempotent(t *testing.T) {
	c := NewChain(1)
	var events []bool
	c.Subscribe(func(on bool) { events = append(events, on) })

	src := &fakeSource{}
	c.Route(src)

	if ok, err := c.Enable(DefaultAmount); !ok || err != nil {
		t.Fatalf("first Enable = %v, %v", ok, err)
	}
	node := c.Node()
	if ok, _ := c.Enable(DefaultAmount); ok {
		t.Error("second Enable should be a no-op")
	}
	if c.Node() != node {
		t.Error("second Enable replaced the node")
	}
	if src.current() != node {
		t.Error("active source not wired through the node")
	}
	if len(events) != 1 || !events[0] {
		t.Errorf("events = %v, want [true]", events)
	}
}

func TestDisableWhenDisabledIsNoop(t *testing.T) {
	c := NewChain(1)
	src := &fakeSource{}
	c.Route(src)
	routes := len(src.routes)

	if c.Disable() {
		t.Error("Disable on a disabled chain should report false")
	}
	if len(src.routes) != routes {
		t.Error("no-op Disable rewired the source")
	}
}

func TestDisableReconnectsDirectly(t *testing.T) {
	c := NewChain(1)
	src := &fakeSource{}
	c.Route(src)
	c.Enable(DefaultAmount)

	if !c.Disable() {
		t.Fatal("Disable should report true")
	}
	if c.Enabled() {
		t.Error("chain still enabled")
	}
	if src.current() != nil {
		t.Error("source should be routed straight to output")
	}
}

func TestRouteMovesNodeToNewSource(t *testing.T) {
	c := NewChain(1)
	c.Enable(DefaultAmount)
	first, second := &fakeSource{}, &fakeSource{}

	c.Route(first)
	if first.current() != c.Node() {
		t.Fatal("first source not routed through node")
	}
	c.Route(second)
	if second.current() != c.Node() {
		t.Error("second source not routed through node")
	}
	if first.current() != nil {
		t.Error("node still attached to previous source")
	}
}

func TestDetachStopsRewiring(t *testing.T) {
	c := NewChain(1)
	src := &fakeSource{}
	c.Route(src)
	c.Detach(src)
	routes := len(src.routes)

	c.Enable(DefaultAmount)
	if len(src.routes) != routes {
		t.Error("detached source was rewired")
	}
}

// --- Oversampler ---

func TestLowpassKernel(t *testing.T) {
	h := lowpass(64, 0.45/4)
	var sum float64
	for i, v := range h {
		sum += v
		if d := math.Abs(v - h[len(h)-1-i]); d > 1e-15 {
			t.Fatalf("kernel not symmetric at %d", i)
		}
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("kernel DC gain = %v, want 1", sum)
	}
}

func TestOversamplerPassesDC(t *testing.T) {
	for _, factor := range []int{2, 4} {
		o := newOversampler(factor)
		in := make([]float64, 256)
		for i := range in {
			in[i] = 0.5
		}
		out := make([]float64, len(in))
		o.process(in, out, func(x float64) float64 { return x })
		if got := out[len(out)-1]; math.Abs(got-0.5) > 5e-3 {
			t.Errorf("factor %d: settled DC = %v, want 0.5", factor, got)
		}
	}
}

func TestOversamplerKeepsToneLevel(t *testing.T) {
	o := newOversampler(4)
	n := 4800
	in := make([]float64, n)
	for i := range in {
		in[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate)
	}
	out := make([]float64, n)
	o.process(in, out, func(x float64) float64 { return x })

	rms := func(s []float64) float64 {
		var acc float64
		for _, v := range s {
			acc += v * v
		}
		return math.Sqrt(acc / float64(len(s)))
	}
	// skip the filter warm-up
	if a, b := rms(in[100:]), rms(out[100:]); math.Abs(a-b)/a > 0.02 {
		t.Errorf("rms in = %v, out = %v", a, b)
	}
}

func TestWaveshaperResetClearsHistory(t *testing.T) {
	w, _ := NewWaveshaper([]float64{-1, 1}, 2)
	loud := make([]int16, audio.FrameSamples)
	for i := range loud {
		loud[i] = 20000
	}
	w.Process(loud)
	w.Reset()
	out := w.Process(make([]int16, audio.FrameSamples))
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %d after reset, want 0", i, v)
		}
	}
}
