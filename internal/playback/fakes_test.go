package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/clips"
	"github.com/satindergrewal/looper/internal/effect"
)

// fakeOutput records the graph built by the orchestrator.
type fakeOutput struct {
	mu        sync.Mutex
	buses     []*fakeBus
	suspended bool
}

func (f *fakeOutput) NewBus() audio.Bus {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &fakeBus{}
	f.buses = append(f.buses, b)
	return b
}

func (f *fakeOutput) Suspend() {
	f.mu.Lock()
	f.suspended = true
	f.mu.Unlock()
}

func (f *fakeOutput) Resume() {
	f.mu.Lock()
	f.suspended = false
	f.mu.Unlock()
}

func (f *fakeOutput) isSuspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

func (f *fakeOutput) busCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buses)
}

func (f *fakeOutput) bus(i int) *fakeBus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buses[i]
}

type fakeBus struct {
	mu     sync.Mutex
	voices []*fakeVoice
	fx     audio.Processor
	closed bool
}

func (b *fakeBus) Play(buf *audio.Buffer) audio.Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := &fakeVoice{buf: buf, done: make(chan struct{})}
	b.voices = append(b.voices, v)
	return v
}

func (b *fakeBus) Route(p audio.Processor) {
	b.mu.Lock()
	b.fx = p
	b.mu.Unlock()
}

func (b *fakeBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, v := range b.voices {
		v.Stop()
	}
}

func (b *fakeBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *fakeBus) routed() audio.Processor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fx
}

func (b *fakeBus) voiceList() []*fakeVoice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeVoice(nil), b.voices...)
}

type fakeVoice struct {
	buf     *audio.Buffer
	mu      sync.Mutex
	stopped bool
	ended   bool
	done    chan struct{}
}

func (v *fakeVoice) Done() <-chan struct{} { return v.done }

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped || v.ended {
		v.stopped = true
		return
	}
	v.stopped = true
	close(v.done)
}

// end simulates the buffer running out.
func (v *fakeVoice) end() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ended || v.stopped {
		return
	}
	v.ended = true
	close(v.done)
}

func (v *fakeVoice) wasStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// fakeDecoder maps refs to durations; refs listed in fail return an error.
// A non-nil gate blocks every decode until it is closed.
type fakeDecoder struct {
	durations map[string]time.Duration
	gate      chan struct{}
}

func (d *fakeDecoder) Decode(ctx context.Context, ref string) (*audio.Buffer, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	dur, ok := d.durations[ref]
	if !ok {
		return nil, &audio.DecodeError{Ref: ref, Err: errors.New("bad data")}
	}
	n := int(dur.Seconds()*audio.SampleRate) * audio.Channels
	return &audio.Buffer{Samples: make([]int16, n)}, nil
}

// fakeTimer hands every requested duration to the test, which fires it.
type fakeTimer struct {
	requests chan timerRequest
}

type timerRequest struct {
	d    time.Duration
	fire chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{requests: make(chan timerRequest, 16)}
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.requests <- timerRequest{d: d, fire: ch}
	return ch
}

func (f *fakeTimer) next(t *testing.T) timerRequest {
	t.Helper()
	select {
	case r := <-f.requests:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a playback timer")
		return timerRequest{}
	}
}

type harness struct {
	store *clips.Store
	out   *fakeOutput
	dec   *fakeDecoder
	timer *fakeTimer
	fx    *effect.Chain
	logs  *observer.ObservedLogs
	o     *Orchestrator
}

func newHarness(t *testing.T, durations ...time.Duration) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	h := &harness{
		store: clips.NewStore(),
		out:   &fakeOutput{},
		dec:   &fakeDecoder{durations: map[string]time.Duration{}},
		timer: newFakeTimer(),
		fx:    effect.NewChain(1),
		logs:  logs,
	}
	for i, d := range durations {
		ref := string(rune('a' + i))
		h.store.Append(ref)
		if d > 0 {
			h.dec.durations[ref] = d
		}
	}
	h.o = New(h.store, h.dec, h.out, h.fx, zap.New(core), WithTimer(h.timer.After))
	t.Cleanup(h.o.Close)
	return h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitMode(t *testing.T, want Mode) {
	t.Helper()
	eventually(t, "mode "+want.String(), func() bool { return h.o.Mode() == want })
}

// gatedOutput blocks Suspend until release is closed, reporting each entry
// on entered.
type gatedOutput struct {
	*fakeOutput
	entered chan struct{}
	release chan struct{}
}

func newGatedOutput() *gatedOutput {
	return &gatedOutput{
		fakeOutput: &fakeOutput{},
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
}

func (g *gatedOutput) Suspend() {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	g.fakeOutput.Suspend()
}
