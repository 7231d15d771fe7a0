// Package mixer renders playback buses and live input into a real-time
// stream of PCM frames.
package mixer

import (
	"context"
	"sync"
	"time"

	"github.com/satindergrewal/looper/internal/audio"
)

// Mixer is the session's single audio output. Run paces rendering at one
// frame per FrameDuration.
type Mixer struct {
	frameCh chan []int16

	mu        sync.Mutex
	buses     map[*Bus]struct{}
	monitors  map[*monitor]struct{}
	suspended bool
	rendered  int64
}

type monitor struct {
	in <-chan []int16
}

// Stats is a snapshot of the mixer state.
type Stats struct {
	Buses     int           `json:"buses"`
	Voices    int           `json:"voices"`
	Monitors  int           `json:"monitors"`
	Suspended bool          `json:"suspended"`
	Rendered  time.Duration `json:"rendered"`
}

// New creates an idle mixer.
func New() *Mixer {
	return &Mixer{
		frameCh:  make(chan []int16, 100),
		buses:    make(map[*Bus]struct{}),
		monitors: make(map[*monitor]struct{}),
	}
}

// Frames returns the channel of rendered PCM frames (20ms each).
func (m *Mixer) Frames() <-chan []int16 {
	return m.frameCh
}

// NewBus creates a summing bus connected directly to the output.
func (m *Mixer) NewBus() audio.Bus {
	b := &Bus{m: m}
	m.mu.Lock()
	m.buses[b] = struct{}{}
	m.mu.Unlock()
	return b
}

// Suspend freezes every voice and renders silence until Resume.
func (m *Mixer) Suspend() {
	m.mu.Lock()
	m.suspended = true
	m.mu.Unlock()
}

// Resume continues rendering after Suspend.
func (m *Mixer) Resume() {
	m.mu.Lock()
	m.suspended = false
	m.mu.Unlock()
}

// Suspended reports whether output is suspended.
func (m *Mixer) Suspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended
}

// Monitor sums frames from in straight into the output, at most one per
// rendered frame and without blocking. detach removes the path.
func (m *Mixer) Monitor(in <-chan []int16) (detach func()) {
	mon := &monitor{in: in}
	m.mu.Lock()
	m.monitors[mon] = struct{}{}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.monitors, mon)
		m.mu.Unlock()
	}
}

// Stats returns current counts.
func (m *Mixer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Buses:     len(m.buses),
		Monitors:  len(m.monitors),
		Suspended: m.suspended,
		Rendered:  time.Duration(m.rendered) * audio.FrameDuration,
	}
	for b := range m.buses {
		s.Voices += len(b.voices)
	}
	return s
}

// Run renders frames at real-time rate. Blocks until ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) {
	defer close(m.frameCh)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := m.Render()
		select {
		case m.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Render produces the next output frame and advances every voice by one
// frame. Voices that run out end naturally.
func (m *Mixer) Render() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rendered++
	if m.suspended {
		return audio.Silence()
	}

	acc := make([]int32, audio.FrameSamples)
	for b := range m.buses {
		if len(b.voices) == 0 {
			continue
		}
		mixBus(acc, b)
	}

	for mon := range m.monitors {
		select {
		case frame, ok := <-mon.in:
			if ok {
				n := min(len(frame), audio.FrameSamples)
				audio.MixInto(acc[:n], frame[:n])
			}
		default:
		}
	}

	return audio.Clamp(acc)
}

// mixBus renders one frame of b into acc. Must be called with the mixer lock held.
func mixBus(acc []int32, b *Bus) {
	busAcc := make([]int32, audio.FrameSamples)
	kept := b.voices[:0]
	for _, v := range b.voices {
		audio.MixInto(busAcc, v.buf.Frame(v.pos))
		v.pos++
		if v.pos >= v.buf.Frames() {
			v.finish()
			continue
		}
		kept = append(kept, v)
	}
	b.voices = kept

	frame := audio.Clamp(busAcc)
	if b.fx != nil {
		frame = b.fx.Process(frame)
	}
	audio.MixInto(acc, frame)
}
