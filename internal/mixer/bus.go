package mixer

import (
	"sync"

	"github.com/satindergrewal/looper/internal/audio"
)

// Bus is a summing node owned by a Mixer.
type Bus struct {
	m      *Mixer
	voices []*voice
	fx     audio.Processor
	closed bool
}

// Play starts buf from its first frame on the next rendered frame.
func (b *Bus) Play(buf *audio.Buffer) audio.Voice {
	v := &voice{bus: b, buf: buf, done: make(chan struct{})}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	if b.closed || buf.Frames() == 0 {
		v.finish()
		return v
	}
	b.voices = append(b.voices, v)
	return v
}

// Route connects the bus through p, or directly when p is nil.
func (b *Bus) Route(p audio.Processor) {
	b.m.mu.Lock()
	b.fx = p
	b.m.mu.Unlock()
}

// Close stops every voice and removes the bus from the mixer.
func (b *Bus) Close() {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, v := range b.voices {
		v.finish()
	}
	b.voices = nil
	b.fx = nil
	delete(b.m.buses, b)
}

type voice struct {
	bus  *Bus
	buf  *audio.Buffer
	pos  int
	once sync.Once
	done chan struct{}
}

func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) Stop() {
	b := v.bus
	b.m.mu.Lock()
	for i, o := range b.voices {
		if o == v {
			b.voices = append(b.voices[:i], b.voices[i+1:]...)
			break
		}
	}
	b.m.mu.Unlock()
	v.finish()
}

func (v *voice) finish() {
	v.once.Do(func() { close(v.done) })
}
