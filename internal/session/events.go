package session

import "github.com/satindergrewal/looper/internal/clips"

// EventKind names what changed.
type EventKind string

const (
	EventClips  EventKind = "clips"
	EventMode   EventKind = "mode"
	EventEffect EventKind = "effect"
)

// Event is one state change pushed to the UI.
type Event struct {
	Kind       EventKind    `json:"kind"`
	Clips      []clips.Clip `json:"clips,omitempty"`
	Mode       string       `json:"mode,omitempty"`
	Distortion bool         `json:"distortion,omitempty"`
}

const eventBuffer = 32

// Subscribe returns a channel of session events. A subscriber that stops
// reading misses events; cancel closes the channel.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// publish may run under a component's lock, so it never blocks.
func (s *Session) publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
