// Package stream moves PCM between the looper and the network: the mixed
// output fans out to HTTP and WebRTC listeners, and a browser microphone
// comes in over WebRTC.
package stream

import (
	"context"
	"sync"
)

// listenerBuffer holds about three seconds of 20ms frames.
const listenerBuffer = 150

// Broadcaster fans PCM frames out to any number of listeners. A listener
// that falls behind loses frames; it never stalls the others.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives frames until it is unsubscribed.
type Listener struct {
	C    chan []int16
	done chan struct{}
}

// Done is closed once the listener has been removed from its broadcaster.
func (l *Listener) Done() <-chan struct{} { return l.done }

// NewBroadcaster creates a broadcaster with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[*Listener]struct{})}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes l and closes its Done channel. Repeated calls are
// harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// DropAll unsubscribes every listener, ending their streams.
func (b *Broadcaster) DropAll() {
	b.mu.Lock()
	old := b.listeners
	b.listeners = make(map[*Listener]struct{})
	b.mu.Unlock()
	for l := range old {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish delivers frame to every listener with room for it.
func (b *Broadcaster) Publish(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
		}
	}
}

// Run publishes frames from source until ctx is done or source closes.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.Publish(frame)
		}
	}
}
