package effect

import (
	"sync"

	"github.com/satindergrewal/looper/internal/audio"
)

// Routable is a source whose connection to the output can be rewired.
type Routable interface {
	Route(p audio.Processor)
}

// Chain owns the single distortion slot. When enabled, the active source is
// wired source -> waveshaper -> output; otherwise source -> output. Wiring is
// not retroactive: every new source must be passed to Route.
type Chain struct {
	oversample int

	mu        sync.Mutex
	node      *Waveshaper
	active    Routable
	observers []func(bool)
}

// NewChain creates a disabled chain whose node will use the given oversampling.
func NewChain(oversample int) *Chain {
	return &Chain{oversample: oversample}
}

// Subscribe registers fn for enable/disable changes.
func (c *Chain) Subscribe(fn func(enabled bool)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Enable creates the distortion node for amount and splices it after the
// active source. It reports false if the effect was already enabled.
func (c *Chain) Enable(amount float64) (bool, error) {
	c.mu.Lock()
	if c.node != nil {
		c.mu.Unlock()
		return false, nil
	}
	node, err := NewWaveshaper(MakeDistortionCurve(amount), c.oversample)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	c.node = node
	if c.active != nil {
		c.active.Route(node)
	}
	fns := c.observers
	c.mu.Unlock()

	for _, fn := range fns {
		fn(true)
	}
	return true, nil
}

// Disable removes the node and reconnects the active source directly. It
// reports false if the effect was already disabled.
func (c *Chain) Disable() bool {
	c.mu.Lock()
	if c.node == nil {
		c.mu.Unlock()
		return false
	}
	c.node = nil
	if c.active != nil {
		c.active.Route(nil)
	}
	fns := c.observers
	c.mu.Unlock()

	for _, fn := range fns {
		fn(false)
	}
	return true
}

// Enabled reports whether the distortion node exists.
func (c *Chain) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node != nil
}

// Node returns the current node, or nil.
func (c *Chain) Node() *Waveshaper {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node
}

// Route makes src the active source and wires it according to the current
// effect state. A previous active source loses the node, which only ever
// follows one source.
func (c *Chain) Route(src Routable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active != src && c.node != nil {
		c.active.Route(nil)
	}
	c.active = src
	if c.node != nil {
		c.node.Reset()
		src.Route(c.node)
		return
	}
	src.Route(nil)
}

// Detach forgets src if it is the active source.
func (c *Chain) Detach(src Routable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == src {
		c.active = nil
	}
}
