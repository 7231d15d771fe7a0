package audio

// Processor is an effect node spliced between a bus and the output.
type Processor interface {
	Process(frame []int16) []int16
}

// Voice is one started buffer source.
type Voice interface {
	// Done is closed when the voice ends naturally or is stopped.
	Done() <-chan struct{}
	Stop()
}

// Bus sums its voices and feeds the output, optionally through a Processor.
type Bus interface {
	Play(buf *Buffer) Voice
	// Route connects the bus to the output through p, or directly when p is nil.
	Route(p Processor)
	// Close force-stops every voice and disconnects the bus. Safe to call twice.
	Close()
}

// Output is the single audio destination shared by playback and monitoring.
type Output interface {
	NewBus() Bus
	Suspend()
	Resume()
}
