// Package recording captures microphone input into new clips.
package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/clips"
	"github.com/satindergrewal/looper/internal/effect"
)

var (
	ErrBusy     = errors.New("recording already in progress")
	ErrNoDevice = errors.New("no input device")
	ErrAborted  = errors.New("recording aborted while opening the microphone")
)

// DeviceError reports that the microphone could not be opened.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("microphone: %v", e.Err) }

func (e *DeviceError) Unwrap() error { return e.Err }

// Input is a live capture stream of 20ms interleaved stereo frames.
type Input interface {
	Frames() <-chan []int16
	// Done is closed when the input ends, after Close or when the device goes away.
	Done() <-chan struct{}
	// Close releases the device.
	Close() error
}

// Microphone opens capture streams.
type Microphone interface {
	Open(ctx context.Context) (Input, error)
}

// Monitor routes live input straight to the output.
type Monitor interface {
	Monitor(in <-chan []int16) (detach func())
}

// Sink persists a finished take and returns its clip reference.
type Sink interface {
	SaveTake(samples []int16) (string, error)
}

// Player is the playback side of the record/play mode handshake.
type Player interface {
	BeginRecording() bool
	EndRecording()
	PlaySequential() bool
}

// Controller records takes. Only one take is in progress at a time.
type Controller struct {
	mic     Microphone
	monitor Monitor
	sink    Sink
	store   *clips.Store
	player  Player
	fx      *effect.Chain
	logger  *zap.Logger

	mu   sync.Mutex
	take *take
}

// take is reserved before the microphone opens; in is set, and opened
// closed, once Open returns.
type take struct {
	opened     chan struct{}
	cancelOpen context.CancelFunc

	in        Input
	samples   []int16
	monitorCh chan []int16
	detach    func()
	done      chan struct{}
	started   time.Time
}

// NewController wires a recording controller.
func NewController(mic Microphone, monitor Monitor, sink Sink, store *clips.Store, player Player, fx *effect.Chain, logger *zap.Logger) *Controller {
	return &Controller{
		mic:     mic,
		monitor: monitor,
		sink:    sink,
		store:   store,
		player:  player,
		fx:      fx,
		logger:  logger,
	}
}

// Recording reports whether a take is in progress.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.take != nil
}

// Toggle starts a take, or stops the one in progress.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.Recording() {
		_, _, err := c.Stop(ctx)
		return err
	}
	return c.Start(ctx)
}

// Start opens the microphone and begins a take with live monitoring. A
// device failure is logged and returned as *DeviceError; the session stays Idle.
// The take is reserved before the device is opened, so Stop or Abort during
// Open cancels it and Start returns ErrAborted.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.take != nil || !c.player.BeginRecording() {
		c.mu.Unlock()
		return ErrBusy
	}
	openCtx, cancel := context.WithCancel(ctx)
	t := &take{
		opened:     make(chan struct{}),
		cancelOpen: cancel,
		monitorCh:  make(chan []int16, 8),
		done:       make(chan struct{}),
	}
	c.take = t
	c.mu.Unlock()
	defer close(t.opened)

	in, err := c.mic.Open(openCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.take != t {
		// end() owns the teardown and the player handshake.
		if in != nil {
			in.Close()
		}
		return ErrAborted
	}
	if err != nil {
		c.take = nil
		cancel()
		c.player.EndRecording()
		c.logger.Error("Microphone unavailable", zap.Error(err))
		return &DeviceError{Err: err}
	}

	t.in = in
	t.started = time.Now()
	t.detach = c.monitor.Monitor(t.monitorCh)
	go c.capture(t)

	c.logger.Info("Recording started")
	return nil
}

// Stop finishes the take, appends it to the clip list and starts the
// continuous loop if nothing else is playing. ok is false when the take was
// empty and no clip was created.
func (c *Controller) Stop(ctx context.Context) (clip clips.Clip, ok bool, err error) {
	t := c.end()
	if t == nil {
		return clips.Clip{}, false, nil
	}
	c.fx.Disable()

	if len(t.samples) < audio.Channels {
		c.logger.Info("Empty take discarded")
		return clips.Clip{}, false, nil
	}

	ref, err := c.sink.SaveTake(t.samples)
	if err != nil {
		c.logger.Error("Saving take failed", zap.Error(err))
		return clips.Clip{}, false, fmt.Errorf("save take: %w", err)
	}

	clip = c.store.Append(ref)
	c.logger.Info("Recording saved",
		zap.Int("clip", clip.Index),
		zap.String("ref", ref),
		zap.Duration("length", (&audio.Buffer{Samples: t.samples}).Duration()),
	)

	c.player.PlaySequential()
	return clip, true, nil
}

// Abort drops the take in progress without saving it.
func (c *Controller) Abort() {
	if t := c.end(); t != nil {
		c.logger.Info("Recording aborted")
	}
}

// end tears down the take in progress: the device is released, capture has
// drained and the monitor path is gone when it returns.
func (c *Controller) end() *take {
	c.mu.Lock()
	t := c.take
	c.take = nil
	c.mu.Unlock()
	if t == nil {
		return nil
	}

	t.cancelOpen()
	<-t.opened
	if t.in == nil {
		c.player.EndRecording()
		return nil
	}

	if err := t.in.Close(); err != nil {
		c.logger.Warn("Closing microphone failed", zap.Error(err))
	}
	<-t.done
	t.detach()
	c.player.EndRecording()
	return t
}

func (c *Controller) capture(t *take) {
	defer close(t.done)
	frames := t.in.Frames()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			c.keep(t, f)
		case <-t.in.Done():
			for {
				select {
				case f, ok := <-frames:
					if !ok {
						return
					}
					c.keep(t, f)
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) keep(t *take, f []int16) {
	t.samples = append(t.samples, f...)
	select {
	case t.monitorCh <- f:
	default:
		// monitor behind, drop rather than stall capture
	}
}
