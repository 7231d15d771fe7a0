// Package playback drives clip playback: single clips, the continuous
// overlapped loop over the whole list, and previews.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/clips"
	"github.com/satindergrewal/looper/internal/effect"
)

// ErrRecording is returned for playback requests made while recording.
var ErrRecording = errors.New("playback unavailable while recording")

// Decoder turns a clip reference into a playable buffer.
type Decoder interface {
	Decode(ctx context.Context, ref string) (*audio.Buffer, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimer replaces time.After for the duration-bound stop of an
// overlapped pass.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(o *Orchestrator) { o.after = after }
}

// WithDecodeWorkers bounds concurrent decodes during an overlapped pass.
func WithDecodeWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// Orchestrator owns the playback/record mode state machine. Every command
// returns immediately; playback runs on its own goroutine. Mode and run
// generation are checked under the lock before anything is started, so a
// run that was cancelled while it decoded never reaches the output.
type Orchestrator struct {
	store   *clips.Store
	dec     Decoder
	out     audio.Output
	fx      *effect.Chain
	logger  *zap.Logger
	after   func(time.Duration) <-chan time.Time
	workers int

	mu         sync.Mutex
	mode       Mode
	continuous bool
	gen        uint64
	cancel     context.CancelFunc
	observers  []func(Mode)

	previewCtx    context.Context
	previewCancel context.CancelFunc

	wg sync.WaitGroup
}

// New creates an idle orchestrator.
func New(store *clips.Store, dec Decoder, out audio.Output, fx *effect.Chain, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		dec:     dec,
		out:     out,
		fx:      fx,
		logger:  logger,
		after:   time.After,
		workers: 4,
	}
	o.previewCtx, o.previewCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers fn for mode changes. Observers run with the
// orchestrator locked and must not call back into it.
func (o *Orchestrator) Subscribe(fn func(Mode)) {
	o.mu.Lock()
	o.observers = append(o.observers, fn)
	o.mu.Unlock()
}

// Mode returns the current mode.
func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// Continuous reports whether the overlapped loop restarts after each pass.
func (o *Orchestrator) Continuous() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.continuous
}

// Toggle is the play/pause command. From Idle with clips it starts the
// continuous loop from the first clip. While playing it suspends the output,
// stops every source, clears the continuous flag and removes the distortion.
func (o *Orchestrator) Toggle() {
	o.mu.Lock()
	switch {
	case o.mode == Recording:
		o.mu.Unlock()
		return
	case o.mode.Playing():
		o.continuous = false
		o.cancelLocked()
		o.setModeLocked(Idle)
		// Under mu so a command that starts playback next cannot be undone.
		o.out.Suspend()
		o.fx.Disable()
		o.mu.Unlock()

		o.logger.Info("Playback paused")
		return
	}
	o.mu.Unlock()

	o.PlaySequential()
}

// PlaySequential starts the continuous loop: overlapped passes over the
// whole list, repeated while the continuous flag stays set. It reports false
// when something already drives the output or there are no clips.
func (o *Orchestrator) PlaySequential() bool {
	if o.store.Len() == 0 {
		return false
	}

	o.mu.Lock()
	if o.mode != Idle {
		o.mu.Unlock()
		return false
	}
	o.continuous = true
	ctx, gen := o.beginLocked(PlayingSequential)
	o.mu.Unlock()

	o.out.Resume()
	o.logger.Info("Continuous playback started", zap.Int("clips", o.store.Len()))
	o.goRun(func() { o.runSequential(ctx, gen) })
	return true
}

// PlaySimultaneous runs a single overlapped pass over the list. It reports
// false, without starting anything, when the list is empty or recording is
// in progress.
func (o *Orchestrator) PlaySimultaneous() bool {
	if o.store.Len() == 0 {
		return false
	}

	o.mu.Lock()
	if o.mode == Recording {
		o.mu.Unlock()
		return false
	}
	ctx, gen := o.beginLocked(PlayingSimultaneous)
	o.mu.Unlock()

	o.out.Resume()
	o.goRun(func() {
		o.playAll(ctx, gen)
		o.finish(gen)
	})
	return true
}

// PlaySingle plays clip i alone. When it ends naturally and the continuous
// flag is set, the overlapped loop takes over from the first clip.
func (o *Orchestrator) PlaySingle(i int) error {
	clip, err := o.store.At(i)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.mode == Recording {
		o.mu.Unlock()
		return ErrRecording
	}
	ctx, gen := o.beginLocked(PlayingSingle)
	o.mu.Unlock()

	o.out.Resume()
	o.goRun(func() { o.runSingle(ctx, gen, clip) })
	return nil
}

// PlayRealtime previews clip i on its own bus, straight to the output. The
// mode and the effect routing are left alone.
func (o *Orchestrator) PlayRealtime(i int) error {
	clip, err := o.store.At(i)
	if err != nil {
		return err
	}

	o.mu.Lock()
	ctx := o.previewCtx
	o.mu.Unlock()

	o.out.Resume()
	o.goRun(func() {
		buf := o.load(ctx, clip.Ref)
		if buf == nil || ctx.Err() != nil {
			return
		}
		bus := o.out.NewBus()
		defer bus.Close()
		v := bus.Play(buf)
		select {
		case <-v.Done():
		case <-ctx.Done():
		}
	})
	return nil
}

// Stop cancels all playback and previews and returns to Idle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.continuous = false
	o.cancelLocked()
	o.previewCancel()
	o.previewCtx, o.previewCancel = context.WithCancel(context.Background())
	if o.mode != Recording {
		o.setModeLocked(Idle)
	}
	o.mu.Unlock()
}

// BeginRecording switches to Recording, cancelling any playback. It reports
// false if a recording is already in progress.
func (o *Orchestrator) BeginRecording() bool {
	o.mu.Lock()
	if o.mode == Recording {
		o.mu.Unlock()
		return false
	}
	o.continuous = false
	o.cancelLocked()
	o.setModeLocked(Recording)
	o.mu.Unlock()

	o.out.Resume()
	return true
}

// EndRecording leaves Recording for Idle.
func (o *Orchestrator) EndRecording() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mode == Recording {
		o.setModeLocked(Idle)
	}
}

// Close stops everything and waits for playback goroutines to exit.
func (o *Orchestrator) Close() {
	o.Stop()
	o.mu.Lock()
	o.previewCancel()
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) runSingle(ctx context.Context, gen uint64, clip clips.Clip) {
	buf := o.load(ctx, clip.Ref)
	if buf == nil {
		o.finish(gen)
		return
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	bus := o.out.NewBus()
	o.fx.Route(bus)
	v := bus.Play(buf)
	o.mu.Unlock()

	o.store.SetPlayingByID(clip.ID, true)
	o.logger.Info("Now playing", zap.Int("clip", clip.Index), zap.Duration("duration", buf.Duration()))

	select {
	case <-v.Done():
	case <-ctx.Done():
	}
	natural := ctx.Err() == nil
	bus.Close()
	o.fx.Detach(bus)
	o.store.SetPlayingByID(clip.ID, false)
	if !natural {
		return
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	if !o.continuous {
		o.endLocked()
		o.mu.Unlock()
		return
	}
	o.setModeLocked(PlayingSequential)
	o.mu.Unlock()

	o.runSequential(ctx, gen)
}

func (o *Orchestrator) runSequential(ctx context.Context, gen uint64) {
	for {
		started := o.playAll(ctx, gen)

		o.mu.Lock()
		if o.gen != gen {
			o.mu.Unlock()
			return
		}
		if !o.continuous || !started || ctx.Err() != nil || o.store.Len() == 0 {
			o.continuous = false
			o.endLocked()
			o.mu.Unlock()
			o.logger.Info("Continuous playback finished")
			return
		}
		o.mu.Unlock()
	}
}

// playAll decodes every clip concurrently, starts every buffer that decoded
// at time zero on one bus, and force-stops them all once the longest has had
// time to finish. The timer is the only completion path, so a pass completes
// exactly once. It reports whether any source was started.
func (o *Orchestrator) playAll(ctx context.Context, gen uint64) bool {
	list := o.store.List()
	if len(list) == 0 {
		return false
	}

	bufs := make([]*audio.Buffer, len(list))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, c := range list {
		g.Go(func() error {
			bufs[i] = o.load(ctx, c.Ref)
			return nil
		})
	}
	g.Wait()

	o.mu.Lock()
	if o.gen != gen || ctx.Err() != nil {
		o.mu.Unlock()
		return false
	}
	var (
		bus     audio.Bus
		longest time.Duration
		started []clips.Clip
	)
	for i, buf := range bufs {
		if buf == nil {
			continue
		}
		if bus == nil {
			bus = o.out.NewBus()
			o.fx.Route(bus)
		}
		bus.Play(buf)
		started = append(started, list[i])
		longest = max(longest, buf.Duration())
	}
	o.mu.Unlock()

	if bus == nil {
		o.logger.Warn("No clip could be decoded", zap.Int("clips", len(list)))
		return false
	}

	for _, c := range started {
		o.store.SetPlayingByID(c.ID, true)
	}
	o.logger.Debug("Overlapped pass started", zap.Int("sources", len(started)), zap.Duration("longest", longest))

	select {
	case <-o.after(longest):
	case <-ctx.Done():
	}
	bus.Close()
	o.fx.Detach(bus)

	for _, c := range started {
		o.store.SetPlayingByID(c.ID, false)
	}
	return true
}

// load decodes ref, logging and swallowing failures.
func (o *Orchestrator) load(ctx context.Context, ref string) *audio.Buffer {
	buf, err := o.dec.Decode(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		o.logger.Warn("Clip skipped", zap.String("ref", ref), zap.Error(err))
		return nil
	}
	return buf
}

// finish returns to Idle if run gen is still the active one.
func (o *Orchestrator) finish(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen == gen {
		o.endLocked()
	}
}

func (o *Orchestrator) goRun(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// beginLocked cancels the active run and starts a new one in mode.
// Must be called with mu held.
func (o *Orchestrator) beginLocked(mode Mode) (context.Context, uint64) {
	o.cancelLocked()
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.setModeLocked(mode)
	return ctx, o.gen
}

// cancelLocked cancels the active run and invalidates its generation.
// Must be called with mu held.
func (o *Orchestrator) cancelLocked() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.gen++
}

// endLocked releases the finished run and returns to Idle. Must be called with mu held.
func (o *Orchestrator) endLocked() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.setModeLocked(Idle)
}

// setModeLocked must be called with mu held.
func (o *Orchestrator) setModeLocked(m Mode) {
	if o.mode == m {
		return
	}
	o.mode = m
	for _, fn := range o.observers {
		fn(m)
	}
}
