//go:build !headless

package speaker

import (
	"fmt"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/stream"
)

// Player feeds the mixed output to the default sound device.
type Player struct {
	b      *stream.Broadcaster
	l      *stream.Listener
	player *oto.Player
	logger *zap.Logger
}

// Start opens the sound device and begins playing everything published on b.
func Start(b *stream.Broadcaster, logger *zap.Logger) (*Player, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   4 * audio.FrameDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("open sound device: %w", err)
	}
	<-ready

	l := b.Subscribe()
	p := &Player{
		b:      b,
		l:      l,
		player: ctx.NewPlayer(&reader{l: l}),
		logger: logger,
	}
	p.player.Play()
	logger.Info("Speaker output started")
	return p, nil
}

// Close stops playback and releases the listener.
func (p *Player) Close() error {
	p.b.Unsubscribe(p.l)
	err := p.player.Close()
	p.logger.Info("Speaker output stopped")
	return err
}
