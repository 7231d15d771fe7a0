//go:build headless

package speaker

import (
	"go.uber.org/zap"

	"github.com/satindergrewal/looper/internal/stream"
)

// Player is a stand-in for builds without a sound device.
type Player struct{}

// Start logs that the speaker is unavailable and returns a no-op player.
func Start(_ *stream.Broadcaster, logger *zap.Logger) (*Player, error) {
	logger.Warn("Speaker output unavailable in headless build")
	return &Player{}, nil
}

func (p *Player) Close() error { return nil }
