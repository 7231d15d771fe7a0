package playback

import "fmt"

// Mode is the single active state of the session's output.
type Mode int

const (
	Idle Mode = iota
	PlayingSingle
	PlayingSequential
	PlayingSimultaneous
	Recording
)

var modeNames = [...]string{
	Idle:                "idle",
	PlayingSingle:       "playing_single",
	PlayingSequential:   "playing_sequential",
	PlayingSimultaneous: "playing_simultaneous",
	Recording:           "recording",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// Playing reports whether m is one of the playing modes.
func (m Mode) Playing() bool {
	return m == PlayingSingle || m == PlayingSequential || m == PlayingSimultaneous
}

// MarshalText encodes the mode name for JSON status payloads.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
