// Package speaker plays the mixed output on the host sound device.
package speaker

import (
	"io"

	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/stream"
)

// reader turns a broadcaster listener into the little-endian byte stream the
// sound device pulls from. The device must never block, so an underrun is
// filled with silence.
type reader struct {
	l       *stream.Listener
	pending []byte
}

func (r *reader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			select {
			case f := <-r.l.C:
				r.pending = audio.SamplesToBytes(f)
			case <-r.l.Done():
				if n == 0 {
					return 0, io.EOF
				}
				return n, nil
			default:
				clear(p[n:])
				return len(p), nil
			}
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}
