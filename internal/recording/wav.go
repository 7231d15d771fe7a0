package recording

import (
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/blobstore"
)

// WAVSink stores takes as 16-bit stereo WAV files in the clip directory.
type WAVSink struct {
	store *blobstore.FileStore
}

// NewWAVSink creates a sink writing into store.
func NewWAVSink(store *blobstore.FileStore) *WAVSink {
	return &WAVSink{store: store}
}

// SaveTake encodes samples and returns the new blob reference.
func (s *WAVSink) SaveTake(samples []int16) (string, error) {
	ref, f, err := s.store.Create(".wav")
	if err != nil {
		return "", err
	}

	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	enc := wav.NewEncoder(f, audio.SampleRate, audio.BitDepth, audio.Channels, 1)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: audio.Channels, SampleRate: audio.SampleRate},
		Data:           data,
		SourceBitDepth: audio.BitDepth,
	})
	if err == nil {
		err = enc.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.store.Delete(ref)
		return "", fmt.Errorf("encode wav: %w", err)
	}
	return ref, nil
}
