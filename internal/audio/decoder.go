package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gopxl/beep/v2"
)

var (
	ErrFetch  = errors.New("clip fetch failed")
	ErrDecode = errors.New("clip decode failed")
)

// FetchError reports that a clip's bytes could not be retrieved.
type FetchError struct {
	Ref string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Ref, e.Err) }

func (e *FetchError) Unwrap() []error { return []error{ErrFetch, e.Err} }

// DecodeError reports that a clip's bytes are not playable audio.
type DecodeError struct {
	Ref string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Ref, e.Err) }

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// Fetcher retrieves the raw bytes behind a clip reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// ClipDecoder turns clip references into playable buffers. Nothing is cached:
// every call fetches and decodes again.
type ClipDecoder struct {
	fetcher Fetcher
	ffmpeg  string
}

// NewClipDecoder creates a decoder reading clip bytes through f.
func NewClipDecoder(f Fetcher) *ClipDecoder {
	return &ClipDecoder{fetcher: f, ffmpeg: "ffmpeg"}
}

// Decode fetches ref and decodes it to interleaved stereo PCM at SampleRate.
// Errors are *FetchError or *DecodeError.
func (d *ClipDecoder) Decode(ctx context.Context, ref string) (*Buffer, error) {
	data, err := d.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, &FetchError{Ref: ref, Err: err}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Ref: ref, Err: errors.New("empty clip")}
	}

	var samples []int16
	if isWAV(data) {
		samples, err = decodeWAV(data)
		if errors.Is(err, errUnsupportedWAV) {
			samples, err = d.decodeFFmpeg(ctx, data)
		}
	} else {
		samples, err = d.decodeFFmpeg(ctx, data)
	}
	if err != nil {
		return nil, &DecodeError{Ref: ref, Err: err}
	}
	if len(samples) < Channels {
		return nil, &DecodeError{Ref: ref, Err: errors.New("no audio samples")}
	}
	return &Buffer{Samples: samples}, nil
}

// decodeFFmpeg runs FFmpeg over stdin to decode any container it understands.
func (d *ClipDecoder) decodeFFmpeg(ctx context.Context, data []byte) ([]int16, error) {
	cmd := exec.CommandContext(ctx, d.ffmpeg,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}
	return BytesToSamples(out), nil
}

var errUnsupportedWAV = errors.New("unsupported wav encoding")

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// decodeWAV decodes integer PCM WAV data natively, converting channel count,
// bit depth and sample rate to the canonical format.
func decodeWAV(data []byte) ([]int16, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	if dec.WavAudioFormat != 1 {
		return nil, errUnsupportedWAV
	}
	depth := int(dec.BitDepth)
	if depth != 16 && depth != 24 && depth != 32 {
		return nil, errUnsupportedWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav pcm: %w", err)
	}
	return convertIntBuffer(buf, depth)
}

// resampleQuality is the beep interpolation order, good enough offline.
const resampleQuality = 6

func convertIntBuffer(buf *goaudio.IntBuffer, depth int) ([]int16, error) {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, errors.New("wav has no channel layout")
	}
	nch := buf.Format.NumChannels
	shift := depth - 16

	frames := make([][2]float64, len(buf.Data)/nch)
	for f := range frames {
		l := buf.Data[f*nch] >> shift
		r := l
		if nch > 1 {
			r = buf.Data[f*nch+1] >> shift
		}
		frames[f] = [2]float64{float64(l), float64(r)}
	}

	if rate := buf.Format.SampleRate; rate != SampleRate && rate > 0 {
		frames = resample(frames, rate)
	}

	out := make([]int16, len(frames)*Channels)
	for i, f := range frames {
		out[i*2] = saturate(f[0])
		out[i*2+1] = saturate(f[1])
	}
	return out, nil
}

// resample converts stereo frames at rate to SampleRate.
func resample(frames [][2]float64, rate int) [][2]float64 {
	pos := 0
	src := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= len(frames) {
			return 0, false
		}
		n := copy(samples, frames[pos:])
		pos += n
		return n, true
	})
	r := beep.Resample(resampleQuality, beep.SampleRate(rate), SampleRate, src)

	out := make([][2]float64, 0, len(frames)*SampleRate/rate+1)
	chunk := make([][2]float64, 1024)
	for {
		n, ok := r.Stream(chunk)
		out = append(out, chunk[:n]...)
		if !ok || n < len(chunk) {
			return out
		}
	}
}

func saturate(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples converts little-endian bytes to int16 samples. A trailing odd
// byte is dropped.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}
