package stream

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/recording"
)

// maxOpusFrame is the longest Opus packet duration (120ms) in samples per
// channel at 48kHz.
const maxOpusFrame = 5760

// Ingest receives a browser microphone over WebRTC and republishes it as
// 20ms frames. One microphone peer is active at a time; a new offer replaces
// the previous peer.
type Ingest struct {
	frames *Broadcaster
	logger *zap.Logger

	mu     sync.Mutex
	active *webrtc.PeerConnection
}

// NewIngest creates an ingest endpoint with no microphone attached.
func NewIngest(logger *zap.Logger) *Ingest {
	return &Ingest{frames: NewBroadcaster(), logger: logger}
}

// Connected reports whether a microphone peer is attached.
func (in *Ingest) Connected() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.active != nil
}

// Open subscribes to the live microphone.
func (in *Ingest) Open(context.Context) (recording.Input, error) {
	if !in.Connected() {
		return nil, recording.ErrNoDevice
	}
	return newMicInput(in.frames), nil
}

func (in *Ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	offer, ok := readOffer(w, r)
	if !ok {
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		http.Error(w, "add transceiver failed", http.StatusInternalServerError)
		return
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
			in.logger.Warn("Ignoring non-Opus microphone track", zap.String("codec", track.Codec().MimeType))
			return
		}
		in.logger.Info("Microphone track started")
		go in.readTrack(track)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if ended(s) {
			in.detach(pc)
		}
	})

	answer, err := negotiate(pc, offer)
	if err != nil {
		pc.Close()
		in.logger.Warn("Microphone negotiation failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	in.mu.Lock()
	prev := in.active
	in.active = pc
	in.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	in.logger.Info("Microphone connected")

	writeAnswer(w, answer)
}

func (in *Ingest) detach(pc *webrtc.PeerConnection) {
	in.mu.Lock()
	current := in.active == pc
	if current {
		in.active = nil
	}
	in.mu.Unlock()

	pc.Close()
	if current {
		in.frames.DropAll()
		in.logger.Info("Microphone disconnected")
	}
}

func (in *Ingest) readTrack(track *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		in.logger.Error("Opus decoder unavailable", zap.Error(err))
		return
	}

	pcm := make([]int16, maxOpusFrame*audio.Channels)
	var f framer
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			in.logger.Debug("Dropping undecodable packet", zap.Error(err))
			continue
		}
		f.push(pcm[:n*audio.Channels], in.frames.Publish)
	}
}

// framer regroups decoded PCM of any packet duration into 20ms frames.
type framer struct {
	pending []int16
}

func (f *framer) push(pcm []int16, emit func([]int16)) {
	f.pending = append(f.pending, pcm...)
	for len(f.pending) >= audio.FrameSamples {
		frame := make([]int16, audio.FrameSamples)
		copy(frame, f.pending)
		n := copy(f.pending, f.pending[audio.FrameSamples:])
		f.pending = f.pending[:n]
		emit(frame)
	}
}

// micInput is one recording's subscription to the microphone.
type micInput struct {
	b *Broadcaster
	l *Listener
}

func newMicInput(b *Broadcaster) *micInput {
	return &micInput{b: b, l: b.Subscribe()}
}

func (m *micInput) Frames() <-chan []int16 { return m.l.C }
func (m *micInput) Done() <-chan struct{}  { return m.l.Done() }

func (m *micInput) Close() error {
	m.b.Unsubscribe(m.l)
	return nil
}
