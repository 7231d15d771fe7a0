package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/looper/internal/audio"
)

const opusBitrate = 128000

// WebRTCHandler answers SDP offers with an Opus track carrying the mixed
// output.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	logger      *zap.Logger

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewWebRTCHandler creates a listen handler fed by b.
func NewWebRTCHandler(b *Broadcaster, logger *zap.Logger) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		logger:      logger,
		peers:       make(map[*webrtc.PeerConnection]struct{}),
	}
}

// PeerCount returns the number of connected listen peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	offer, ok := readOffer(w, r)
	if !ok {
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"looper",
	)
	if err == nil {
		_, err = pc.AddTrack(track)
	}
	if err != nil {
		pc.Close()
		h.logger.Error("Adding listen track failed", zap.Error(err))
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if ended(s) {
			h.mu.Lock()
			delete(h.peers, pc)
			n := len(h.peers)
			h.mu.Unlock()
			pc.Close()
			h.logger.Info("WebRTC listener disconnected", zap.Int("peers", n))
		}
	})

	answer, err := negotiate(pc, offer)
	if err != nil {
		pc.Close()
		h.logger.Warn("WebRTC negotiation failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.peers[pc] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Info("WebRTC listener connected", zap.Int("peers", n))

	go h.streamToPeer(track)

	writeAnswer(w, answer)
}

func (h *WebRTCHandler) streamToPeer(track *webrtc.TrackLocalStaticSample) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		h.logger.Error("Opus encoder unavailable", zap.Error(err))
		return
	}
	enc.SetBitrate(opusBitrate)

	packet := make([]byte, 4000)
	for {
		select {
		case <-listener.Done():
			return
		case frame := <-listener.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				h.logger.Warn("Opus encode failed", zap.Error(err))
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

// readOffer handles CORS preflight and method checks and decodes the offer.
// It reports false when a response has already been written.
func readOffer(w http.ResponseWriter, r *http.Request) (webrtc.SessionDescription, bool) {
	var offer webrtc.SessionDescription
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return offer, false
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return offer, false
	}

	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return offer, false
	}
	return offer, true
}

// negotiate applies offer and returns the complete local answer once ICE
// gathering has finished.
func negotiate(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return pc.LocalDescription(), nil
}

func writeAnswer(w http.ResponseWriter, answer *webrtc.SessionDescription) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(answer)
}

func ended(s webrtc.PeerConnectionState) bool {
	return s == webrtc.PeerConnectionStateFailed ||
		s == webrtc.PeerConnectionStateClosed ||
		s == webrtc.PeerConnectionStateDisconnected
}
