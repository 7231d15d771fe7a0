package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"github.com/satindergrewal/looper/internal/audio"
)

// EncoderFunc builds the process that turns raw s16le PCM on stdin into the
// stream body on stdout.
type EncoderFunc func(ctx context.Context) *exec.Cmd

// MP3Encoder runs ffmpeg with libmp3lame at the given bitrate in kbit/s.
func MP3Encoder(kbps int) EncoderFunc {
	return func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "ffmpeg",
			"-f", "s16le",
			"-ar", strconv.Itoa(audio.SampleRate),
			"-ac", strconv.Itoa(audio.Channels),
			"-i", "pipe:0",
			"-codec:a", "libmp3lame",
			"-b:a", strconv.Itoa(kbps)+"k",
			"-f", "mp3",
			"-fflags", "nobuffer",
			"-flush_packets", "1",
			"-loglevel", "error",
			"pipe:1",
		)
	}
}

// HTTPHandler serves the mixed output as a chunked audio stream, one encoder
// process per connection.
type HTTPHandler struct {
	broadcaster *Broadcaster
	encoder     EncoderFunc
	contentType string
	logger      *zap.Logger
}

// NewHTTPHandler streams b as 192k MP3.
func NewHTTPHandler(b *Broadcaster, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		broadcaster: b,
		encoder:     MP3Encoder(192),
		contentType: "audio/mpeg",
		logger:      logger,
	}
}

// WithEncoder swaps the encoder process and the advertised content type.
func (h *HTTPHandler) WithEncoder(enc EncoderFunc, contentType string) *HTTPHandler {
	h.encoder = enc
	h.contentType = contentType
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := h.encoder(ctx)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.logger.Error("Encoder stdin pipe failed", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.logger.Error("Encoder stdout pipe failed", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.logger.Error("Encoder start failed", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", h.contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "looper")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.logger.Info("HTTP listener connected", zap.Int("listeners", h.broadcaster.ListenerCount()))
	defer h.logger.Info("HTTP listener disconnected")

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.logger.Warn("Encoder read failed", zap.Error(err))
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
