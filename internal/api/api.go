// Package api exposes the session commands over HTTP, with state changes
// pushed to the browser as server-sent events.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/blobstore"
	"github.com/satindergrewal/looper/internal/clips"
	"github.com/satindergrewal/looper/internal/playback"
	"github.com/satindergrewal/looper/internal/recording"
	"github.com/satindergrewal/looper/internal/session"
)

// maxUpload bounds an uploaded clip.
const maxUpload = 64 << 20

// uploadExt maps upload content types to blob extensions.
var uploadExt = map[string]string{
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/mp4":   ".m4a",
	"audio/flac":  ".flac",
}

type handler struct {
	sess   *session.Session
	logger *zap.Logger
}

// New returns the /api routes for sess.
func New(sess *session.Session, logger *zap.Logger) http.Handler {
	h := &handler{sess: sess, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/events", h.events)
	mux.HandleFunc("POST /api/record", h.record)
	mux.HandleFunc("POST /api/record/stop", h.stopRecording)
	mux.HandleFunc("POST /api/playpause", h.playPause)
	mux.HandleFunc("POST /api/distortion", h.distortion)
	mux.HandleFunc("POST /api/reset", h.reset)
	mux.HandleFunc("POST /api/clips", h.upload)
	mux.HandleFunc("DELETE /api/clips/{index}", h.deleteClip)
	mux.HandleFunc("POST /api/clips/{index}/play", h.playClip)
	mux.HandleFunc("POST /api/clips/{index}/preview", h.preview)
	mux.HandleFunc("GET /api/clips/{index}/audio", h.clipAudio)
	return mux
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": h.sess.Status()})
}

func (h *handler) record(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.Record(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "recording": h.sess.Recorder.Recording()})
}

func (h *handler) stopRecording(w http.ResponseWriter, r *http.Request) {
	clip, ok, err := h.sess.StopRecording(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := map[string]any{"ok": true, "created": ok}
	if ok {
		resp["clip"] = clip
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) playPause(w http.ResponseWriter, r *http.Request) {
	h.sess.PlayPause()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": h.sess.Player.Mode()})
}

func (h *handler) distortion(w http.ResponseWriter, r *http.Request) {
	on, err := h.sess.ToggleDistortion()
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "distortion": on})
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	h.sess.Reset(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		clip clips.Clip
		err  error
	)
	if ct == "application/json" {
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		clip, err = h.sess.ImportURL(r.Context(), req.URL)
	} else {
		data, rerr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpload))
		if rerr != nil {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		ext := r.URL.Query().Get("ext")
		if ext == "" {
			ext = uploadExt[ct]
		}
		clip, err = h.sess.Import(r.Context(), data, ext)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "clip": clip})
}

func (h *handler) deleteClip(w http.ResponseWriter, r *http.Request) {
	i, ok := index(w, r)
	if !ok {
		return
	}
	if err := h.sess.DeleteClip(r.Context(), i); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) playClip(w http.ResponseWriter, r *http.Request) {
	i, ok := index(w, r)
	if !ok {
		return
	}
	if err := h.sess.PlayClip(i); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) preview(w http.ResponseWriter, r *http.Request) {
	i, ok := index(w, r)
	if !ok {
		return
	}
	if err := h.sess.Preview(i); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) clipAudio(w http.ResponseWriter, r *http.Request) {
	i, ok := index(w, r)
	if !ok {
		return
	}
	data, clip, err := h.sess.ClipAudio(r.Context(), i)
	if err != nil {
		h.fail(w, err)
		return
	}
	ct := mime.TypeByExtension(path.Ext(clip.Ref))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="clip-%d%s"`, clip.Index+1, path.Ext(clip.Ref)))
	w.Write(data)
}

// fail maps session errors to status codes. Unexpected errors are logged.
func (h *handler) fail(w http.ResponseWriter, err error) {
	var derr *recording.DeviceError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, clips.ErrOutOfRange):
		status = http.StatusNotFound
	case errors.Is(err, recording.ErrBusy), errors.Is(err, recording.ErrAborted), errors.Is(err, playback.ErrRecording):
		status = http.StatusConflict
	case errors.As(err, &derr):
		status = http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrDecode), errors.Is(err, audio.ErrFetch), errors.Is(err, blobstore.ErrInvalidRef):
		status = http.StatusBadRequest
	default:
		h.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

func index(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(r.PathValue("index")))
	if err != nil || i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": clips.ErrOutOfRange.Error()})
		return 0, false
	}
	return i, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
