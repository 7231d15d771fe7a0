// Package session is the single looper session: it owns the clip list, the
// effect chain, playback and recording, and exposes the UI commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/blobstore"
	"github.com/satindergrewal/looper/internal/clips"
	"github.com/satindergrewal/looper/internal/effect"
	"github.com/satindergrewal/looper/internal/mixer"
	"github.com/satindergrewal/looper/internal/playback"
	"github.com/satindergrewal/looper/internal/recording"
)

// ErrRecording is returned for commands that are refused while recording.
var ErrRecording = errors.New("session is recording")

// Blobs stores clip bytes.
type Blobs interface {
	Put(data []byte, ext string) (string, error)
	Delete(ref string) error
	Purge() error
}

// Decoder validates imported clips.
type Decoder interface {
	Decode(ctx context.Context, ref string) (*audio.Buffer, error)
}

// Deps are the components a session drives. Everything is required.
type Deps struct {
	Store    *clips.Store
	Blobs    Blobs
	Fetcher  audio.Fetcher
	Decoder  Decoder
	Effect   *effect.Chain
	Player   *playback.Orchestrator
	Recorder *recording.Controller
	Output   audio.Output
	Logger   *zap.Logger

	// DistortionAmount is the curve amount used when the effect is enabled.
	DistortionAmount float64
}

// Session serialises nothing itself; each component guards its own state.
type Session struct {
	Deps

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	unsub  func()
}

// New wires observers from every component into the session event stream.
func New(d Deps) *Session {
	s := &Session{Deps: d, subs: make(map[int]chan Event)}
	s.unsub = d.Store.Subscribe(func(list []clips.Clip) {
		s.publish(Event{Kind: EventClips, Clips: list})
	})
	d.Player.Subscribe(func(m playback.Mode) {
		s.publish(Event{Kind: EventMode, Mode: m.String()})
	})
	d.Effect.Subscribe(func(enabled bool) {
		s.publish(Event{Kind: EventEffect, Distortion: enabled})
	})
	return s
}

// Record is the record button: it starts a take, or stops the one in
// progress.
func (s *Session) Record(ctx context.Context) error {
	return s.Recorder.Toggle(ctx)
}

// StopRecording finishes the current take. ok is false when no clip was
// created.
func (s *Session) StopRecording(ctx context.Context) (clip clips.Clip, ok bool, err error) {
	return s.Recorder.Stop(ctx)
}

// PlayPause toggles the continuous loop.
func (s *Session) PlayPause() {
	s.Player.Toggle()
}

// PlayClip plays clip i on its own.
func (s *Session) PlayClip(i int) error {
	return s.Player.PlaySingle(i)
}

// Preview plays clip i straight to the output, bypassing the effect.
func (s *Session) Preview(i int) error {
	return s.Player.PlayRealtime(i)
}

// DeleteClip removes clip i and its stored bytes. Removing the last clip
// resets the session.
func (s *Session) DeleteClip(ctx context.Context, i int) error {
	clip, err := s.Store.RemoveAt(i)
	if err != nil {
		return err
	}
	if !blobstore.IsRemote(clip.Ref) {
		if err := s.Blobs.Delete(clip.Ref); err != nil {
			s.Logger.Warn("Deleting clip data failed", zap.String("ref", clip.Ref), zap.Error(err))
		}
	}
	s.Logger.Info("Clip deleted", zap.Int("clip", i), zap.Int("remaining", s.Store.Len()))

	if s.Store.Len() == 0 {
		s.Reset(ctx)
	}
	return nil
}

// ToggleDistortion flips the effect and reports the new state. It is ignored
// while recording.
func (s *Session) ToggleDistortion() (bool, error) {
	if s.Player.Mode() == playback.Recording {
		return s.Effect.Enabled(), nil
	}
	if s.Effect.Disable() {
		return false, nil
	}
	if _, err := s.Effect.Enable(s.DistortionAmount); err != nil {
		return false, fmt.Errorf("enable distortion: %w", err)
	}
	return true, nil
}

// Import stores uploaded audio as a new clip after checking that it decodes.
func (s *Session) Import(ctx context.Context, data []byte, ext string) (clips.Clip, error) {
	ref, err := s.Blobs.Put(data, ext)
	if err != nil {
		return clips.Clip{}, fmt.Errorf("store upload: %w", err)
	}
	if _, err := s.Decoder.Decode(ctx, ref); err != nil {
		if derr := s.Blobs.Delete(ref); derr != nil {
			s.Logger.Warn("Deleting rejected upload failed", zap.String("ref", ref), zap.Error(derr))
		}
		return clips.Clip{}, err
	}
	clip := s.Store.Append(ref)
	s.Logger.Info("Clip imported", zap.Int("clip", clip.Index), zap.Int("bytes", len(data)))
	return clip, nil
}

// ImportURL adds a clip referenced by an http(s) URL after checking that it
// decodes.
func (s *Session) ImportURL(ctx context.Context, url string) (clips.Clip, error) {
	if !blobstore.IsRemote(url) {
		return clips.Clip{}, fmt.Errorf("%w: %q", blobstore.ErrInvalidRef, url)
	}
	if _, err := s.Decoder.Decode(ctx, url); err != nil {
		return clips.Clip{}, err
	}
	clip := s.Store.Append(url)
	s.Logger.Info("Remote clip added", zap.Int("clip", clip.Index), zap.String("url", url))
	return clip, nil
}

// ClipAudio returns the stored bytes of clip i.
func (s *Session) ClipAudio(ctx context.Context, i int) ([]byte, clips.Clip, error) {
	clip, err := s.Store.At(i)
	if err != nil {
		return nil, clips.Clip{}, err
	}
	data, err := s.Fetcher.Fetch(ctx, clip.Ref)
	if err != nil {
		return nil, clip, &audio.FetchError{Ref: clip.Ref, Err: err}
	}
	return data, clip, nil
}

// Reset returns the session to the state of a fresh start.
func (s *Session) Reset(ctx context.Context) {
	s.Recorder.Abort()
	s.Player.Stop()
	s.Effect.Disable()
	s.Store.Clear()
	if err := s.Blobs.Purge(); err != nil {
		s.Logger.Warn("Purging clip data failed", zap.Error(err))
	}
	s.Output.Resume()
	s.Logger.Info("Session reset")
}

// Status is a point-in-time view of the session.
type Status struct {
	Mode       string       `json:"mode"`
	Continuous bool         `json:"continuous"`
	Distortion bool         `json:"distortion"`
	Clips      []clips.Clip `json:"clips"`
	// Output is set when the output is the real-time mixer.
	Output *mixer.Stats `json:"output,omitempty"`
}

// Status snapshots the session.
func (s *Session) Status() Status {
	st := Status{
		Mode:       s.Player.Mode().String(),
		Continuous: s.Player.Continuous(),
		Distortion: s.Effect.Enabled(),
		Clips:      s.Store.List(),
	}
	if m, ok := s.Output.(*mixer.Mixer); ok {
		ms := m.Stats()
		st.Output = &ms
	}
	return st
}

// Close stops recording and playback and ends every event subscription.
func (s *Session) Close() {
	s.Recorder.Abort()
	s.Player.Close()
	s.unsub()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
