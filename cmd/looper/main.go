package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/satindergrewal/looper/internal/api"
	"github.com/satindergrewal/looper/internal/audio"
	"github.com/satindergrewal/looper/internal/blobstore"
	"github.com/satindergrewal/looper/internal/clips"
	"github.com/satindergrewal/looper/internal/config"
	"github.com/satindergrewal/looper/internal/effect"
	"github.com/satindergrewal/looper/internal/mixer"
	"github.com/satindergrewal/looper/internal/playback"
	"github.com/satindergrewal/looper/internal/recording"
	"github.com/satindergrewal/looper/internal/session"
	"github.com/satindergrewal/looper/internal/speaker"
	"github.com/satindergrewal/looper/internal/stream"
	"github.com/satindergrewal/looper/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("looper starting up...")

	// Clip storage. A session always starts empty.
	files, err := blobstore.Open(cfg.ClipDir)
	if err != nil {
		logger.Fatal("Open clip store", zap.Error(err))
	}
	defer files.Close()
	if err := files.Purge(); err != nil {
		logger.Warn("Clearing previous clips failed", zap.Error(err))
	}
	fetcher := blobstore.Router{Files: files, Remote: blobstore.NewHTTPFetcher(cfg.FetchTimeout)}
	decoder := audio.NewClipDecoder(fetcher)

	// Mixer: the single real-time output, fanned out to every listener
	mix := mixer.New()
	go mix.Run(ctx)
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, mix.Frames())

	// Session
	store := clips.NewStore()
	fx := effect.NewChain(cfg.Oversample)
	player := playback.New(store, decoder, mix, fx, logger.Named("playback"),
		playback.WithDecodeWorkers(cfg.DecodeWorkers))
	ingest := stream.NewIngest(logger.Named("ingest"))
	recorder := recording.NewController(ingest, mix, recording.NewWAVSink(files), store, player, fx,
		logger.Named("recording"))

	sess := session.New(session.Deps{
		Store:            store,
		Blobs:            files,
		Fetcher:          fetcher,
		Decoder:          decoder,
		Effect:           fx,
		Player:           player,
		Recorder:         recorder,
		Output:           mix,
		Logger:           logger.Named("session"),
		DistortionAmount: cfg.DistortionAmount,
	})
	defer sess.Close()

	// Speaker (optional)
	if cfg.Speaker {
		sp, err := speaker.Start(broadcaster, logger.Named("speaker"))
		if err != nil {
			logger.Warn("Speaker unavailable", zap.Error(err))
		} else {
			defer sp.Close()
		}
	}

	// HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(web.IndexHTML)
	})
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, logger.Named("http")))
	mux.Handle("/offer", stream.NewWebRTCHandler(broadcaster, logger.Named("webrtc")))
	mux.Handle("/ingest", ingest)
	mux.Handle("/api/", api.New(sess, logger.Named("api")))

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")
		server.Close()
	}()

	logger.Info("looper live", zap.String("addr", addr), zap.String("clips", files.Dir()))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server error", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
