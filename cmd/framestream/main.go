// Command framestream decodes one or more video URIs into bounded frame
// queues, consumes them, and serves per-stream statistics over HTTPS and
// HTTP/3 while it runs.
//
// Usage:
//
//	framestream URI [URI...]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/framestream/api"
	"github.com/zsiec/framestream/certs"
	"github.com/zsiec/framestream/decoder"
	"github.com/zsiec/framestream/media"
	"github.com/zsiec/framestream/pipeline"
	"github.com/zsiec/framestream/stream"
)

var version = "dev"

// statsInterval is how often per-stream throughput is logged.
const statsInterval = 10 * time.Second

type config struct {
	apiAddr     string
	h3Addr      string
	ffmpegPath  string
	ffprobePath string
	queueSize   int
	format      media.Format
	frameRate   float64
	device      *int
}

func loadConfig() (config, error) {
	cfg := config{
		apiAddr:     envOr("API_ADDR", ":4444"),
		h3Addr:      envOr("H3_ADDR", ":4443"),
		ffmpegPath:  os.Getenv("FFMPEG_PATH"),
		ffprobePath: os.Getenv("FFPROBE_PATH"),
	}

	var err error
	if cfg.queueSize, err = strconv.Atoi(envOr("QUEUE_SIZE", "0")); err != nil {
		return cfg, fmt.Errorf("QUEUE_SIZE: %w", err)
	}
	if cfg.format, err = media.ParseFormat(os.Getenv("OUTPUT_FORMAT")); err != nil {
		return cfg, fmt.Errorf("OUTPUT_FORMAT: %w", err)
	}
	if cfg.frameRate, err = strconv.ParseFloat(envOr("TARGET_FPS", "0"), 64); err != nil {
		return cfg, fmt.Errorf("TARGET_FPS: %w", err)
	}
	if v := os.Getenv("HWACCEL_DEVICE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("HWACCEL_DEVICE: %w", err)
		}
		cfg.device = decoder.Device(n)
	}
	return cfg, nil
}

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	uris := os.Args[1:]
	if len(uris) == 0 {
		fmt.Fprintln(os.Stderr, "usage: framestream URI [URI...]")
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	cert, err := certs.Generate(certs.MaxValidity)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("framestream starting",
		"version", version,
		"streams", len(uris),
		"api", cfg.apiAddr,
		"h3", cfg.h3Addr,
		"cert_hash", cert.FingerprintBase64(),
	)

	if err := run(ctx, cancel, cfg, cert, uris); err != nil {
		slog.Error("framestream failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg config, cert *certs.CertInfo, uris []string) error {
	descs := make([]decoder.Descriptor, len(uris))
	for i, uri := range uris {
		descs[i] = decoder.Descriptor{URI: uri, Accelerator: cfg.device, FrameRate: cfg.frameRate}
	}

	var decOpts []decoder.Option
	if cfg.ffmpegPath != "" {
		decOpts = append(decOpts, decoder.WithFFmpegPath(cfg.ffmpegPath))
	}
	if cfg.ffprobePath != "" {
		decOpts = append(decOpts, decoder.WithFFprobePath(cfg.ffprobePath))
	}

	mb, err := pipeline.OpenMulti(ctx, descs, pipeline.Config{
		QueueSize:      cfg.queueSize,
		Format:         cfg.format,
		DecoderOptions: decOpts,
	})
	if err != nil {
		return err
	}
	defer mb.Stop()

	mgr := stream.NewManager(nil)
	for _, lane := range mb.Lanes() {
		key := fmt.Sprintf("stream-%d", lane.Index())
		mgr.Create(key, lane)
		defer mgr.Remove(key)
	}

	apiSrv, err := api.NewServer(api.ServerConfig{
		Addr:    cfg.h3Addr,
		Cert:    cert,
		Streams: mgr,
	})
	if err != nil {
		return err
	}
	httpsSrv := &http.Server{
		Addr:      cfg.apiAddr,
		Handler:   apiSrv.APIHandler(),
		TLSConfig: cert.TLSConfig(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTPS API server listening", "addr", cfg.apiAddr)
		if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpsSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	g.Go(func() error {
		defer cancel()
		return consumeAll(ctx, mb)
	})

	g.Go(func() error {
		logStats(ctx, mgr)
		return nil
	})

	if err := mb.Start(ctx); err != nil {
		cancel()
		g.Wait()
		return err
	}
	return g.Wait()
}

// consumeAll drains every lane on its own goroutine until all streams end.
func consumeAll(ctx context.Context, mb *pipeline.MultiStreamBuffer) error {
	var g errgroup.Group
	for _, lane := range mb.Lanes() {
		g.Go(func() error {
			return consume(ctx, lane)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("all streams finished")
	return nil
}

func consume(ctx context.Context, lane *pipeline.Lane) error {
	log := slog.With("stream", lane.Index(), "uri", lane.URI())
	var frames int
	for {
		f, err := lane.ReadContext(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		frames++
		log.Debug("frame", "seq", f.Seq, "format", f.Format)
	}
	if err := lane.Err(); err != nil {
		log.Warn("stream ended with error", "frames", frames, "error", err)
		return nil
	}
	log.Info("stream finished", "frames", frames)
	return nil
}

func logStats(ctx context.Context, mgr *stream.Manager) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, info := range mgr.Snapshot() {
				slog.Info("stream stats",
					"key", info.Key,
					"state", info.Stats.State,
					"produced", info.Stats.Produced,
					"consumed", info.Stats.Consumed,
					"queue", fmt.Sprintf("%d/%d", info.Stats.QueueDepth, info.Stats.QueueCap),
				)
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
