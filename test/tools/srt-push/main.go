// srt-push sends a video file to an SRT endpoint in real time so srt://
// sources can be exercised without a live encoder. Non-MPEG-TS inputs are
// remuxed to MPEG-TS with ffmpeg first.
//
// Usage:
//
//	framestream 'srt://:6000?mode=listener&streamid=live/demo' &
//	go run ./test/tools/srt-push -file clip.mp4 -streamid live/demo
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/framestream/internal/ffmpeg"
)

const (
	tsPacketSize = 188
	// chunkSize is seven TS packets, the usual payload of one SRT datagram.
	chunkSize = tsPacketSize * 7
	// defaultDuration is assumed when no duration can be determined.
	defaultDuration = 60.0
	logInterval     = 10 * time.Second
)

func main() {
	fileFlag := flag.String("file", "", "video file to push (MPEG-TS is sent as is)")
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT address to dial")
	idFlag := flag.String("streamid", "", "SRT stream id (default: live/<file name>)")
	durationFlag := flag.Float64("duration", 0, "known duration in seconds (skips probing)")
	loopFlag := flag.Bool("loop", false, "restart from the beginning at end of file")
	ffmpegFlag := flag.String("ffmpeg", "", "ffmpeg executable")
	ffprobeFlag := flag.String("ffprobe", "", "ffprobe executable")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	path := *fileFlag
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: srt-push -file video.mp4 [-addr host:port] [-streamid id] [-loop]")
		os.Exit(2)
	}
	streamID := *idFlag
	if streamID == "" {
		base := filepath.Base(path)
		streamID = "live/" + strings.TrimSuffix(base, filepath.Ext(base))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := loadTS(ctx, path, *ffmpegFlag)
	if err != nil {
		slog.Error("cannot load input", "file", path, "error", err)
		os.Exit(1)
	}

	probed := 0.0
	if *durationFlag <= 0 {
		probed = probeDuration(ctx, path, *ffprobeFlag)
	}
	duration := selectDuration(*durationFlag, probed)
	bytesPerSec := float64(len(data)) / duration

	slog.Info("pushing", "file", path, "bytes", len(data), "duration_s", duration, "bytes_per_sec", int(bytesPerSec), "addr", *addrFlag, "stream_id", streamID)

	if err := push(ctx, data, *addrFlag, streamID, bytesPerSec, *loopFlag); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("push failed", "error", err)
		os.Exit(1)
	}
}

// loadTS returns the file as MPEG-TS, remuxing it through ffmpeg unless it
// already is one.
func loadTS(ctx context.Context, path, ffmpegPath string) ([]byte, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".ts" || ext == ".m2ts" {
		return os.ReadFile(path)
	}
	bin, err := ffmpeg.LookPath(ffmpegPath, ffmpeg.DefaultFFmpeg)
	if err != nil {
		return nil, err
	}
	proc, err := ffmpeg.Start(ffmpeg.StartConfig{
		Bin: bin,
		Args: []string{
			"-hide_banner", "-nostdin", "-loglevel", "error",
			"-i", path,
			"-map", "0:v:0", "-c:v", "copy", "-an",
			"-f", "mpegts", ffmpeg.PipeStdout,
		},
		PipeStdout: true,
	})
	if err != nil {
		return nil, err
	}
	stopKill := context.AfterFunc(ctx, func() { proc.Terminate() })
	defer stopKill()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, proc.Stdout); err != nil {
		proc.Terminate()
		return nil, fmt.Errorf("remuxing %s: %w", path, err)
	}
	if err := proc.Wait(); err != nil {
		return nil, fmt.Errorf("remuxing %s: %w: %s", path, err, strings.Join(proc.Tail(), "; "))
	}
	return buf.Bytes(), nil
}

func probeDuration(ctx context.Context, path, ffprobePath string) float64 {
	bin, err := ffmpeg.LookPath(ffprobePath, ffmpeg.DefaultFFprobe)
	if err != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	meta, err := ffmpeg.Probe(ctx, bin, path, nil)
	if err != nil || meta.FrameRate <= 0 || !meta.FrameCountKnown() {
		return 0
	}
	return float64(meta.FrameCount) / meta.FrameRate
}

// selectDuration picks the pacing duration: an explicit override first,
// then the probed duration, then defaultDuration.
func selectDuration(override, probed float64) float64 {
	if override > 0 {
		return override
	}
	if probed > 0 {
		return probed
	}
	return defaultDuration
}

// push dials addr and streams data, reconnecting after connection loss
// until ctx is done or, without loop, the data has been sent once.
func push(ctx context.Context, data []byte, addr, streamID string, bytesPerSec float64, loop bool) error {
	for {
		cfg := srt.DefaultConfig()
		cfg.StreamID = streamID

		conn, err := srt.Dial(addr, cfg)
		if err != nil {
			slog.Warn("SRT connect failed, retrying", "addr", addr, "error", err)
			if err := sleepCtx(ctx, time.Second); err != nil {
				return err
			}
			continue
		}
		slog.Info("connected", "addr", addr, "stream_id", streamID)

		err = streamLoop(ctx, conn, data, bytesPerSec, loop)
		conn.Close()
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("connection lost, reconnecting", "error", err)
		if err := sleepCtx(ctx, time.Second); err != nil {
			return err
		}
	}
}

func streamLoop(ctx context.Context, w io.Writer, data []byte, bytesPerSec float64, loop bool) error {
	start := time.Now()
	lastLog := start
	var sent int64

	for pass := 1; ; pass++ {
		for i := 0; i < len(data); i += chunkSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(i+chunkSize, len(data))
			if _, err := w.Write(data[i:end]); err != nil {
				return err
			}
			sent += int64(end - i)

			// Pace against the overall clock so there is no burst at loop seams.
			if wait := pacingDelay(sent, bytesPerSec, time.Since(start)); wait > 0 {
				if err := sleepCtx(ctx, wait); err != nil {
					return err
				}
			}

			if time.Since(lastLog) >= logInterval {
				slog.Info("progress",
					"pass", pass,
					"offset_pct", int(float64(i)/float64(len(data))*100),
					"rate", int(float64(sent)/time.Since(start).Seconds()),
					"sent_mb", float64(sent)/(1<<20),
				)
				lastLog = time.Now()
			}
		}
		if !loop {
			slog.Info("file sent", "bytes", sent, "elapsed", time.Since(start).Truncate(time.Millisecond))
			return nil
		}
	}
}

// pacingDelay returns how long to wait so that sent bytes are not ahead of
// the target rate after elapsed time.
func pacingDelay(sent int64, bytesPerSec float64, elapsed time.Duration) time.Duration {
	if bytesPerSec <= 0 {
		return 0
	}
	expected := time.Duration(float64(sent) / bytesPerSec * float64(time.Second))
	return expected - elapsed
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
