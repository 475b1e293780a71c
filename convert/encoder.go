package convert

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zsiec/framestream/internal/ffmpeg"
)

// encoder feeds raw RGB24 frames of a fixed geometry to an ffmpeg process
// writing one container file.
type encoder struct {
	log       *slog.Logger
	proc      *ffmpeg.Process
	path      string
	width     int
	height    int
	frameSize int
	frames    int
}

func newEncoder(opts Options, log *slog.Logger, path string, c Container, width, height int, fps float64) (*encoder, error) {
	bin, err := ffmpeg.LookPath(opts.FFmpegPath, ffmpeg.DefaultFFmpeg)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("convert: %w", err)
		}
	}

	proc, err := ffmpeg.Start(ffmpeg.StartConfig{
		Bin: bin,
		Args: ffmpeg.EncodeArgs{
			Width:     width,
			Height:    height,
			FrameRate: fps,
			Codec:     c.Codec,
			Tag:       c.Tag,
			Output:    path,
		}.Args(),
		PipeStdin: true,
		Log:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	log.Debug("encoder started", "path", path, "codec", c.Codec, "size", fmt.Sprintf("%dx%d", width, height), "fps", fps)
	return &encoder{
		log:       log,
		proc:      proc,
		path:      path,
		width:     width,
		height:    height,
		frameSize: width * height * 3,
	}, nil
}

// write sends one RGB24 frame.
func (e *encoder) write(rgb []byte) error {
	if len(rgb) != e.frameSize {
		return fmt.Errorf("convert: frame is %d bytes, encoder expects %d (%dx%d)", len(rgb), e.frameSize, e.width, e.height)
	}
	if _, err := e.proc.Stdin.Write(rgb); err != nil {
		return e.failure(fmt.Errorf("writing frame %d: %w", e.frames, err))
	}
	e.frames++
	return nil
}

// close flushes the encoder and waits for the file to be finalized.
func (e *encoder) close() error {
	e.proc.Stdin.Close()
	if err := e.proc.Wait(); err != nil {
		return e.failure(err)
	}
	e.log.Debug("encoder finished", "path", e.path, "frames", e.frames)
	return nil
}

// abort stops the encoder without waiting for a clean file.
func (e *encoder) abort() {
	if err := e.proc.Terminate(); err != nil {
		e.log.Debug("encoder terminate", "error", err)
	}
}

func (e *encoder) failure(err error) error {
	if tail := e.proc.Tail(); len(tail) > 0 {
		return fmt.Errorf("convert: encoding %s: %w: %s", e.path, err, strings.Join(tail, "; "))
	}
	return fmt.Errorf("convert: encoding %s: %w", e.path, err)
}
