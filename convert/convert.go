package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/zsiec/framestream/decoder"
	"github.com/zsiec/framestream/media"
	"github.com/zsiec/framestream/pipeline"
)

// progressEvery is how often long conversions log progress, in frames.
const progressEvery = 500

// defaultImageDir is where VideoToImages writes when imgDir is empty.
const defaultImageDir = "out"

func openStream(ctx context.Context, src string, format media.Format, opts Options, log *slog.Logger) (*pipeline.StreamBuffer, error) {
	var decOpts []decoder.Option
	if opts.FFmpegPath != "" {
		decOpts = append(decOpts, decoder.WithFFmpegPath(opts.FFmpegPath))
	}
	if opts.FFprobePath != "" {
		decOpts = append(decOpts, decoder.WithFFprobePath(opts.FFprobePath))
	}
	b, err := pipeline.Open(ctx, decoder.Descriptor{URI: src}, pipeline.Config{
		Format:         format,
		Logger:         log,
		DecoderOptions: decOpts,
	})
	if err != nil {
		return nil, err
	}
	if err := b.Start(ctx); err != nil {
		b.Stop()
		return nil, err
	}
	return b, nil
}

// finishStream stops b and returns the error that ended it early, if any.
func finishStream(b *pipeline.StreamBuffer) error {
	b.Stop()
	return b.Err()
}

// VideoToImages decodes videoPath and writes every frame to imgDir as
// 1.<ext>, 2.<ext>, ... It returns the number of images written.
func VideoToImages(ctx context.Context, videoPath, imgDir string, opts Options) (int, error) {
	if err := requirePath(videoPath); err != nil {
		return 0, err
	}
	format, err := ParseImageFormat(string(opts.ImageFormat))
	if err != nil {
		return 0, err
	}
	if imgDir == "" {
		imgDir = defaultImageDir
	}
	log := opts.logger("video-to-images")

	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		return 0, fmt.Errorf("convert: %w", err)
	}

	b, err := openStream(ctx, videoPath, media.FormatDecoded, opts, log)
	if err != nil {
		return 0, err
	}
	defer b.Stop()

	meta := b.Metadata()
	log.Info("extracting frames",
		"src", videoPath,
		"dir", imgDir,
		"frames", meta.FrameCount,
		"fps", meta.FrameRate,
		"resolution", meta.Resolution(),
	)

	n := 0
	for {
		f, err := b.ReadContext(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		n++
		path := filepath.Join(imgDir, fmt.Sprintf("%d.%s", n, format))
		if err := writeImage(path, format, f.Image.RGBA()); err != nil {
			return n - 1, fmt.Errorf("convert: %w", err)
		}
		if n%progressEvery == 0 {
			log.Debug("progress", "images", n, "total", meta.FrameCount)
		}
	}
	if err := finishStream(b); err != nil {
		return n, err
	}
	log.Info("frames extracted", "images", n)
	return n, nil
}

// ImagesToVideo encodes the numbered images in imgDir, in numeric order,
// into videoPath at fps frames per second (20 when fps is not positive).
// The container follows videoPath's extension and is checked before
// anything is read. An empty directory writes nothing and returns 0.
func ImagesToVideo(ctx context.Context, imgDir, videoPath string, fps float64, opts Options) (int, error) {
	c, err := ContainerFor(videoPath)
	if err != nil {
		return 0, err
	}
	if err := requirePath(imgDir); err != nil {
		return 0, err
	}
	if !validRate(fps) {
		fps = defaultFrameRate
	}
	log := opts.logger("images-to-video")

	seq, err := listSequence(imgDir)
	if err != nil {
		return 0, fmt.Errorf("convert: %w", err)
	}
	if len(seq) == 0 {
		log.Info("no images found", "dir", imgDir)
		return 0, nil
	}

	first, err := readImage(seq[0].path)
	if err != nil {
		return 0, fmt.Errorf("convert: %w", err)
	}
	size := first.Bounds().Size()
	enc, err := newEncoder(opts, log, videoPath, c, size.X, size.Y, fps)
	if err != nil {
		return 0, err
	}
	log.Info("encoding images", "dir", imgDir, "dst", videoPath, "images", len(seq), "fps", fps)

	for i, img := range seq {
		if err := ctx.Err(); err != nil {
			enc.abort()
			return enc.frames, err
		}
		pic := first
		if i > 0 {
			if pic, err = readImage(img.path); err != nil {
				enc.abort()
				return enc.frames, fmt.Errorf("convert: %w", err)
			}
		}
		if pic.Bounds().Size() != size {
			enc.abort()
			return enc.frames, fmt.Errorf("%w: %s is %v, want %v", ErrGeometryMismatch, img.path, pic.Bounds().Size(), size)
		}
		if err := enc.write(media.BGRFromImage(pic).RGB24()); err != nil {
			enc.abort()
			return enc.frames, err
		}
	}
	if err := enc.close(); err != nil {
		return enc.frames, err
	}
	log.Info("video written", "dst", videoPath, "frames", enc.frames)
	return enc.frames, nil
}

// Transcode re-encodes src into dst, whose extension selects the
// container. The source frame rate is kept, or 20 fps when the source
// reports none.
func Transcode(ctx context.Context, src, dst string, opts Options) (int, error) {
	return copyFrames(ctx, "transcode", src, dst, 0, 0, opts)
}

// Crop copies the frames of src between start and end into dst. A zero
// end means the end of the video. Times are converted to frame indices
// with the source frame rate: frames int(start*fps) up to, not including,
// int(end*fps).
func Crop(ctx context.Context, src, dst string, start, end time.Duration, opts Options) (int, error) {
	if start < 0 || end < 0 || (end > 0 && end < start) {
		return 0, fmt.Errorf("convert: invalid crop range %v..%v", start, end)
	}
	return copyFrames(ctx, "crop", src, dst, start, end, opts)
}

func copyFrames(ctx context.Context, op, src, dst string, start, end time.Duration, opts Options) (int, error) {
	c, err := ContainerFor(dst)
	if err != nil {
		return 0, err
	}
	if err := requirePath(src); err != nil {
		return 0, err
	}
	log := opts.logger(op)

	b, err := openStream(ctx, src, media.FormatRaw, opts, log)
	if err != nil {
		return 0, err
	}
	defer b.Stop()

	meta := b.Metadata()
	fps := meta.FrameRate
	if !validRate(fps) {
		log.Warn("source has no usable frame rate, using default", "fps", fps, "default", defaultFrameRate)
		fps = defaultFrameRate
	}
	first := int(start.Seconds() * fps)
	last := -1
	if end > 0 {
		last = int(end.Seconds() * fps)
	}

	enc, err := newEncoder(opts, log, dst, c, meta.Width, meta.Height, fps)
	if err != nil {
		return 0, err
	}
	log.Info("copying frames", "src", src, "dst", dst, "from", first, "to", last, "fps", fps, "total", meta.FrameCount)

	for idx := 0; last < 0 || idx < last; idx++ {
		f, err := b.ReadContext(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			enc.abort()
			return enc.frames, err
		}
		if idx < first {
			continue
		}
		if err := enc.write(f.Data); err != nil {
			enc.abort()
			return enc.frames, err
		}
		if enc.frames%progressEvery == 0 {
			log.Debug("progress", "frames", enc.frames)
		}
	}
	if err := finishStream(b); err != nil {
		enc.abort()
		return enc.frames, err
	}
	if err := enc.close(); err != nil {
		return enc.frames, err
	}
	log.Info("video written", "dst", dst, "frames", enc.frames)
	return enc.frames, nil
}

func validRate(fps float64) bool {
	return fps > 0 && !math.IsInf(fps, 0) && !math.IsNaN(fps)
}
