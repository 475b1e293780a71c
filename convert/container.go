// Package convert moves video between containers and image sequences using
// the decoder pipeline for input and an ffmpeg encoder process for output.
package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedContainer means the destination is neither .mp4 nor .avi.
	ErrUnsupportedContainer = errors.New("convert: only .mp4 and .avi outputs are supported")
	// ErrInvalidPath means a required path is empty or has no file name.
	ErrInvalidPath = errors.New("convert: invalid path")
	// ErrUnsupportedImageFormat means the image format is not one of
	// jpg, png, bmp or tiff.
	ErrUnsupportedImageFormat = errors.New("convert: unsupported image format")
	// ErrGeometryMismatch means an image sequence changes size midway.
	ErrGeometryMismatch = errors.New("convert: image size differs from first image")
)

// defaultFrameRate is used when a source reports no usable frame rate and
// when ImagesToVideo is given none.
const defaultFrameRate = 20

// Container describes how a destination file is encoded.
type Container struct {
	Ext   string
	Codec string
	Tag   string
}

var containers = map[string]Container{
	".mp4": {Ext: ".mp4", Codec: "mpeg4", Tag: "mp4v"},
	".avi": {Ext: ".avi", Codec: "mjpeg", Tag: "MJPG"},
}

// ContainerFor returns the container for path based on its extension. It
// touches nothing on disk.
func ContainerFor(path string) (Container, error) {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	if strings.TrimSpace(path) == "" || base == ext || base == "." || base == string(filepath.Separator) {
		return Container{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	c, ok := containers[ext]
	if !ok {
		return Container{}, fmt.Errorf("%w: %q", ErrUnsupportedContainer, path)
	}
	return c, nil
}

// Options configures the conversion functions.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	// ImageFormat is the output format of VideoToImages. Zero means jpg.
	ImageFormat ImageFormat
	Logger      *slog.Logger
}

func (o Options) logger(op string) *slog.Logger {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return log.With("component", "convert", "op", op)
}

func requirePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	return nil
}
