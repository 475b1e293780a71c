package ffmpeg

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Default executable names, resolved through PATH.
const (
	DefaultFFmpeg  = "ffmpeg"
	DefaultFFprobe = "ffprobe"
)

// PipeStdin and PipeStdout are the ffmpeg URLs for the process pipes.
const (
	PipeStdin  = "pipe:0"
	PipeStdout = "pipe:1"
)

// LookPath resolves bin (a name or a path) to an executable, falling back
// to fallback when bin is empty.
func LookPath(bin, fallback string) (string, error) {
	if strings.TrimSpace(bin) == "" {
		bin = fallback
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", bin, err)
	}
	return path, nil
}

// DecodeArgs describes an ffmpeg invocation that decodes Input and writes
// raw RGB24 frames to stdout.
type DecodeArgs struct {
	Input string
	// Accelerator is the NVDEC device index, or nil for software decoding.
	Accelerator *int
	// FrameRate, when positive, resamples the output with the fps filter.
	FrameRate float64
	// Verbose keeps ffmpeg's warnings on stderr instead of errors only.
	Verbose bool
}

// Args returns the command-line arguments, excluding the binary.
func (d DecodeArgs) Args() []string {
	level := "error"
	if d.Verbose {
		level = "warning"
	}
	args := []string{"-hide_banner", "-nostdin", "-loglevel", level}
	if d.Input == PipeStdin {
		// -nostdin would stop ffmpeg from reading the input pipe.
		args = []string{"-hide_banner", "-loglevel", level}
	}
	if d.Accelerator != nil {
		args = append(args, "-hwaccel", "nvdec", "-hwaccel_device", strconv.Itoa(*d.Accelerator))
	}
	args = append(args, "-i", d.Input)
	if d.FrameRate > 0 {
		args = append(args, "-vf", "fps=fps="+formatRate(d.FrameRate)+":round=up")
	}
	args = append(args,
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		PipeStdout,
	)
	return args
}

// EncodeArgs describes an ffmpeg invocation that reads raw RGB24 frames of
// a fixed geometry from stdin and encodes them into Output.
type EncodeArgs struct {
	Width     int
	Height    int
	FrameRate float64
	// Codec is an ffmpeg encoder name such as "mpeg4" or "mjpeg".
	Codec string
	// Tag overrides the container fourcc ("mp4v", "MJPG").
	Tag    string
	Output string
}

// Args returns the command-line arguments, excluding the binary.
func (e EncodeArgs) Args() []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", e.Width, e.Height),
		"-r", formatRate(e.FrameRate),
		"-i", PipeStdin,
		"-an",
		"-c:v", e.Codec,
	}
	if e.Tag != "" {
		args = append(args, "-tag:v", e.Tag)
	}
	switch e.Codec {
	case "mjpeg":
		args = append(args, "-q:v", "3", "-pix_fmt", "yuvj420p")
	default:
		args = append(args, "-q:v", "3", "-pix_fmt", "yuv420p")
	}
	return append(args, e.Output)
}

func formatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}
