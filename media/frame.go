// Package media defines the frame and metadata types that flow from the
// decoder through the streaming pipeline to consumers.
package media

import (
	"errors"
	"fmt"
	"time"
)

// Queue sizes used when a caller does not pick one. The single-stream
// buffer holds roughly four seconds of 30 fps video; the multi-stream
// buffer keeps each lane shorter because N lanes share one process.
const (
	StreamQueueSize = 128
	MultiQueueSize  = 32
)

// BytesPerPixel is the size of one RGB24 pixel as emitted by the decoder.
const BytesPerPixel = 3

// ErrInvalidFormat is returned when an output format selector is not one of
// the supported representations.
var ErrInvalidFormat = errors.New("media: invalid frame format")

// Format selects how a decoded frame is handed to consumers.
type Format int

const (
	// FormatRaw delivers the decoder bytes untouched (RGB24, row-major).
	FormatRaw Format = iota + 1
	// FormatDecoded delivers a *BGR image with the channel order reversed.
	FormatDecoded
)

// ParseFormat maps the textual selectors "raw-bytes" and "decoded-array"
// (and the short aliases "bytes" and "numpy") to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "raw-bytes", "bytes", "raw":
		return FormatRaw, nil
	case "decoded-array", "numpy", "decoded", "":
		return FormatDecoded, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f == FormatRaw || f == FormatDecoded
}

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw-bytes"
	case FormatDecoded:
		return "decoded-array"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Metadata describes a video source. It is probed once when the source is
// opened and never changes afterwards.
type Metadata struct {
	Width     int
	Height    int
	FrameRate float64
	// FrameCount is zero when the container does not report it, which is
	// the normal case for live streams.
	FrameCount int
}

// FrameSize returns the number of bytes in one raw frame.
func (m Metadata) FrameSize() int {
	return m.Width * m.Height * BytesPerPixel
}

// FrameCountKnown reports whether the source advertised a frame count.
func (m Metadata) FrameCountKnown() bool {
	return m.FrameCount > 0
}

// Resolution returns the geometry formatted as "WxH".
func (m Metadata) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// Frame is a single decoded picture. Exactly one of Data and Image is set,
// depending on the Format it was read with.
type Frame struct {
	// Seq is the zero-based position of the frame in its source.
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Format    Format
	Data      []byte
	Image     *BGR
	// StreamID identifies the source instance that produced the frame.
	StreamID string
}

// Bytes returns the frame as RGB24 bytes regardless of its format.
func (f *Frame) Bytes() []byte {
	if f.Data != nil {
		return f.Data
	}
	if f.Image != nil {
		return f.Image.RGB24()
	}
	return nil
}
