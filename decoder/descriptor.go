// Package decoder turns a video URI into a stream of fixed-size frames by
// running ffmpeg as a subprocess and reading its raw RGB24 output.
package decoder

import (
	"fmt"
	"strings"
)

// Descriptor identifies a video source and how it should be decoded.
type Descriptor struct {
	URI string `json:"uri"`
	// Accelerator is the NVDEC device index. Nil decodes in software.
	Accelerator *int `json:"accelerator,omitempty"`
	// FrameRate resamples the output when positive.
	FrameRate float64 `json:"frameRate,omitempty"`
}

// Device returns a pointer to n, for use as Descriptor.Accelerator.
func Device(n int) *int {
	return &n
}

// Validate checks the descriptor before any process is started.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.URI) == "" {
		return fmt.Errorf("decoder: URI is required")
	}
	if d.Accelerator != nil && *d.Accelerator < 0 {
		return fmt.Errorf("decoder: invalid accelerator id %d", *d.Accelerator)
	}
	if d.FrameRate < 0 {
		return fmt.Errorf("decoder: invalid frame rate %v", d.FrameRate)
	}
	return nil
}

func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.URI)
	if d.Accelerator != nil {
		fmt.Fprintf(&b, " (gpu %d)", *d.Accelerator)
	}
	if d.FrameRate > 0 {
		fmt.Fprintf(&b, " @%gfps", d.FrameRate)
	}
	return b.String()
}
