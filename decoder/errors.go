package decoder

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for frame sources. Typed errors below wrap them so callers
// can use errors.Is without caring about the details.
var (
	// ErrConnection means the URI could not be probed or holds no video.
	ErrConnection = errors.New("decoder: cannot open source")
	// ErrShortRead means the decoder stream ended in the middle of a frame.
	ErrShortRead = errors.New("decoder: short frame read")
)

// ConnectionError reports a source that could not be opened. Index is the
// position of the source in a multi-source open, or -1.
type ConnectionError struct {
	URI   string
	Index int
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("decoder: cannot open source %d (%s): %v", e.Index, e.URI, e.Err)
	}
	return fmt.Sprintf("decoder: cannot open source %s: %v", e.URI, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// ShortReadError reports a frame boundary violation: the decoder produced
// some but not all of a frame's bytes before its output closed.
type ShortReadError struct {
	Want int
	Got  int
	// Stderr holds the decoder's last diagnostic lines, if any.
	Stderr []string
}

func (e *ShortReadError) Error() string {
	msg := fmt.Sprintf("decoder: short frame read: got %d of %d bytes", e.Got, e.Want)
	if len(e.Stderr) > 0 {
		msg += ": " + strings.Join(e.Stderr, "; ")
	}
	return msg
}

func (e *ShortReadError) Unwrap() error {
	return ErrShortRead
}
