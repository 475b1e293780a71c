// Package pipeline turns decoded frame sources into bounded, backpressured
// queues. A StreamBuffer runs one producer goroutine per source; a
// MultiStreamBuffer services any number of sources from a single poller.
package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/framestream/decoder"
	"github.com/zsiec/framestream/media"
)

//go:generate mockgen -source=source.go -destination=mock_source_test.go -package=pipeline Source

// Source produces frames for a pipeline. *decoder.FrameSource implements it.
type Source interface {
	// ReadFrame blocks for the next frame and returns io.EOF at end of stream.
	ReadFrame(format media.Format) (*media.Frame, error)
	Metadata() media.Metadata
	// Release frees the source. It must be idempotent.
	Release() error
	IsOpen() bool
}

var _ Source = (*decoder.FrameSource)(nil)

const (
	// moreAttempts and moreInterval bound how long More waits for a frame
	// from a producer that has not stopped.
	moreAttempts = 5
	moreInterval = 100 * time.Millisecond

	// idleInterval is how long the multi-stream poller sleeps when every
	// live queue is full and no consumer read wakes it first.
	idleInterval = 100 * time.Millisecond
)

// Config configures a StreamBuffer or MultiStreamBuffer.
type Config struct {
	// QueueSize is the per-stream queue capacity. Zero selects
	// media.StreamQueueSize for single streams and media.MultiQueueSize
	// for multi-stream buffers.
	QueueSize int
	// Format selects raw bytes or decoded images. Zero means decoded.
	Format media.Format
	// Transform, when set, is applied to every frame on the producer
	// goroutine before it is queued. Returning nil drops the frame.
	Transform func(*media.Frame) *media.Frame
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// DecoderOptions are passed to decoder.Open by Open and OpenMulti.
	DecoderOptions []decoder.Option
}

func (c Config) withDefaults(queueSize int) (Config, error) {
	if c.QueueSize < 0 {
		return c, fmt.Errorf("%w: %d", ErrInvalidQueueSize, c.QueueSize)
	}
	if c.QueueSize == 0 {
		c.QueueSize = queueSize
	}
	if c.Format == 0 {
		c.Format = media.FormatDecoded
	}
	if !c.Format.Valid() {
		return c, fmt.Errorf("%w: %v", media.ErrInvalidFormat, c.Format)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}

func (c Config) decoderOptions() []decoder.Option {
	opts := make([]decoder.Option, 0, len(c.DecoderOptions)+1)
	opts = append(opts, decoder.WithLogger(c.Logger))
	return append(opts, c.DecoderOptions...)
}

// waitMore waits up to the More budget for ready to report true, rechecking
// whenever wake fires. stopped ends the wait early.
func waitMore(ready, stopped func() bool, wake func() <-chan struct{}) bool {
	timer := time.NewTimer(moreAttempts * moreInterval)
	defer timer.Stop()
	for {
		ch := wake()
		if ready() {
			return true
		}
		if stopped() {
			return ready()
		}
		select {
		case <-ch:
		case <-timer.C:
			return ready()
		}
	}
}
