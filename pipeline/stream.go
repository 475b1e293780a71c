package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/framestream/decoder"
	"github.com/zsiec/framestream/media"
)

// StreamBuffer decodes one source on a background goroutine into a bounded
// queue. The producer blocks while the queue is full, so a slow consumer
// slows decoding instead of growing memory.
type StreamBuffer struct {
	log   *slog.Logger
	id    string
	uri   string
	src   Source
	cfg   Config
	queue *Queue[*media.Frame]
	state stateMachine

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	startedAt time.Time

	releaseOnce sync.Once
	releaseErr  error

	produced atomic.Int64
	consumed atomic.Int64
}

// Open opens desc with the decoder and wraps it in a StreamBuffer. The
// configuration is validated before the decoder is started.
func Open(ctx context.Context, desc decoder.Descriptor, cfg Config) (*StreamBuffer, error) {
	cfg, err := cfg.withDefaults(media.StreamQueueSize)
	if err != nil {
		return nil, err
	}
	src, err := decoder.Open(ctx, desc, cfg.decoderOptions()...)
	if err != nil {
		return nil, err
	}
	b, err := New(src, cfg)
	if err != nil {
		src.Release()
		return nil, err
	}
	b.uri = desc.URI
	return b, nil
}

// New wraps an open source. The buffer owns src from here on and releases
// it when the producer exits or Stop is called.
func New(src Source, cfg Config) (*StreamBuffer, error) {
	cfg, err := cfg.withDefaults(media.StreamQueueSize)
	if err != nil {
		return nil, err
	}
	q, err := NewQueue[*media.Frame](cfg.QueueSize)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &StreamBuffer{
		log:   cfg.Logger.With("component", "stream-buffer", "buffer_id", id),
		id:    id,
		src:   src,
		cfg:   cfg,
		queue: q,
	}, nil
}

// Start launches the producer goroutine. Cancelling ctx has the same effect
// as Stop, without waiting. Start fails if the buffer was already started
// or stopped.
func (b *StreamBuffer) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state.Load() {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.startedAt = time.Now()
	b.state.start()

	meta := b.src.Metadata()
	b.log.Info("stream started",
		"uri", b.uri,
		"resolution", meta.Resolution(),
		"fps", meta.FrameRate,
		"queue_size", b.queue.Cap(),
		"format", b.cfg.Format,
	)
	go b.run(ctx, b.done)
	return nil
}

func (b *StreamBuffer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		f, err := b.src.ReadFrame(b.cfg.Format)
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.log.Info("end of stream", "frames", b.produced.Load())
			} else {
				b.setErr(err)
				b.log.Error("read failed, stopping stream", "error", err, "frames", b.produced.Load())
			}
			break
		}
		if b.cfg.Transform != nil {
			if f = b.cfg.Transform(f); f == nil {
				continue
			}
		}
		if err := b.queue.Put(ctx, f); err != nil {
			break
		}
		b.produced.Add(1)
	}

	b.finish()
}

// finish moves the buffer to Stopped, releases the source and closes the
// queue so blocked readers see the end of stream.
func (b *StreamBuffer) finish() {
	b.state.stop()
	b.release()
	b.queue.Close()
}

func (b *StreamBuffer) release() {
	b.releaseOnce.Do(func() {
		b.releaseErr = b.src.Release()
		if b.releaseErr != nil {
			b.log.Warn("source release failed", "error", b.releaseErr)
		}
	})
}

func (b *StreamBuffer) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Read blocks until a frame is available. Once the producer has stopped
// and the queue is drained it returns nil, io.EOF.
func (b *StreamBuffer) Read() (*media.Frame, error) {
	return b.ReadContext(context.Background())
}

// ReadContext is Read with a context bounding the wait.
func (b *StreamBuffer) ReadContext(ctx context.Context) (*media.Frame, error) {
	f, err := b.queue.Get(ctx)
	if err != nil {
		if errors.Is(err, ErrQueueClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	b.consumed.Add(1)
	return f, nil
}

// More reports whether a frame is queued. If the queue is empty and the
// producer is still running it waits a short while for one to arrive.
func (b *StreamBuffer) More() bool {
	return waitMore(
		func() bool { return b.queue.Len() > 0 },
		b.Stopped,
		b.queue.changedCh,
	)
}

// Running reports whether frames may still be read: either some are queued
// or the producer has not stopped.
func (b *StreamBuffer) Running() bool {
	return b.More() || !b.Stopped()
}

// Stopped reports whether the producer has finished.
func (b *StreamBuffer) Stopped() bool {
	return b.state.Load() == StateStopped
}

// State returns the current lifecycle state.
func (b *StreamBuffer) State() State { return b.state.Load() }

// Stop signals the producer to exit and waits for it, then releases the
// source. Frames already queued can still be read. Stop is idempotent.
//
// A producer blocked inside a source read is not interrupted; Stop returns
// once that read completes.
func (b *StreamBuffer) Stop() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	if done == nil {
		// Never started: there is no producer to join.
		b.state.stop()
		b.mu.Unlock()
		b.finish()
		return b.releaseErr
	}
	b.mu.Unlock()

	cancel()
	<-done
	b.log.Debug("stream stopped", "produced", b.produced.Load(), "consumed", b.consumed.Load())
	return b.releaseErr
}

// Err returns the read error that stopped the producer, if any. End of
// stream and Stop are not errors.
func (b *StreamBuffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// ID returns the buffer id.
func (b *StreamBuffer) ID() string { return b.id }

// URI returns the source URI, empty for buffers built with New.
func (b *StreamBuffer) URI() string { return b.uri }

// Metadata returns the source metadata.
func (b *StreamBuffer) Metadata() media.Metadata { return b.src.Metadata() }

// Len returns the number of queued frames.
func (b *StreamBuffer) Len() int { return b.queue.Len() }

// Stats returns a snapshot for monitoring.
func (b *StreamBuffer) Stats() Stats {
	b.mu.Lock()
	started, err := b.startedAt, b.err
	b.mu.Unlock()
	return buildStats(b.id, b.uri, 0, b.state.Load(), b.src.Metadata(),
		b.queue.Len(), b.queue.Cap(),
		counters{startedAt: started, produced: b.produced.Load(), consumed: b.consumed.Load()},
		err)
}
