package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/framestream/decoder"
	"github.com/zsiec/framestream/media"
)

// MultiStreamBuffer services N sources from one poller goroutine. Each
// source has its own lane with a bounded queue; the poller visits the lanes
// round-robin and reads one frame into every live lane that has room.
type MultiStreamBuffer struct {
	log   *slog.Logger
	cfg   Config
	lanes []*Lane
	state stateMachine
	// signal fires whenever a lane gains a frame, loses one, or stops.
	signal *broadcast

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

// Lane is one stream of a MultiStreamBuffer.
type Lane struct {
	m     *MultiStreamBuffer
	log   *slog.Logger
	id    string
	index int
	uri   string
	src   Source
	queue *Queue[*media.Frame]
	state stateMachine

	stopOnce sync.Once
	mu       sync.Mutex
	err      error

	produced atomic.Int64
	consumed atomic.Int64
}

// OpenMulti opens every descriptor concurrently and wraps them in a
// MultiStreamBuffer. If any source fails to open, the ones that did open
// are released and the error is a *decoder.ConnectionError naming the
// failing index.
func OpenMulti(ctx context.Context, descs []decoder.Descriptor, cfg Config) (*MultiStreamBuffer, error) {
	cfg, err := cfg.withDefaults(media.MultiQueueSize)
	if err != nil {
		return nil, err
	}
	if len(descs) == 0 {
		return nil, ErrNoSources
	}

	srcs := make([]*decoder.FrameSource, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	for i, desc := range descs {
		g.Go(func() error {
			src, err := decoder.Open(gctx, desc, cfg.decoderOptions()...)
			if err != nil {
				var ce *decoder.ConnectionError
				if errors.As(err, &ce) {
					err = ce.Err
				}
				return &decoder.ConnectionError{URI: desc.URI, Index: i, Err: err}
			}
			srcs[i] = src
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, src := range srcs {
			if src != nil {
				src.Release()
			}
		}
		return nil, err
	}

	sources := make([]Source, len(srcs))
	for i, src := range srcs {
		sources[i] = src
	}
	m, err := NewMulti(sources, cfg)
	if err != nil {
		for _, src := range srcs {
			src.Release()
		}
		return nil, err
	}
	for i, desc := range descs {
		m.lanes[i].uri = desc.URI
	}
	return m, nil
}

// NewMulti wraps open sources. The buffer owns them from here on.
func NewMulti(srcs []Source, cfg Config) (*MultiStreamBuffer, error) {
	cfg, err := cfg.withDefaults(media.MultiQueueSize)
	if err != nil {
		return nil, err
	}
	if len(srcs) == 0 {
		return nil, ErrNoSources
	}

	m := &MultiStreamBuffer{
		log:    cfg.Logger.With("component", "multi-stream-buffer"),
		cfg:    cfg,
		lanes:  make([]*Lane, len(srcs)),
		signal: newBroadcast(),
	}
	for i, src := range srcs {
		q, err := NewQueue[*media.Frame](cfg.QueueSize)
		if err != nil {
			return nil, err
		}
		id := uuid.NewString()
		m.lanes[i] = &Lane{
			m:     m,
			log:   m.log.With("index", i, "lane_id", id),
			id:    id,
			index: i,
			src:   src,
			queue: q,
		}
	}
	return m, nil
}

// Start launches the poller. Cancelling ctx has the same effect as Stop,
// without waiting.
func (m *MultiStreamBuffer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state.Load() {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.startedAt = time.Now()
	m.state.start()
	for _, l := range m.lanes {
		l.state.start()
	}

	m.log.Info("multi-stream started", "streams", len(m.lanes), "queue_size", m.cfg.QueueSize, "format", m.cfg.Format)
	go m.run(ctx, m.done)
	return nil
}

func (m *MultiStreamBuffer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		// Taken before the lanes are inspected so a read that frees a slot
		// during this tick is not missed.
		wake := m.signal.wait()

		live, serviced := 0, 0
		for _, l := range m.lanes {
			if ctx.Err() != nil {
				break
			}
			if l.Stopped() {
				continue
			}
			live++
			if l.queue.Full() {
				continue
			}
			serviced++
			m.poll(l)
		}
		if live == 0 {
			m.log.Info("all streams exhausted")
			break
		}
		if serviced > 0 {
			continue
		}

		idle := time.NewTimer(idleInterval)
		select {
		case <-ctx.Done():
		case <-wake:
		case <-idle.C:
		}
		idle.Stop()
	}

	for _, l := range m.lanes {
		l.finish()
	}
	m.state.stop()
	m.signal.notify()
}

// poll reads one frame from l into its queue. The caller has checked that
// the queue has room; the poller is the only producer.
func (m *MultiStreamBuffer) poll(l *Lane) {
	f, err := l.src.ReadFrame(m.cfg.Format)
	if err != nil {
		if errors.Is(err, io.EOF) {
			l.log.Info("end of stream", "frames", l.produced.Load())
		} else {
			l.setErr(err)
			l.log.Error("read failed, stopping stream", "error", err, "frames", l.produced.Load())
		}
		l.finish()
		return
	}
	if m.cfg.Transform != nil {
		if f = m.cfg.Transform(f); f == nil {
			return
		}
	}
	if !l.queue.TryPut(f) {
		l.log.Warn("queue full, frame dropped", "seq", f.Seq)
		return
	}
	l.produced.Add(1)
	m.signal.notify()
}

// Lane returns the handle for stream i.
func (m *MultiStreamBuffer) Lane(i int) (*Lane, error) {
	if i < 0 || i >= len(m.lanes) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(m.lanes))
	}
	return m.lanes[i], nil
}

// Lanes returns all lane handles in index order.
func (m *MultiStreamBuffer) Lanes() []*Lane {
	out := make([]*Lane, len(m.lanes))
	copy(out, m.lanes)
	return out
}

// Len returns the number of streams.
func (m *MultiStreamBuffer) Len() int { return len(m.lanes) }

// ReadIndex reads the next frame of stream i. See Lane.Read.
func (m *MultiStreamBuffer) ReadIndex(i int) (*media.Frame, error) {
	l, err := m.Lane(i)
	if err != nil {
		return nil, err
	}
	return l.Read()
}

// ReadAll reads one frame from every stream, blocking on each live stream
// in index order. Entries for stopped streams are nil. Once every stream
// has stopped ReadAll returns nil, io.EOF, even if frames remain queued;
// use ReadIndex to drain them.
func (m *MultiStreamBuffer) ReadAll() ([]*media.Frame, error) {
	return m.ReadAllContext(context.Background())
}

// ReadAllContext is ReadAll with a context bounding each wait.
func (m *MultiStreamBuffer) ReadAllContext(ctx context.Context) ([]*media.Frame, error) {
	if m.Stopped() {
		return nil, io.EOF
	}
	out := make([]*media.Frame, len(m.lanes))
	for i, l := range m.lanes {
		if l.Stopped() {
			continue
		}
		f, err := l.get(ctx)
		if errors.Is(err, ErrQueueClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// More reports whether any stream has a queued frame, waiting a short while
// if none does and some stream is still running.
func (m *MultiStreamBuffer) More() bool {
	return waitMore(m.anyQueued, m.Stopped, m.signal.wait)
}

func (m *MultiStreamBuffer) anyQueued() bool {
	for _, l := range m.lanes {
		if l.queue.Len() > 0 {
			return true
		}
	}
	return false
}

// Running reports whether any stream may still yield frames.
func (m *MultiStreamBuffer) Running() bool {
	return m.More() || !m.Stopped()
}

// Stopped reports whether every stream has stopped.
func (m *MultiStreamBuffer) Stopped() bool {
	if m.state.Load() == StateStopped {
		return true
	}
	for _, l := range m.lanes {
		if !l.Stopped() {
			return false
		}
	}
	return true
}

// State returns the aggregate lifecycle state.
func (m *MultiStreamBuffer) State() State {
	if m.Stopped() {
		return StateStopped
	}
	return m.state.Load()
}

// Stop signals the poller to exit, waits for it and releases every source.
// It is idempotent.
func (m *MultiStreamBuffer) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	if done == nil {
		m.state.stop()
		m.mu.Unlock()
		for _, l := range m.lanes {
			l.finish()
		}
		m.signal.notify()
		return nil
	}
	m.mu.Unlock()

	cancel()
	<-done
	m.log.Debug("multi-stream stopped")
	return nil
}

// Stats returns one snapshot per stream.
func (m *MultiStreamBuffer) Stats() []Stats {
	out := make([]Stats, len(m.lanes))
	for i, l := range m.lanes {
		out[i] = l.Stats()
	}
	return out
}

func (l *Lane) finish() {
	l.stopOnce.Do(func() {
		l.state.stop()
		if err := l.src.Release(); err != nil {
			l.log.Warn("source release failed", "error", err)
		}
		l.queue.Close()
		l.m.signal.notify()
	})
}

func (l *Lane) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *Lane) get(ctx context.Context) (*media.Frame, error) {
	f, err := l.queue.Get(ctx)
	if err != nil {
		return nil, err
	}
	l.consumed.Add(1)
	l.m.signal.notify()
	return f, nil
}

// Read blocks until the stream has a frame. Reading a stream that has
// stopped and been drained logs a warning and returns nil, io.EOF.
func (l *Lane) Read() (*media.Frame, error) {
	return l.ReadContext(context.Background())
}

// ReadContext is Read with a context bounding the wait.
func (l *Lane) ReadContext(ctx context.Context) (*media.Frame, error) {
	if l.Stopped() && l.queue.Len() == 0 {
		l.log.Warn("read from stopped stream")
		return nil, io.EOF
	}
	f, err := l.get(ctx)
	if errors.Is(err, ErrQueueClosed) {
		return nil, io.EOF
	}
	return f, err
}

// More reports whether the stream has a queued frame, waiting a short while
// if it is still running.
func (l *Lane) More() bool {
	return waitMore(
		func() bool { return l.queue.Len() > 0 },
		l.Stopped,
		l.queue.changedCh,
	)
}

// Running reports whether the stream may still yield frames.
func (l *Lane) Running() bool {
	return l.More() || !l.Stopped()
}

// Stopped reports whether the stream has ended.
func (l *Lane) Stopped() bool {
	return l.state.Load() == StateStopped
}

// Err returns the read error that stopped the stream, if any.
func (l *Lane) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// ID returns the lane id.
func (l *Lane) ID() string { return l.id }

// Index returns the stream index.
func (l *Lane) Index() int { return l.index }

// URI returns the source URI, empty for lanes built with NewMulti.
func (l *Lane) URI() string { return l.uri }

// Metadata returns the source metadata.
func (l *Lane) Metadata() media.Metadata { return l.src.Metadata() }

// Len returns the number of queued frames.
func (l *Lane) Len() int { return l.queue.Len() }

// Stats returns a snapshot for monitoring.
func (l *Lane) Stats() Stats {
	l.m.mu.Lock()
	started := l.m.startedAt
	l.m.mu.Unlock()
	return buildStats(l.id, l.uri, l.index, l.state.Load(), l.src.Metadata(),
		l.queue.Len(), l.queue.Cap(),
		counters{startedAt: started, produced: l.produced.Load(), consumed: l.consumed.Load()},
		l.Err())
}
