package pipeline

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/framestream/media"
)

// fakeSource yields n numbered frames (forever when n < 0), then failWith
// or io.EOF.
type fakeSource struct {
	meta     media.Metadata
	n        int
	failWith error
	delay    time.Duration

	mu       sync.Mutex
	next     uint64
	reads    atomic.Int64
	releases atomic.Int32
}

func newFakeSource(n int) *fakeSource {
	return &fakeSource{
		meta: media.Metadata{Width: 2, Height: 1, FrameRate: 25, FrameCount: max(n, 0)},
		n:    n,
	}
}

func (s *fakeSource) ReadFrame(format media.Format) (*media.Frame, error) {
	s.reads.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releases.Load() > 0 {
		return nil, io.EOF
	}
	if s.n >= 0 && int(s.next) >= s.n {
		if s.failWith != nil {
			return nil, s.failWith
		}
		return nil, io.EOF
	}
	f := &media.Frame{
		Seq:    s.next,
		Width:  s.meta.Width,
		Height: s.meta.Height,
		Format: format,
		Data:   []byte{1, 2, 3, 4, 5, 6},
	}
	s.next++
	return f, nil
}

func (s *fakeSource) Metadata() media.Metadata { return s.meta }

func (s *fakeSource) Release() error {
	s.releases.Add(1)
	return nil
}

func (s *fakeSource) IsOpen() bool { return s.releases.Load() == 0 }

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
