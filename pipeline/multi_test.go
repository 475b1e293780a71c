package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/framestream/decoder"
	"github.com/zsiec/framestream/media"
)

func newTestMulti(t *testing.T, srcs []*fakeSource, cfg Config) *MultiStreamBuffer {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	sources := make([]Source, len(srcs))
	for i, s := range srcs {
		sources[i] = s
	}
	m, err := NewMulti(sources, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Stop() })
	return m
}

func readLane(t *testing.T, l *Lane) []*media.Frame {
	t.Helper()
	var frames []*media.Frame
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		f, err := l.ReadContext(ctx)
		cancel()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestMultiLanesStopIndependently(t *testing.T) {
	t.Parallel()
	lengths := []int{3, 7, 1}
	srcs := []*fakeSource{newFakeSource(3), newFakeSource(7), newFakeSource(1)}
	m := newTestMulti(t, srcs, Config{QueueSize: 2})
	require.NoError(t, m.Start(context.Background()))

	for i, want := range lengths {
		l, err := m.Lane(i)
		require.NoError(t, err)
		frames := readLane(t, l)
		require.Len(t, frames, want, "lane %d", i)
		for seq, f := range frames {
			assert.Equal(t, uint64(seq), f.Seq)
		}
		assert.True(t, l.Stopped())
		assert.NoError(t, l.Err())
	}

	waitFor(t, m.Stopped, "aggregate stop")
	assert.False(t, m.Running())
	for i, src := range srcs {
		assert.Equal(t, int32(1), src.releases.Load(), "lane %d releases", i)
	}
}

func TestMultiShortLaneStopsFirst(t *testing.T) {
	t.Parallel()
	srcs := []*fakeSource{newFakeSource(1), newFakeSource(-1)}
	m := newTestMulti(t, srcs, Config{QueueSize: 4})
	require.NoError(t, m.Start(context.Background()))

	short, _ := m.Lane(0)
	long, _ := m.Lane(1)
	waitFor(t, short.Stopped, "short lane to stop")
	assert.False(t, long.Stopped())
	assert.False(t, m.Stopped())
	assert.True(t, m.Running())
}

func TestMultiReadIndexAfterStopWarns(t *testing.T) {
	t.Parallel()
	logs := &syncBuffer{}
	srcs := []*fakeSource{newFakeSource(1), newFakeSource(-1)}
	m := newTestMulti(t, srcs, Config{QueueSize: 2, Logger: testLogger(logs)})
	require.NoError(t, m.Start(context.Background()))

	f, err := m.ReadIndex(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.Seq)

	l, _ := m.Lane(0)
	waitFor(t, l.Stopped, "lane 0 to stop")

	f, err = m.ReadIndex(0)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, logs.String(), "read from stopped stream")
	assert.Contains(t, logs.String(), "index=0")
}

func TestMultiReadAll(t *testing.T) {
	t.Parallel()
	srcs := []*fakeSource{newFakeSource(2), newFakeSource(4)}
	m := newTestMulti(t, srcs, Config{QueueSize: 1})
	require.NoError(t, m.Start(context.Background()))

	first, err := m.ReadAll()
	require.NoError(t, err)
	require.Len(t, first, 2)
	for i, f := range first {
		require.NotNil(t, f, "lane %d", i)
		assert.Equal(t, uint64(0), f.Seq)
	}

	// Keep reading until the aggregate reports end of stream. A lane that
	// has stopped yields nil from then on.
	var last [2]int64
	laneStopped := [2]bool{}
	for {
		frames, err := m.ReadAll()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		for i, f := range frames {
			if f == nil {
				laneStopped[i] = true
				continue
			}
			require.False(t, laneStopped[i], "lane %d produced after stopping", i)
			assert.Equal(t, last[i]+1, int64(f.Seq), "lane %d order", i)
			last[i] = int64(f.Seq)
		}
	}
	assert.True(t, m.Stopped())
	assert.LessOrEqual(t, last[0], int64(1))
	assert.LessOrEqual(t, last[1], int64(3))

	frames, err := m.ReadAll()
	assert.Nil(t, frames)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultiRoundRobin(t *testing.T) {
	t.Parallel()
	srcs := []*fakeSource{newFakeSource(-1), newFakeSource(-1), newFakeSource(-1)}
	m := newTestMulti(t, srcs, Config{QueueSize: 1})
	require.NoError(t, m.Start(context.Background()))

	for round := range 10 {
		for i := range m.Len() {
			l, _ := m.Lane(i)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			f, err := l.ReadContext(ctx)
			cancel()
			require.NoError(t, err, "round %d lane %d", round, i)
			assert.Equal(t, uint64(round), f.Seq)
		}
	}
}

func TestMultiMore(t *testing.T) {
	t.Parallel()
	srcs := []*fakeSource{newFakeSource(1), newFakeSource(1)}
	m := newTestMulti(t, srcs, Config{})
	require.NoError(t, m.Start(context.Background()))

	assert.True(t, m.More())
	waitFor(t, m.Stopped, "aggregate stop")
	// Queued frames keep the aggregate running after the poller exits.
	assert.True(t, m.Running())

	for i := range m.Len() {
		_, err := m.ReadIndex(i)
		require.NoError(t, err)
	}
	assert.False(t, m.More())
	assert.False(t, m.Running())
}

func TestMultiStop(t *testing.T) {
	t.Parallel()
	srcs := []*fakeSource{newFakeSource(-1), newFakeSource(-1)}
	m := newTestMulti(t, srcs, Config{QueueSize: 3})
	require.NoError(t, m.Start(context.Background()))

	_, err := m.ReadIndex(1)
	require.NoError(t, err)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.True(t, m.Stopped())
	assert.Equal(t, StateStopped, m.State())
	for i, src := range srcs {
		assert.Equal(t, int32(1), src.releases.Load(), "lane %d", i)
	}
	assert.ErrorIs(t, m.Start(context.Background()), ErrStopped)
}

func TestMultiStopBeforeStart(t *testing.T) {
	t.Parallel()
	srcs := []*fakeSource{newFakeSource(2), newFakeSource(2)}
	m := newTestMulti(t, srcs, Config{})

	require.NoError(t, m.Stop())
	for _, src := range srcs {
		assert.Equal(t, int32(1), src.releases.Load())
		assert.Zero(t, src.reads.Load())
	}
	_, err := m.ReadAll()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultiLaneErrorStopsOnlyThatLane(t *testing.T) {
	t.Parallel()
	bad := newFakeSource(1)
	bad.failWith = &decoder.ShortReadError{Want: 6, Got: 2}
	good := newFakeSource(-1)
	m := newTestMulti(t, []*fakeSource{bad, good}, Config{QueueSize: 2})
	require.NoError(t, m.Start(context.Background()))

	l, _ := m.Lane(0)
	frames := readLane(t, l)
	assert.Len(t, frames, 1)
	assert.ErrorIs(t, l.Err(), decoder.ErrShortRead)

	ok, _ := m.Lane(1)
	assert.False(t, ok.Stopped())
	assert.NoError(t, ok.Err())
	_, err := ok.Read()
	assert.NoError(t, err)
}

func TestMultiIndexOutOfRange(t *testing.T) {
	t.Parallel()
	m := newTestMulti(t, []*fakeSource{newFakeSource(1)}, Config{})

	for _, i := range []int{-1, 1, 10} {
		_, err := m.Lane(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "Lane(%d)", i)
		_, err = m.ReadIndex(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "ReadIndex(%d)", i)
	}
}

func TestMultiDefaultsAndStats(t *testing.T) {
	t.Parallel()
	m := newTestMulti(t, []*fakeSource{newFakeSource(2), newFakeSource(2)}, Config{})
	assert.Equal(t, 2, m.Len())

	stats := m.Stats()
	require.Len(t, stats, 2)
	for i, st := range stats {
		assert.Equal(t, i, st.Index)
		assert.Equal(t, media.MultiQueueSize, st.QueueCap)
		assert.Equal(t, "created", st.State)
		assert.Equal(t, "2x1", st.Resolution)
		assert.NotEmpty(t, st.ID)
	}
}

func TestNewMultiRequiresSources(t *testing.T) {
	t.Parallel()
	_, err := NewMulti(nil, Config{})
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestOpenMultiReportsFailingIndex(t *testing.T) {
	t.Parallel()
	descs := []decoder.Descriptor{{URI: ""}}
	_, err := OpenMulti(context.Background(), descs, Config{Logger: discardLogger()})
	require.Error(t, err)

	var ce *decoder.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, ce.Index)
	assert.ErrorIs(t, err, decoder.ErrConnection)
}

func TestOpenMultiValidatesConfigFirst(t *testing.T) {
	t.Parallel()
	descs := []decoder.Descriptor{{URI: "a.mp4"}, {URI: "b.mp4"}}
	_, err := OpenMulti(context.Background(), descs, Config{QueueSize: -1})
	assert.ErrorIs(t, err, ErrInvalidQueueSize)

	_, err = OpenMulti(context.Background(), nil, Config{})
	assert.ErrorIs(t, err, ErrNoSources)
}
