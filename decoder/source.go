package decoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/framestream/ingest/srt"
	"github.com/zsiec/framestream/internal/ffmpeg"
	"github.com/zsiec/framestream/media"
)

const (
	defaultProbeTimeout = 15 * time.Second
	// srtProbeBytes is how much of an SRT stream is buffered for ffprobe
	// before it is replayed into the decoder.
	srtProbeBytes  = 512 * 1024
	readBufferSize = 1 << 20
)

type options struct {
	ffmpegPath   string
	ffprobePath  string
	log          *slog.Logger
	probeTimeout time.Duration
	verbose      bool
	srtCaller    *srt.Caller
}

// Option configures Open and NewFrameSource.
type Option func(*options)

// WithFFmpegPath sets the ffmpeg executable (name or path).
func WithFFmpegPath(path string) Option {
	return func(o *options) { o.ffmpegPath = path }
}

// WithFFprobePath sets the ffprobe executable (name or path).
func WithFFprobePath(path string) Option {
	return func(o *options) { o.ffprobePath = path }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithProbeTimeout bounds the metadata probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) { o.probeTimeout = d }
}

// WithVerbose keeps decoder warnings (not only errors) in the stderr tail.
func WithVerbose(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// WithSRTCaller sets the caller used for srt:// URIs.
func WithSRTCaller(c *srt.Caller) Option {
	return func(o *options) { o.srtCaller = c }
}

func buildOptions(opts []Option) options {
	o := options{probeTimeout: defaultProbeTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// FrameSource reads fixed-size raw frames from one decoder subprocess.
//
// ReadFrame is meant to be called from one goroutine at a time. Release may
// be called from any goroutine; a blocked ReadFrame then returns io.EOF.
type FrameSource struct {
	log  *slog.Logger
	desc Descriptor
	meta media.Metadata
	id   string

	proc   *ffmpeg.Process
	ingest io.Closer
	closer io.Closer
	r      *bufio.Reader

	mu  sync.Mutex
	seq uint64

	released    atomic.Bool
	releaseOnce sync.Once
	releaseErr  error
}

// Open probes desc.URI and starts a decoder for it. Probe failures and URIs
// without a video stream are reported as *ConnectionError.
func Open(ctx context.Context, desc Descriptor, opts ...Option) (*FrameSource, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	ffprobeBin, err := ffmpeg.LookPath(o.ffprobePath, ffmpeg.DefaultFFprobe)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	ffmpegBin, err := ffmpeg.LookPath(o.ffmpegPath, ffmpeg.DefaultFFmpeg)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}

	connErr := func(err error) error {
		return &ConnectionError{URI: desc.URI, Index: -1, Err: err}
	}

	input := desc.URI
	var (
		stdin      io.Reader
		probeIn    io.Reader
		ingestConn *srt.Conn
	)
	if srt.IsSRT(desc.URI) {
		caller := o.srtCaller
		if caller == nil {
			caller = srt.NewCaller(o.log)
		}
		ingestConn, err = caller.OpenURI(ctx, desc.URI)
		if err != nil {
			return nil, connErr(err)
		}
		prefix := make([]byte, srtProbeBytes)
		n, err := io.ReadFull(ingestConn, prefix)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			ingestConn.Close()
			return nil, connErr(fmt.Errorf("reading probe data: %w", err))
		}
		prefix = prefix[:n]
		input = ffmpeg.PipeStdin
		probeIn = bytes.NewReader(prefix)
		stdin = io.MultiReader(bytes.NewReader(prefix), ingestConn)
	}

	probeCtx, cancel := context.WithTimeout(ctx, o.probeTimeout)
	meta, err := ffmpeg.Probe(probeCtx, ffprobeBin, input, probeIn)
	cancel()
	if err != nil {
		if ingestConn != nil {
			ingestConn.Close()
		}
		return nil, connErr(err)
	}

	log := o.log.With("component", "decoder", "uri", desc.URI)
	proc, err := ffmpeg.Start(ffmpeg.StartConfig{
		Bin: ffmpegBin,
		Args: ffmpeg.DecodeArgs{
			Input:       input,
			Accelerator: desc.Accelerator,
			FrameRate:   desc.FrameRate,
			Verbose:     o.verbose,
		}.Args(),
		Input:      stdin,
		PipeStdout: true,
		Log:        log,
	})
	if err != nil {
		if ingestConn != nil {
			ingestConn.Close()
		}
		return nil, fmt.Errorf("decoder: %w", err)
	}

	s := newFrameSource(proc.Stdout, meta, log)
	s.desc = desc
	s.proc = proc
	if ingestConn != nil {
		s.ingest = ingestConn
	}
	s.log.Info("source opened",
		"id", s.id,
		"resolution", meta.Resolution(),
		"fps", meta.FrameRate,
		"frame_count", meta.FrameCount,
		"pid", proc.Pid(),
	)
	return s, nil
}

// NewFrameSource wraps an already running raw RGB24 frame stream of the
// given geometry. Release closes rc.
func NewFrameSource(rc io.ReadCloser, meta media.Metadata, opts ...Option) *FrameSource {
	o := buildOptions(opts)
	return newFrameSource(rc, meta, o.log.With("component", "decoder"))
}

func newFrameSource(rc io.ReadCloser, meta media.Metadata, log *slog.Logger) *FrameSource {
	return &FrameSource{
		log:    log,
		meta:   meta,
		id:     uuid.NewString(),
		closer: rc,
		r:      bufio.NewReaderSize(rc, readBufferSize),
	}
}

// ReadFrame blocks until one full frame has been read and returns it in the
// requested format. At end of stream the source releases itself and returns
// io.EOF. A partial frame yields a *ShortReadError and also releases the
// source; the error is not retried.
func (s *FrameSource) ReadFrame(format media.Format) (*media.Frame, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %v", media.ErrInvalidFormat, format)
	}
	size := s.meta.FrameSize()
	if size <= 0 {
		return nil, fmt.Errorf("decoder: invalid frame geometry %s", s.meta.Resolution())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released.Load() {
		return nil, io.EOF
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
	case n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed)):
		s.log.Debug("end of stream", "id", s.id, "frames", s.seq)
		s.Release()
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		serr := &ShortReadError{Want: size, Got: n}
		if s.proc != nil {
			serr.Stderr = s.proc.Tail()
		}
		s.log.Error("short frame read", "id", s.id, "seq", s.seq, "got", n, "want", size)
		s.Release()
		return nil, serr
	default:
		s.Release()
		return nil, fmt.Errorf("decoder: read frame %d: %w", s.seq, err)
	}

	f := &media.Frame{
		Seq:       s.seq,
		Timestamp: time.Now(),
		Width:     s.meta.Width,
		Height:    s.meta.Height,
		Format:    format,
		StreamID:  s.id,
	}
	s.seq++

	if format == media.FormatRaw {
		f.Data = buf
		return f, nil
	}
	img, err := media.BGRFromRGB24(buf, s.meta.Width, s.meta.Height)
	if err != nil {
		return nil, err
	}
	f.Image = img
	return f, nil
}

// Release terminates the decoder and closes its input. It is idempotent and
// returns the result of the first call.
func (s *FrameSource) Release() error {
	s.releaseOnce.Do(func() {
		s.released.Store(true)
		if s.ingest != nil {
			s.ingest.Close()
		}
		switch {
		case s.proc != nil:
			s.releaseErr = s.proc.Terminate()
		case s.closer != nil:
			s.releaseErr = s.closer.Close()
		}
		s.log.Debug("source released", "id", s.id, "error", s.releaseErr)
	})
	return s.releaseErr
}

// IsOpen reports whether the source has not been released yet.
func (s *FrameSource) IsOpen() bool {
	return !s.released.Load()
}

// ID returns the unique id stamped on every frame from this source.
func (s *FrameSource) ID() string { return s.id }

// Descriptor returns the descriptor the source was opened with.
func (s *FrameSource) Descriptor() Descriptor { return s.desc }

// Metadata returns the probed stream metadata.
func (s *FrameSource) Metadata() media.Metadata { return s.meta }

func (s *FrameSource) Width() int { return s.meta.Width }

func (s *FrameSource) Height() int { return s.meta.Height }

func (s *FrameSource) FrameRate() float64 { return s.meta.FrameRate }

// FrameCount returns the advertised frame count, or 0 if unknown.
func (s *FrameSource) FrameCount() int { return s.meta.FrameCount }

// StderrTail returns the decoder's most recent stderr lines.
func (s *FrameSource) StderrTail() []string {
	if s.proc == nil {
		return nil
	}
	return s.proc.Tail()
}
