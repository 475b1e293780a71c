package srt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// defaultDialTimeout bounds how long Open waits for a caller-mode handshake.
const defaultDialTimeout = 10 * time.Second

// Caller opens SRT connections for the decoder, either by dialing a remote
// listener or by listening for a single publisher.
type Caller struct {
	log         *slog.Logger
	dialTimeout time.Duration
}

// NewCaller creates a Caller. If log is nil, slog.Default() is used.
func NewCaller(log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:         log.With("component", "srt-caller"),
		dialTimeout: defaultDialTimeout,
	}
}

// OpenURI parses an srt:// URI and opens it.
func (c *Caller) OpenURI(ctx context.Context, uri string) (*Conn, error) {
	req, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return c.Open(ctx, req)
}

// Open establishes the connection described by req. Caller-mode requests
// dial synchronously with a timeout; listener-mode requests block until a
// matching publisher connects or ctx is done.
func (c *Caller) Open(ctx context.Context, req Request) (*Conn, error) {
	if req.Address == "" {
		return nil, fmt.Errorf("srt: address is required")
	}
	if req.Listen {
		return c.accept(ctx, req)
	}
	return c.dial(ctx, req)
}

func (c *Caller) dial(ctx context.Context, req Request) (*Conn, error) {
	c.log.Info("dialing", "address", req.Address, "stream_id", req.StreamID)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if req.StreamID != "" {
		cfg.StreamID = req.StreamID
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(c.dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", req.Address, res.err)
		}
		c.log.Info("connected", "address", req.Address, "stream_id", req.StreamID)
		return newConn(res.conn, req.Address, req.StreamID), nil
	case <-timer.C:
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("srt: dial %s timed out after %s", req.Address, c.dialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
