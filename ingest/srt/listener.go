package srt

import (
	"context"
	"fmt"

	srtgo "github.com/zsiec/srtgo"
)

// accept listens on req.Address and returns the first publisher whose
// stream id matches req.StreamID (any publisher when it is empty). The
// listener is closed before accept returns.
func (c *Caller) accept(ctx context.Context, req Request) (*Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(req.Address, cfg)
	if err != nil {
		return nil, fmt.Errorf("srt: listen on %s: %w", req.Address, err)
	}
	c.log.Info("waiting for publisher", "addr", req.Address, "stream_id", req.StreamID)

	want := ""
	if req.StreamID != "" {
		want = extractStreamKey(req.StreamID)
	}
	l.SetAcceptRejectFunc(func(cr srtgo.ConnRequest) srtgo.RejectReason {
		if want != "" && extractStreamKey(cr.StreamID) != want {
			return srtgo.RejPeer
		}
		return 0
	})

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("accept error", "error", err)
			continue
		}

		l.Close()
		streamID := conn.StreamID()
		c.log.Info("publisher connected", "stream_key", extractStreamKey(streamID), "remote", conn.RemoteAddr())
		return newConn(conn, conn.RemoteAddr().String(), streamID), nil
	}
}
