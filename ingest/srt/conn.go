package srt

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Stats captures connection-level metrics for an SRT source.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
	StreamID      string `json:"streamId,omitempty"`
}

// Conn is an established SRT connection exposed as an io.ReadCloser, with
// read counters for diagnostics.
type Conn struct {
	rc         io.ReadCloser
	remoteAddr string
	streamID   string
	startedAt  time.Time

	bytesReceived atomic.Int64
	readCount     atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

func newConn(rc io.ReadCloser, remoteAddr, streamID string) *Conn {
	return &Conn{
		rc:         rc,
		remoteAddr: remoteAddr,
		streamID:   streamID,
		startedAt:  time.Now(),
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 {
		c.bytesReceived.Add(int64(n))
		c.readCount.Add(1)
	}
	return n, err
}

// Close closes the underlying socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rc.Close()
	})
	return c.closeErr
}

// Stats returns a snapshot of the connection metrics.
func (c *Conn) Stats() Stats {
	return Stats{
		BytesReceived: c.bytesReceived.Load(),
		ReadCount:     c.readCount.Load(),
		ConnectedAt:   c.startedAt.UnixMilli(),
		UptimeMs:      time.Since(c.startedAt).Milliseconds(),
		RemoteAddr:    c.remoteAddr,
		StreamID:      c.streamID,
	}
}
