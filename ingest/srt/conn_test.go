package srt

import (
	"io"
	"strings"
	"testing"
)

type countingCloser struct {
	io.Reader
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestConnCountsReads(t *testing.T) {
	t.Parallel()

	rc := &countingCloser{Reader: strings.NewReader("0123456789")}
	c := newConn(rc, "10.0.0.1:9000", "live/cam")

	buf := make([]byte, 4)
	for {
		if _, err := c.Read(buf); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}

	s := c.Stats()
	if s.BytesReceived != 10 {
		t.Errorf("BytesReceived = %d, want 10", s.BytesReceived)
	}
	if s.ReadCount != 3 {
		t.Errorf("ReadCount = %d, want 3", s.ReadCount)
	}
	if s.RemoteAddr != "10.0.0.1:9000" || s.StreamID != "live/cam" {
		t.Errorf("unexpected identity in stats: %+v", s)
	}
	if s.ConnectedAt == 0 {
		t.Error("ConnectedAt should be set")
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	t.Parallel()

	rc := &countingCloser{Reader: strings.NewReader("")}
	c := newConn(rc, "", "")
	for range 3 {
		if err := c.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if rc.closes != 1 {
		t.Errorf("underlying Close called %d times, want 1", rc.closes)
	}
}
