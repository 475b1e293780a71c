package srt

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI scheme handled by this package.
const Scheme = "srt"

// Request describes an SRT source parsed from an srt:// URI.
type Request struct {
	// Address is host:port. For listeners the host may be empty.
	Address string `json:"address"`
	// StreamID is sent by callers and matched by listeners.
	StreamID string `json:"streamId,omitempty"`
	// Listen selects listener mode (?mode=listener).
	Listen bool `json:"listen,omitempty"`
}

// IsSRT reports whether uri uses the srt scheme.
func IsSRT(uri string) bool {
	return strings.HasPrefix(strings.ToLower(uri), Scheme+"://")
}

// ParseURI parses srt://host:port?streamid=live/cam1&mode=caller|listener.
// The mode defaults to caller.
func ParseURI(raw string) (Request, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Request{}, fmt.Errorf("srt: parse %q: %w", raw, err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return Request{}, fmt.Errorf("srt: unsupported scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		return Request{}, fmt.Errorf("srt: port is required in %q", raw)
	}

	q := u.Query()
	req := Request{
		Address:  u.Host,
		StreamID: q.Get("streamid"),
	}
	switch mode := strings.ToLower(q.Get("mode")); mode {
	case "", "caller":
	case "listener":
		req.Listen = true
	default:
		return Request{}, fmt.Errorf("srt: unsupported mode %q", mode)
	}
	if !req.Listen && u.Hostname() == "" {
		return Request{}, fmt.Errorf("srt: host is required in caller mode: %q", raw)
	}
	return req, nil
}

// extractStreamKey normalises a publisher stream id for matching.
func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
