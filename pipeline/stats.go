package pipeline

import (
	"time"

	"github.com/zsiec/framestream/media"
)

// Stats is a point-in-time snapshot of one stream, served by the status API.
type Stats struct {
	ID         string  `json:"id"`
	URI        string  `json:"uri,omitempty"`
	Index      int     `json:"index"`
	State      string  `json:"state"`
	Resolution string  `json:"resolution"`
	FrameRate  float64 `json:"frameRate"`
	FrameCount int     `json:"frameCount,omitempty"`
	Produced   int64   `json:"produced"`
	Consumed   int64   `json:"consumed"`
	QueueDepth int     `json:"queueDepth"`
	QueueCap   int     `json:"queueCap"`
	UptimeMs   int64   `json:"uptimeMs"`
	Error      string  `json:"error,omitempty"`
}

// counters tracks frame flow through one queue.
type counters struct {
	startedAt time.Time
	produced  int64
	consumed  int64
}

func buildStats(id, uri string, index int, state State, meta media.Metadata, depth, capacity int, c counters, err error) Stats {
	s := Stats{
		ID:         id,
		URI:        uri,
		Index:      index,
		State:      state.String(),
		Resolution: meta.Resolution(),
		FrameRate:  meta.FrameRate,
		FrameCount: meta.FrameCount,
		Produced:   c.produced,
		Consumed:   c.consumed,
		QueueDepth: depth,
		QueueCap:   capacity,
	}
	if !c.startedAt.IsZero() {
		s.UptimeMs = time.Since(c.startedAt).Milliseconds()
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}
