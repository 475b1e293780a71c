// Package stream keeps the registry of active frame pipelines, keyed by a
// caller-chosen name, so they can be listed and inspected while they run.
package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/framestream/pipeline"
)

// StatsProvider is implemented by *pipeline.StreamBuffer and *pipeline.Lane.
type StatsProvider interface {
	Stats() pipeline.Stats
}

// Stream is one registered pipeline.
type Stream struct {
	Key       string
	StartedAt time.Time
	provider  StatsProvider
	done      chan struct{}
}

// Stats returns the current pipeline snapshot.
func (s *Stream) Stats() pipeline.Stats {
	return s.provider.Stats()
}

// Done is closed when the stream is removed from its manager.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Info is the JSON view of a registered stream.
type Info struct {
	Key       string         `json:"key"`
	StartedAt time.Time      `json:"startedAt"`
	Stats     pipeline.Stats `json:"stats"`
}

// Info returns the JSON view of s.
func (s *Stream) Info() Info {
	return Info{Key: s.Key, StartedAt: s.StartedAt, Stats: s.Stats()}
}

// Manager tracks registered streams.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers p under key. It returns nil and false if the key is
// already taken.
func (m *Manager) Create(key string, p StatsProvider) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		provider:  p,
		done:      make(chan struct{}),
	}
	m.streams[key] = s
	m.log.Info("stream registered", "key", key)
	return s, true
}

// Get returns the stream registered under key.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key]
	return s, ok
}

// Remove unregisters key and closes its Done channel.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("stream removed", "key", key)
	}
}

// List returns all registered streams ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()

	sort.Slice(streams, func(i, j int) bool { return streams[i].Key < streams[j].Key })
	return streams
}

// Snapshot returns the JSON view of every registered stream.
func (m *Manager) Snapshot() []Info {
	streams := m.List()
	out := make([]Info, len(streams))
	for i, s := range streams {
		out[i] = s.Info()
	}
	return out
}
