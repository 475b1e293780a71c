package pipeline

import (
	"sync"
	"sync/atomic"
)

// State is the lifecycle of a stream: Created, then Running after Start,
// then Stopped. Stopped is terminal.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stateMachine holds a State that only moves forward.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) Load() State { return State(m.v.Load()) }

// start moves Created to Running and reports whether it did.
func (m *stateMachine) start() bool {
	return m.v.CompareAndSwap(int32(StateCreated), int32(StateRunning))
}

// stop moves to Stopped and reports whether this call made the transition.
func (m *stateMachine) stop() bool {
	return m.v.Swap(int32(StateStopped)) != int32(StateStopped)
}

// broadcast wakes every goroutine waiting on the channel returned by wait
// each time notify is called.
type broadcast struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcast() *broadcast {
	return &broadcast{ch: make(chan struct{})}
}

func (b *broadcast) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcast) notify() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}
