package pipeline

import "errors"

// Sentinel errors returned by the pipeline package.
var (
	ErrQueueClosed      = errors.New("pipeline: queue closed")
	ErrIndexOutOfRange  = errors.New("pipeline: stream index out of range")
	ErrInvalidQueueSize = errors.New("pipeline: queue size must be positive")
	ErrNoSources        = errors.New("pipeline: at least one source is required")
	ErrAlreadyStarted   = errors.New("pipeline: already started")
	ErrStopped          = errors.New("pipeline: stopped")
)
