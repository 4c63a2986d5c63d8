package scheduler

import "errors"

var (
	// ErrQueueFull is returned when a turn is rejected because the session queue is full (drop=new policy).
	ErrQueueFull = errors.New("session queue is full")

	// ErrQueueDropped is returned when a queued turn is evicted to make room (drop=old policy).
	ErrQueueDropped = errors.New("turn dropped from session queue")
)
