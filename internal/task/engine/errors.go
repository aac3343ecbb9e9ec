package engine

import "errors"

var (
	ErrDisabled  = errors.New("queue engine disabled")
	ErrStopped   = errors.New("queue engine stopped")
	ErrStopping  = errors.New("queue engine stopping")
	ErrQueueFull = errors.New("queue engine inbox full")
)
