package dispatch

import (
	"errors"

	"xiaov/internal/runtime/workpool"
)

var (
	ErrStopped   = workpool.ErrStopped
	ErrQueueFull = workpool.ErrQueueFull
	ErrEmptyText = errors.New("empty message")
)
