package dispatch

import (
	"github.com/pkg/errors"
)

var (
	// ErrStopped is returned by Submit when the dispatcher is not running.
	// Requests that were still queued or assigned at shutdown are resolved
	// with it as well.
	ErrStopped = errors.New("dispatcher is stopped")

	// ErrQueueFull is returned by Submit when MaxQueued is set and the
	// backlog is at capacity.
	ErrQueueFull = errors.New("too many outstanding tasks")

	// ErrTimeout resolves tasks whose unit produced no terminal message
	// within the configured task timeout. Outcomes wrap it with unit and
	// duration context; match with errors.Is.
	ErrTimeout = errors.New("task timed out")

	// ErrInvalidTask is returned by Submit for tasks without a kind.
	ErrInvalidTask = errors.New("task kind is required")
)
