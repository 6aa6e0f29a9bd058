package notify

import "errors"

var (
	ErrBridgeAlreadyRunning = errors.New("bridge is already running")
	ErrBridgeNotRunning     = errors.New("bridge is not running")
	ErrUnknownEventType     = errors.New("unknown bridge event type")
	ErrQueueFull            = errors.New("notification queue is full")
)
