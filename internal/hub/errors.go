package hub

import "errors"

var (
	ErrHubAlreadyRunning   = errors.New("hub is already running")
	ErrHubNotRunning       = errors.New("hub is not running")
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection already attached")
	ErrUnknownConnection   = errors.New("connection not attached")
	ErrNilEvent            = errors.New("event cannot be nil")
)
