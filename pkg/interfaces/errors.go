package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized access")
	ErrVersionConflict = errors.New("document version conflict")
	ErrSendBufferFull  = errors.New("connection send buffer full")
	ErrBrokerClosed    = errors.New("broker closed")
)
