package database

import "errors"

var (
	ErrManagerClosed     = errors.New("database manager is closed")
	ErrShuttingDown      = errors.New("database manager is shutting down")
	ErrWriteTimeout      = errors.New("write operation timeout")
	ErrInvalidDocument   = errors.New("document data must be a JSON object")
	ErrInvalidDocumentID = errors.New("document id must be 1-128 characters")
)
