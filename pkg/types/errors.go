package types

import "errors"

var (
	ErrInvalidUserID     = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomType   = errors.New("unknown room type")
	ErrInvalidRoomKey    = errors.New("room key must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomName   = errors.New("malformed room name")
	ErrSelfPrivateRoom   = errors.New("cannot open a private room with oneself")
	ErrInvalidFrame      = errors.New("frame could not be encoded")
	ErrEmptyMessage      = errors.New("message cannot be empty")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrInvalidCollection = errors.New("collection must be lowercase alphanumeric + underscore")
	ErrInvalidFieldName  = errors.New("field name must be alphanumeric + underscore only")
	ErrInvalidOperator   = errors.New("unsupported query operator")
	ErrInvalidLimit      = errors.New("query limit cannot be negative")
)
