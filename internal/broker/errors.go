package broker

import "errors"

var (
	ErrEmptyChannel   = errors.New("channel name cannot be empty")
	ErrPublishFailed  = errors.New("publish failed after retries")
	ErrRedisNoAddress = errors.New("redis address cannot be empty")
)
