package forum

import (
	"errors"
	"fmt"

	"campuswire/pkg/interfaces"
)

var (
	ErrNotFound          = fmt.Errorf("forum: %w", interfaces.ErrNotFound)
	ErrForbidden         = errors.New("forum: action not permitted")
	ErrThreadClosed      = errors.New("forum: thread is closed")
	ErrInvalidTransition = errors.New("forum: invalid thread transition")
	ErrInvalidInput      = errors.New("forum: invalid input")
	ErrConflict          = fmt.Errorf("forum: %w", interfaces.ErrVersionConflict)
)
