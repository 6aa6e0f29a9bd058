package auth

import (
	"errors"
	"fmt"

	"campuswire/pkg/interfaces"
)

var (
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrMissingToken  = fmt.Errorf("%w: missing token", interfaces.ErrUnauthorized)
	ErrInvalidToken  = fmt.Errorf("%w: invalid token", interfaces.ErrUnauthorized)
	ErrMissingClaim  = fmt.Errorf("%w: token missing subject", interfaces.ErrUnauthorized)
)
