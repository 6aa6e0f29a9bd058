package api

import (
	"github.com/labstack/echo/v4"

	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

const identityKey = "identity"

// authMiddleware rejects requests without a valid token and stores the
// caller's identity on the context
func authMiddleware(auth interfaces.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if auth == nil {
				return errUnauthorized
			}
			identity, err := auth.Authenticate(ctx.Request())
			if err != nil || !identity.Authenticated {
				return errUnauthorized.WithInternal(err)
			}
			ctx.Set(identityKey, identity)
			return next(ctx)
		}
	}
}

func identityFrom(ctx echo.Context) (types.Identity, bool) {
	identity, ok := ctx.Get(identityKey).(types.Identity)
	return identity, ok
}

func mustIdentity(ctx echo.Context) (types.Identity, error) {
	identity, ok := identityFrom(ctx)
	if !ok {
		return types.Identity{}, errUnauthorized
	}
	return identity, nil
}
