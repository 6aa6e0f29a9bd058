package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"campuswire/pkg/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func (s *Server) health(ctx echo.Context) error {
	status := http.StatusOK
	body := echo.Map{"status": "ok"}

	if s.deps.Health != nil {
		checkCtx, cancel := context.WithTimeout(ctx.Request().Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.Health.HealthCheck(checkCtx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}
	if hub, ok := s.deps.Stats["hub"]; ok {
		body["hub"] = hub.GetStats()
	}
	return ctx.JSON(status, body)
}

func (s *Server) stats(ctx echo.Context) error {
	out := make(map[string]map[string]int, len(s.deps.Stats))
	for name, src := range s.deps.Stats {
		out[name] = src.GetStats()
	}
	return ctx.JSON(http.StatusOK, out)
}

type roomHistory struct {
	Room     string               `json:"room"`
	Messages []*types.ChatMessage `json:"messages"`
}

// roomMessages returns a room's recent history oldest first, to callers
// the room resolver admits
func (s *Server) roomMessages(ctx echo.Context) error {
	identity, err := mustIdentity(ctx)
	if err != nil {
		return err
	}

	roomType, err := types.ParseRoomType(ctx.Param("roomType"))
	if err != nil {
		return errBadRoomType.WithInternal(err)
	}

	limit := defaultHistoryLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return errBadLimit
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}

	reqCtx := ctx.Request().Context()
	resolved, err := s.deps.Resolver.Resolve(reqCtx, roomType, ctx.Param("roomKey"), identity)
	if err != nil {
		return err
	}

	messages, err := s.deps.Messages.RecentMessages(reqCtx, resolved.Name(), limit)
	if err != nil {
		return errors.Wrap(err, "loading room history")
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}

	return ctx.JSON(http.StatusOK, roomHistory{Room: resolved.Name(), Messages: messages})
}
