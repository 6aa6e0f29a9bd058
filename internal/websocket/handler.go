package websocket

import (
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campuswire/internal/room"
	"campuswire/internal/router"
	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// HandlerConfig holds upgrade settings and per-connection options
type HandlerConfig struct {
	Connection       Options
	HandshakeTimeout time.Duration
	// AllowedOrigins restricts the Origin header; empty allows any origin
	AllowedOrigins []string
}

// Handler upgrades /ws/... requests and runs one session per connection
type Handler struct {
	router   *router.Router
	auth     interfaces.Authenticator
	upgrader websocket.Upgrader
	opts     Options
	logger   *zap.Logger

	active   atomic.Int64
	accepted atomic.Int64
	refused  atomic.Int64
}

// NewHandler creates a handler. Requests whose credentials fail
// authentication are still upgraded so the client receives close code 4001.
func NewHandler(r *router.Router, auth interfaces.Authenticator, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	h := &Handler{
		router: r,
		auth:   auth,
		opts:   cfg.Connection.withDefaults(),
		logger: logger.With(zap.String("component", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ParseRoute maps a websocket path onto the room it requests:
//
//	/ws/chat/{roomType}/{roomId}/
//	/ws/forum/{threadId}/
//	/ws/moderation/
func ParseRoute(path string) (router.Request, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "ws" {
		return router.Request{}, ErrUnknownRoute
	}

	switch {
	case parts[1] == "chat" && len(parts) == 4:
		roomType, err := types.ParseRoomType(parts[2])
		if err != nil {
			// Unknown types are refused by the resolver with 4003
			roomType = types.RoomType(parts[2])
		}
		return router.Request{RoomType: roomType, Key: parts[3]}, nil
	case parts[1] == "forum" && len(parts) == 3:
		return router.Request{RoomType: types.RoomThread, Key: parts[2]}, nil
	case parts[1] == "moderation" && len(parts) == 2:
		return router.Request{RoomType: types.RoomModeration}, nil
	default:
		return router.Request{}, ErrUnknownRoute
	}
}

// ServeHTTP handles one websocket connection for its whole lifetime
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRoute(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	identity, err := h.authenticate(r)
	if err != nil {
		h.logger.Debug("Unauthenticated websocket request",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("path", r.URL.Path), zap.Error(err))
		return
	}
	conn := NewConnection(ws, identity, h.opts, h.logger)

	session, err := h.router.Open(r.Context(), conn, req)
	if err != nil {
		h.refused.Add(1)
		code := room.CloseCode(err)
		_ = conn.CloseWithCode(code, closeReason(code))
		return
	}
	h.accepted.Add(1)
	h.active.Add(1)
	defer h.active.Add(-1)

	h.serve(conn, session)
}

func (h *Handler) authenticate(r *http.Request) (types.Identity, error) {
	if h.auth == nil {
		return types.Identity{}, interfaces.ErrUnauthorized
	}
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		return types.Identity{}, err
	}
	return identity, nil
}

// serve pumps frames into the session until either side goes away.
// Session.Close runs exactly once, before the socket closes.
func (h *Handler) serve(conn *Connection, session *router.Session) {
	defer func() {
		session.Close()
		_ = conn.Close()
	}()

	err := conn.ReadLoop(session.HandleFrame)
	switch {
	case err == nil, errors.Is(err, router.ErrSessionClosed):
	case errors.Is(err, websocket.ErrReadLimit):
		h.logger.Info("Frame exceeded size limit", zap.String("connection", conn.ID()))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		h.logger.Warn("WebSocket error", zap.String("connection", conn.ID()), zap.Error(err))
	default:
		h.logger.Debug("WebSocket read ended", zap.String("connection", conn.ID()), zap.Error(err))
	}
}

func closeReason(code int) string {
	switch code {
	case room.CloseUnauthenticated:
		return "authentication required"
	case room.CloseForbidden:
		return "forbidden"
	case room.CloseNotFound:
		return "room not found"
	default:
		return "internal error"
	}
}

// GetStats returns connection counters
func (h *Handler) GetStats() map[string]int {
	return map[string]int{
		"active":   int(h.active.Load()),
		"accepted": int(h.accepted.Load()),
		"refused":  int(h.refused.Load()),
	}
}
