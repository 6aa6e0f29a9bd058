package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"campuswire/internal/hub"
	"campuswire/internal/presence"
	"campuswire/internal/room"
	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// Config tunes the per-connection protocol
type Config struct {
	HistoryLimit       int
	MaxMessageLength   int
	PersistTimeout     time.Duration
	RateLimitPerMinute int
}

// DefaultConfig returns the production protocol settings
func DefaultConfig() Config {
	return Config{
		HistoryLimit:       50,
		MaxMessageLength:   4000,
		PersistTimeout:     5 * time.Second,
		RateLimitPerMinute: 100,
	}
}

// Request is the room a client asked for when connecting
type Request struct {
	RoomType types.RoomType
	Key      string
}

// Router drives the protocol for every connection: it authorizes the
// requested room, joins it, replays history and dispatches inbound frames.
type Router struct {
	hub         *hub.Hub
	resolver    *room.Resolver
	presence    *presence.Tracker
	store       interfaces.RoomStore
	users       interfaces.UserDirectory
	rateLimiter *RateLimiter
	validate    *validator.Validate
	cfg         Config
	logger      *zap.Logger
}

// NewRouter creates a router. users may be nil, in which case the
// identity's username or id is shown.
func NewRouter(h *hub.Hub, resolver *room.Resolver, tracker *presence.Tracker, store interfaces.RoomStore, users interfaces.UserDirectory, cfg Config, logger *zap.Logger) *Router {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		hub:         h,
		resolver:    resolver,
		presence:    tracker,
		store:       store,
		users:       users,
		rateLimiter: NewRateLimiter(cfg.RateLimitPerMinute),
		validate:    validator.New(),
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "router")),
	}
}

// Open runs Connecting -> Authorizing -> Joined for conn. On error the
// session never joined anything and the caller closes the transport
// with room.CloseCode(err).
func (r *Router) Open(ctx context.Context, conn interfaces.Connection, req Request) (*Session, error) {
	identity := conn.Identity()
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		router:   r,
		conn:     conn,
		identity: identity,
		ctx:      sessionCtx,
		cancel:   cancel,
		state:    StateConnecting,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateAuthorizing
	resolved, err := r.resolver.Resolve(ctx, req.RoomType, req.Key, identity)
	if err != nil {
		s.state = StateClosed
		cancel()
		r.logger.Info("Connection refused",
			zap.String("connection", conn.ID()),
			zap.String("user", identity.ID),
			zap.String("room_type", string(req.RoomType)),
			zap.Int("close_code", room.CloseCode(err)),
			zap.Error(err))
		return nil, err
	}
	s.room = resolved
	s.username = r.displayName(ctx, identity)

	gate := newReplayGate(conn)
	if err := r.hub.Attach(gate); err != nil {
		s.state = StateClosed
		cancel()
		return nil, err
	}
	if err := r.hub.Join(conn.ID(), resolved.Name()); err != nil {
		r.hub.LeaveAll(conn.ID())
		s.state = StateClosed
		cancel()
		return nil, err
	}
	r.presence.MarkOnline(ctx, s.presenceIdentity(), resolved.Name())

	replayed := r.sendHistory(ctx, s, resolved.Name())
	if err := gate.release(replayed); err != nil {
		r.logger.Warn("Failed to flush frames held during history replay",
			zap.String("connection", conn.ID()),
			zap.Error(err))
	}

	s.state = StateJoined
	r.logger.Info("Connection joined",
		zap.String("connection", conn.ID()),
		zap.String("user", identity.ID),
		zap.String("room", resolved.Name()))
	return s, nil
}

// sendHistory replays the newest messages oldest first and returns the
// ids it wrote
func (r *Router) sendHistory(ctx context.Context, s *Session, roomName string) map[string]struct{} {
	if r.store == nil {
		return nil
	}
	histCtx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
	defer cancel()

	messages, err := r.store.RecentMessages(histCtx, roomName, r.cfg.HistoryLimit)
	if err != nil {
		r.logger.Warn("Failed to load room history",
			zap.String("room", roomName),
			zap.Error(err))
		return nil
	}

	replayed := make(map[string]struct{}, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		if err := s.conn.WriteJSON(types.NewChatMessageFrame(messages[i])); err != nil {
			r.logger.Warn("Failed to send history",
				zap.String("connection", s.conn.ID()),
				zap.Error(err))
			break
		}
		replayed[messages[i].ID] = struct{}{}
	}
	return replayed
}

// HandleFrame processes one inbound frame. Malformed or unknown frames
// are logged and dropped; only a closed session returns an error.
func (s *Session) HandleFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJoined {
		return ErrSessionClosed
	}
	r := s.router

	frame, err := decodeFrame(data)
	if err != nil {
		r.logger.Debug("Dropping frame",
			zap.String("connection", s.conn.ID()),
			zap.Error(err))
		return nil
	}
	if err := r.validate.Struct(frame); err != nil {
		r.logger.Debug("Dropping invalid frame",
			zap.String("connection", s.conn.ID()),
			zap.String("action", frame.Action),
			zap.Error(err))
		return nil
	}

	switch frame.Action {
	case types.ActionMessage:
		r.handleMessage(s, frame)
	case types.ActionTyping:
		r.handleTyping(s, frame)
	case types.ActionSubscribe:
		r.handleSubscribe(s, frame)
	case types.ActionUnsubscribe:
		r.handleUnsubscribe(s, frame)
	}
	return nil
}

// decodeFrame peeks the action and reads only the fields that action
// uses. Fields of the wrong JSON type make the frame malformed.
func decodeFrame(data []byte) (*types.InboundFrame, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedFrame
	}
	fields := gjson.GetManyBytes(data, "action", "message", "is_typing", "room")
	action, message, typing, roomName := fields[0], fields[1], fields[2], fields[3]

	if action.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing action", ErrMalformedFrame)
	}
	frame := &types.InboundFrame{Action: action.String()}

	room, err := optionalString(roomName, "room")
	if err != nil {
		return nil, err
	}

	switch frame.Action {
	case types.ActionMessage:
		if message.Type != gjson.String {
			return nil, fmt.Errorf("%w: message must be a string", ErrMalformedFrame)
		}
		frame.Message = message.String()
		frame.Room = room
	case types.ActionTyping:
		if typing.Exists() && !typing.IsBool() {
			return nil, fmt.Errorf("%w: is_typing must be a boolean", ErrMalformedFrame)
		}
		frame.IsTyping = typing.Bool()
		frame.Room = room
	case types.ActionSubscribe, types.ActionUnsubscribe:
		frame.Room = room
	}
	return frame, nil
}

func optionalString(v gjson.Result, name string) (string, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return "", nil
	}
	if v.Type != gjson.String {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformedFrame, name)
	}
	return v.String(), nil
}

// targetRoom picks the room a message or typing frame addresses. Frames
// without a room go to the connection's own room.
func (r *Router) targetRoom(s *Session, requested string) (string, error) {
	if requested == "" || requested == s.room.Name() {
		return s.room.Name(), nil
	}
	if !r.hub.IsMember(s.conn.ID(), requested) {
		return "", ErrNotJoined
	}
	return requested, nil
}

// handleMessage persists then broadcasts. A failed persist still
// broadcasts and warns the sender.
func (r *Router) handleMessage(s *Session, frame *types.InboundFrame) {
	roomName, err := r.targetRoom(s, frame.Room)
	if err != nil {
		r.notice(s, types.EventError, "message rejected: "+err.Error(), frame.Room)
		return
	}

	if !r.rateLimiter.Allow(s.identity.ID) {
		r.notice(s, types.EventDeliveryWarning, ErrRateLimitExceeded.Error(), roomName)
		return
	}

	msg := &types.ChatMessage{
		ID:         uuid.New().String(),
		Room:       roomName,
		SenderID:   s.identity.ID,
		SenderName: s.username,
		Body:       frame.Message,
		Timestamp:  time.Now().UTC(),
	}
	if err := msg.Validate(r.cfg.MaxMessageLength); err != nil {
		r.notice(s, types.EventError, "message rejected: "+err.Error(), roomName)
		return
	}

	if r.store != nil {
		persistCtx, cancel := context.WithTimeout(s.ctx, r.cfg.PersistTimeout)
		err := r.store.AppendMessage(persistCtx, msg)
		cancel()
		if err != nil {
			r.logger.Warn("Message not persisted, broadcasting anyway",
				zap.String("room", roomName),
				zap.String("user", s.identity.ID),
				zap.Error(err))
			r.notice(s, types.EventDeliveryWarning, "message delivered but not saved", roomName)
		}
	}

	if err := r.hub.BroadcastFrame(s.ctx, roomName, types.EventChatMessage, s.identity.ID, types.NewChatMessageFrame(msg)); err != nil {
		r.logger.Error("Failed to broadcast chat message", zap.String("room", roomName), zap.Error(err))
	}
}

func (r *Router) handleTyping(s *Session, frame *types.InboundFrame) {
	roomName, err := r.targetRoom(s, frame.Room)
	if err != nil {
		return
	}
	typing := types.TypingFrame{
		Type:     types.EventTypingIndicator,
		User:     s.username,
		IsTyping: frame.IsTyping,
	}
	if err := r.hub.BroadcastFrame(s.ctx, roomName, types.EventTypingIndicator, s.identity.ID, typing); err != nil {
		r.logger.Error("Failed to broadcast typing indicator", zap.String("room", roomName), zap.Error(err))
	}
}

// handleSubscribe adds an extra room after authorizing it
func (r *Router) handleSubscribe(s *Session, frame *types.InboundFrame) {
	resolved, err := r.resolver.ResolveName(s.ctx, frame.Room, s.identity)
	if err != nil {
		r.notice(s, types.EventError, "subscribe rejected: "+err.Error(), frame.Room)
		return
	}
	name := resolved.Name()
	if r.hub.IsMember(s.conn.ID(), name) {
		return
	}
	if err := r.hub.Join(s.conn.ID(), name); err != nil {
		r.logger.Warn("Subscribe failed", zap.String("room", name), zap.Error(err))
		return
	}
	r.presence.MarkOnline(s.ctx, s.presenceIdentity(), name)
}

func (r *Router) handleUnsubscribe(s *Session, frame *types.InboundFrame) {
	if frame.Room == s.room.Name() {
		r.notice(s, types.EventError, ErrPrimaryRoom.Error(), frame.Room)
		return
	}
	if !r.hub.IsMember(s.conn.ID(), frame.Room) {
		return
	}
	r.hub.Leave(s.conn.ID(), frame.Room)
	r.presence.MarkOffline(s.ctx, s.presenceIdentity(), frame.Room)
}

// leave is called once from Session.Close with s.mu held
func (r *Router) leave(s *Session) []string {
	if s.state != StateJoined {
		return nil
	}
	left := r.hub.LeaveAll(s.conn.ID())

	// The session context is already cancelled; presence still needs a
	// bounded window to reach the room
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	defer cancel()
	for _, roomName := range left {
		r.presence.MarkOffline(ctx, s.presenceIdentity(), roomName)
	}

	r.logger.Info("Connection closed",
		zap.String("connection", s.conn.ID()),
		zap.String("user", s.identity.ID),
		zap.Strings("rooms", left))
	return left
}

func (r *Router) notice(s *Session, kind types.EventType, message, roomName string) {
	if err := s.conn.WriteJSON(types.NoticeFrame{Type: kind, Message: message, Room: roomName}); err != nil {
		r.logger.Debug("Failed to send notice", zap.String("connection", s.conn.ID()), zap.Error(err))
	}
}

// displayName resolves the name shown to other users
func (r *Router) displayName(ctx context.Context, identity types.Identity) string {
	if identity.Username != "" || r.users == nil {
		return identity.DisplayName()
	}
	name, err := r.users.GetUsername(ctx, identity.ID)
	if err != nil || name == "" {
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			r.logger.Warn("Username lookup failed", zap.String("user", identity.ID), zap.Error(err))
		}
		return identity.ID
	}
	return name
}

func (s *Session) presenceIdentity() types.Identity {
	id := s.identity
	id.Username = s.username
	return id
}

// RunCleanup prunes idle rate limiter entries until ctx is done
func (r *Router) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.rateLimiter.Cleanup(); n > 0 {
				r.logger.Debug("Pruned rate limiter entries", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
