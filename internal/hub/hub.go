package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// Hub is the connection registry: it tracks which live connections are
// joined to which rooms and fans events out to them. With a broker it
// also relays every broadcast to the hubs of other server processes.
type Hub struct {
	nodeID string
	broker interfaces.Broker
	logger *zap.Logger

	// Membership state
	// TECHNICAL DISCOVERY: memberships is the reverse index of rooms so
	// LeaveAll never scans every room
	mu          sync.RWMutex
	connections map[string]interfaces.Connection
	rooms       map[string]map[string]interfaces.Connection
	memberships map[string]map[string]struct{}

	// Remote delivery
	remoteChannel   chan *envelope
	publishTimeout  time.Duration
	shutdownChannel chan struct{}
	cancel          context.CancelFunc
	wg              sync.WaitGroup

	running bool
	runMu   sync.RWMutex

	delivered       atomic.Int64
	dropped         atomic.Int64
	published       atomic.Int64
	publishFailures atomic.Int64
	remoteReceived  atomic.Int64
}

// envelope is the broker wire format. Node identifies the publishing hub
// so it can ignore its own messages.
type envelope struct {
	Node  string       `json:"node"`
	Event *types.Event `json:"event"`
}

// Config tunes the hub
type Config struct {
	// RemoteBuffer bounds broker messages waiting for local delivery
	RemoteBuffer int
	// PublishTimeout bounds a single broker publish
	PublishTimeout time.Duration
}

// NewHub creates a hub. broker may be nil for single-process deployments.
func NewHub(broker interfaces.Broker, cfg Config, logger *zap.Logger) *Hub {
	if cfg.RemoteBuffer <= 0 {
		cfg.RemoteBuffer = 1000
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nodeID := uuid.New().String()

	return &Hub{
		nodeID:          nodeID,
		broker:          broker,
		logger:          logger.With(zap.String("component", "hub"), zap.String("node", nodeID)),
		connections:     make(map[string]interfaces.Connection),
		rooms:           make(map[string]map[string]interfaces.Connection),
		memberships:     make(map[string]map[string]struct{}),
		remoteChannel:   make(chan *envelope, cfg.RemoteBuffer),
		shutdownChannel: make(chan struct{}),
		publishTimeout:  cfg.PublishTimeout,
	}
}

// NodeID identifies this hub on the broker
func (h *Hub) NodeID() string {
	return h.nodeID
}

// Start begins relaying broker messages to local connections.
// Local joins and broadcasts work whether or not the hub is started.
func (h *Hub) Start(ctx context.Context) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	// Stop closes the channel, so each run gets a fresh one
	h.shutdownChannel = make(chan struct{})

	ctx, h.cancel = context.WithCancel(ctx)
	h.logger.Info("Starting hub", zap.Bool("broker", h.broker != nil))

	h.wg.Add(1)
	go h.run(ctx, h.shutdownChannel)

	if h.broker != nil {
		h.wg.Add(1)
		go h.subscribeLoop(ctx)
	}
	return nil
}

// Stop halts the relay goroutines and waits for them to exit
func (h *Hub) Stop() error {
	h.runMu.Lock()
	if !h.running {
		h.runMu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	shutdown := h.shutdownChannel
	h.runMu.Unlock()

	h.logger.Info("Stopping hub")

	select {
	case <-shutdown:
	default:
		close(shutdown)
	}
	h.cancel()
	h.wg.Wait()
	return nil
}

// IsRunning reports whether the relay goroutines are active
func (h *Hub) IsRunning() bool {
	h.runMu.RLock()
	defer h.runMu.RUnlock()
	return h.running
}

// Attach registers a live connection so it can join rooms
func (h *Hub) Attach(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	h.connections[conn.ID()] = conn
	h.memberships[conn.ID()] = make(map[string]struct{})
	return nil
}

// Join adds the connection to room. Joining twice is a no-op.
func (h *Hub) Join(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, exists := h.connections[connID]
	if !exists {
		return ErrUnknownConnection
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]interfaces.Connection)
		h.rooms[room] = members
	}
	members[connID] = conn
	h.memberships[connID][room] = struct{}{}
	return nil
}

// Leave removes the connection from room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, room)
}

func (h *Hub) leaveLocked(connID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		// Empty rooms are dropped so the map only holds live groups
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.memberships[connID]; ok {
		delete(joined, room)
	}
}

// LeaveAll removes the connection from every room and detaches it.
// Returns the rooms it left, sorted; a second call returns nil.
func (h *Hub) LeaveAll(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, exists := h.memberships[connID]
	if !exists {
		return nil
	}

	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	for _, room := range left {
		h.leaveLocked(connID, room)
	}
	delete(h.memberships, connID)
	delete(h.connections, connID)

	sort.Strings(left)
	return left
}

// Rooms returns the rooms a connection is joined to, sorted
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	joined := h.memberships[connID]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// IsMember reports whether the connection is joined to room
func (h *Hub) IsMember(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// MemberCount returns the number of local connections joined to room
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast delivers event to every local member of event.Room and relays
// it to other processes through the broker. Returns the number of local
// connections the frame was handed to. Delivery failures are logged and
// never returned.
func (h *Hub) Broadcast(ctx context.Context, event *types.Event) int {
	if event == nil {
		h.logger.Warn("Ignoring broadcast", zap.Error(ErrNilEvent))
		return 0
	}
	n := h.deliverLocal(event)

	if h.broker != nil {
		h.publish(ctx, event)
	}
	return n
}

// BroadcastFrame encodes frame once and broadcasts it to room
func (h *Hub) BroadcastFrame(ctx context.Context, room string, eventType types.EventType, origin string, frame interface{}) error {
	event, err := types.NewEvent(eventType, room, origin, frame)
	if err != nil {
		return err
	}
	h.Broadcast(ctx, event)
	return nil
}

// deliverLocal snapshots the member set under the read lock and sends
// outside it. Connection.Send never blocks, so one slow client cannot
// hold up the rest of the room.
func (h *Hub) deliverLocal(event *types.Event) int {
	h.mu.RLock()
	members := h.rooms[event.Room]
	targets := make([]interfaces.Connection, 0, len(members))
	for _, conn := range members {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(event.Frame); err != nil {
			h.dropped.Add(1)
			h.logger.Warn("Dropped frame for connection",
				zap.String("connection", conn.ID()),
				zap.String("room", event.Room),
				zap.String("type", string(event.Type)),
				zap.Error(err))
			continue
		}
		delivered++
	}
	h.delivered.Add(int64(delivered))
	return delivered
}

func (h *Hub) publish(ctx context.Context, event *types.Event) {
	payload, err := json.Marshal(&envelope{Node: h.nodeID, Event: event})
	if err != nil {
		h.logger.Error("Failed to encode broker envelope", zap.Error(err))
		return
	}

	// The caller's context may already be ending (e.g. a closing
	// connection); the relay still gets its own bounded window.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.publishTimeout)
	defer cancel()

	if err := h.broker.Publish(pubCtx, event.Room, payload); err != nil {
		h.publishFailures.Add(1)
		h.logger.Warn("Broker publish failed, delivered to local members only",
			zap.String("room", event.Room),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return
	}
	h.published.Add(1)
}

// subscribeLoop keeps a broker subscription alive with exponential backoff
func (h *Hub) subscribeLoop(ctx context.Context) {
	defer h.wg.Done()

	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		err := h.broker.Subscribe(ctx, h.onBrokerMessage)
		if ctx.Err() != nil {
			return
		}
		if err == interfaces.ErrBrokerClosed {
			h.logger.Warn("Broker closed, remote fan-out disabled")
			return
		}
		h.logger.Warn("Broker subscription lost, retrying",
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// onBrokerMessage runs on the broker's goroutine and must not block it
func (h *Hub) onBrokerMessage(channel string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == nil {
		h.logger.Warn("Ignoring malformed broker message", zap.String("channel", channel))
		return
	}
	if env.Node == h.nodeID {
		return
	}

	select {
	case h.remoteChannel <- &env:
	default:
		h.dropped.Add(1)
		h.logger.Warn("Remote channel full, dropping event",
			zap.String("room", env.Event.Room),
			zap.String("origin_node", env.Node))
	}
}

// run delivers relayed events to local members
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}) {
	defer h.wg.Done()
	defer h.logger.Debug("Hub relay stopped")

	for {
		select {
		case env := <-h.remoteChannel:
			h.remoteReceived.Add(1)
			h.deliverLocal(env.Event)
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// GetStats returns registry and delivery counters
func (h *Hub) GetStats() map[string]int {
	h.mu.RLock()
	memberships := 0
	for _, members := range h.rooms {
		memberships += len(members)
	}
	stats := map[string]int{
		"connections": len(h.connections),
		"rooms":       len(h.rooms),
		"memberships": memberships,
	}
	h.mu.RUnlock()

	stats["delivered"] = int(h.delivered.Load())
	stats["dropped"] = int(h.dropped.Load())
	stats["published"] = int(h.published.Load())
	stats["publish_failures"] = int(h.publishFailures.Load())
	stats["remote_received"] = int(h.remoteReceived.Load())
	return stats
}
