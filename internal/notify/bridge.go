package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"campuswire/pkg/types"
)

// Broadcaster is the slice of the hub the bridge needs
type Broadcaster interface {
	Broadcast(ctx context.Context, event *types.Event) int
}

// ForumUpdate is the payload for ThreadCreated and ThreadStateChanged
type ForumUpdate struct {
	Message string
	Thread  interface{}
}

type job struct {
	event *types.Event
}

// Bridge lets request handlers hand realtime notifications to the hub
// without waiting on delivery. Publish never fails the caller: problems
// are logged and counted.
type Bridge struct {
	hub    Broadcaster
	logger *zap.Logger

	queue           chan job
	shutdownChannel chan struct{}
	done            chan struct{}

	running bool
	mu      sync.RWMutex

	accepted  atomic.Int64
	rejected  atomic.Int64
	delivered atomic.Int64
}

// NewBridge creates a bridge with a bounded queue
func NewBridge(hub Broadcaster, queueSize int, logger *zap.Logger) *Bridge {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		hub:             hub,
		logger:          logger.With(zap.String("component", "notify")),
		queue:           make(chan job, queueSize),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start begins draining the queue into the hub
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrBridgeAlreadyRunning
	}
	b.running = true
	go b.run(ctx)
	return nil
}

// Stop delivers what is already queued, then stops the worker
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBridgeNotRunning
	}
	b.running = false
	close(b.shutdownChannel)
	b.mu.Unlock()

	<-b.done
	return nil
}

// Publish validates the room name, renders the wire frame for eventType
// and queues it. It never blocks and never returns an error.
func (b *Bridge) Publish(eventType types.BridgeEvent, roomName string, payload interface{}) {
	if err := b.enqueue(eventType, roomName, "", payload); err != nil {
		b.rejected.Add(1)
		b.logger.Warn("Notification dropped",
			zap.String("event", string(eventType)),
			zap.String("room", roomName),
			zap.Error(err))
	}
}

// PublishFrom is Publish with the acting user recorded on the event
func (b *Bridge) PublishFrom(origin string, eventType types.BridgeEvent, roomName string, payload interface{}) {
	if err := b.enqueue(eventType, roomName, origin, payload); err != nil {
		b.rejected.Add(1)
		b.logger.Warn("Notification dropped",
			zap.String("event", string(eventType)),
			zap.String("room", roomName),
			zap.String("origin", origin),
			zap.Error(err))
	}
}

func (b *Bridge) enqueue(eventType types.BridgeEvent, roomName, origin string, payload interface{}) error {
	if _, err := types.ParseRoom(roomName); err != nil {
		return err
	}
	wireType, frame, err := Render(eventType, payload)
	if err != nil {
		return err
	}
	event, err := types.NewEvent(wireType, roomName, origin, frame)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return ErrBridgeNotRunning
	}

	select {
	case b.queue <- job{event: event}:
		b.accepted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Render maps a bridge event onto its outbound wire frame
func Render(eventType types.BridgeEvent, payload interface{}) (types.EventType, interface{}, error) {
	switch eventType {
	case types.BridgeNewPost:
		return types.EventNewPost, types.PostFrame{Type: types.EventNewPost, Post: payload}, nil
	case types.BridgeNewComment:
		return types.EventNewComment, types.CommentFrame{Type: types.EventNewComment, Comment: payload}, nil
	case types.BridgeModerationAction:
		return types.EventModeration, types.ModerationFrame{Type: types.EventModeration, Moderation: payload}, nil
	case types.BridgeThreadCreated:
		return types.EventForumUpdate, forumFrame(payload, "New thread created"), nil
	case types.BridgeThreadStateChanged:
		return types.EventForumUpdate, forumFrame(payload, "Thread updated"), nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

func forumFrame(payload interface{}, fallback string) types.ForumUpdateFrame {
	frame := types.ForumUpdateFrame{Type: types.EventForumUpdate, Message: fallback}
	switch p := payload.(type) {
	case ForumUpdate:
		if p.Message != "" {
			frame.Message = p.Message
		}
		frame.Thread = p.Thread
	case *ForumUpdate:
		if p.Message != "" {
			frame.Message = p.Message
		}
		frame.Thread = p.Thread
	case string:
		frame.Message = p
	default:
		frame.Thread = payload
	}
	return frame
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case j := <-b.queue:
			b.deliver(ctx, j)
		case <-b.shutdownChannel:
			b.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) drain(ctx context.Context) {
	for {
		select {
		case j := <-b.queue:
			b.deliver(ctx, j)
		default:
			return
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, j job) {
	n := b.hub.Broadcast(ctx, j.event)
	b.delivered.Add(1)
	b.logger.Debug("Notification broadcast",
		zap.String("type", string(j.event.Type)),
		zap.String("room", j.event.Room),
		zap.Int("local_recipients", n))
}

// GetStats returns queue counters
func (b *Bridge) GetStats() map[string]int {
	return map[string]int{
		"accepted":  int(b.accepted.Load()),
		"rejected":  int(b.rejected.Load()),
		"delivered": int(b.delivered.Load()),
		"queued":    len(b.queue),
	}
}
