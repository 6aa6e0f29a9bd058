package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"campuswire/pkg/interfaces"
)

type memoryMessage struct {
	channel string
	payload []byte
}

// Memory is an in-process broker. Several hubs sharing one Memory behave
// like several server processes sharing a Redis instance.
type Memory struct {
	mu         sync.RWMutex
	subs       map[int]chan memoryMessage
	nextID     int
	bufferSize int
	closed     bool
	done       chan struct{}
	logger     *zap.Logger
}

var _ interfaces.Broker = (*Memory)(nil)

// NewMemory creates an in-process broker with a per-subscriber buffer
func NewMemory(bufferSize int, logger *zap.Logger) *Memory {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		subs:       make(map[int]chan memoryMessage),
		bufferSize: bufferSize,
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "broker.memory")),
	}
}

// Publish hands the payload to every subscriber without blocking.
// A subscriber whose buffer is full misses the message.
func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return interfaces.ErrBrokerClosed
	}

	msg := memoryMessage{channel: channel, payload: append([]byte(nil), payload...)}
	for id, ch := range m.subs {
		select {
		case ch <- msg:
		default:
			m.logger.Warn("Subscriber buffer full, dropping message",
				zap.Int("subscriber", id),
				zap.String("channel", channel))
		}
	}
	return nil
}

// Subscribe delivers messages to handler until ctx is done or the broker closes
func (m *Memory) Subscribe(ctx context.Context, handler interfaces.MessageHandler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return interfaces.ErrBrokerClosed
	}
	id := m.nextID
	m.nextID++
	ch := make(chan memoryMessage, m.bufferSize)
	m.subs[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}()

	for {
		select {
		case msg := <-ch:
			handler(msg.channel, msg.payload)
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return interfaces.ErrBrokerClosed
		}
	}
}

// Subscribers returns the number of active subscriptions
func (m *Memory) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}
