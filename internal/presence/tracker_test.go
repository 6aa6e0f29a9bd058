package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"campuswire/pkg/types"
)

type recordedFrame struct {
	room  string
	frame types.PresenceFrame
}

type mockBroadcaster struct {
	mu     sync.Mutex
	frames []recordedFrame
}

func (m *mockBroadcaster) BroadcastFrame(ctx context.Context, room string, eventType types.EventType, origin string, frame interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, recordedFrame{room: room, frame: frame.(types.PresenceFrame)})
	return nil
}

func (m *mockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

var alice = types.Identity{ID: "5", Username: "alice", Authenticated: true}

func TestTracker_FirstJoinEmitsOnline(t *testing.T) {
	b := &mockBroadcaster{}
	tr := NewTracker(b, nil)
	ctx := context.Background()

	if !tr.MarkOnline(ctx, alice, "thread:1") {
		t.Error("first connection should flip presence online")
	}
	if tr.MarkOnline(ctx, alice, "thread:1") {
		t.Error("second connection must not flip presence again")
	}
	if b.count() != 1 {
		t.Fatalf("Expected 1 presence event, got %d", b.count())
	}
	got := b.frames[0]
	if got.room != "thread:1" || got.frame.User != "alice" || !got.frame.IsOnline || got.frame.Type != types.EventUserPresence {
		t.Errorf("unexpected presence frame: %+v", got)
	}
	if !tr.IsOnline("5", "thread:1") {
		t.Error("user should be online")
	}
}

func TestTracker_LastLeaveEmitsOffline(t *testing.T) {
	b := &mockBroadcaster{}
	tr := NewTracker(b, nil)
	ctx := context.Background()

	tr.MarkOnline(ctx, alice, "thread:1")
	tr.MarkOnline(ctx, alice, "thread:1")

	if tr.MarkOffline(ctx, alice, "thread:1") {
		t.Error("closing one of two connections must not flip presence")
	}
	if b.count() != 1 {
		t.Errorf("Expected no offline event yet, got %d events", b.count())
	}
	if !tr.IsOnline("5", "thread:1") {
		t.Error("user should still be online")
	}

	if !tr.MarkOffline(ctx, alice, "thread:1") {
		t.Error("closing the last connection should flip presence offline")
	}
	if b.count() != 2 || b.frames[1].frame.IsOnline {
		t.Errorf("Expected offline event, got %+v", b.frames)
	}

	// Extra offline calls are ignored
	if tr.MarkOffline(ctx, alice, "thread:1") {
		t.Error("offline below zero must be ignored")
	}
	if b.count() != 2 {
		t.Errorf("Expected no further events, got %d", b.count())
	}
}

func TestTracker_RoomsAreIndependent(t *testing.T) {
	tr := NewTracker(&mockBroadcaster{}, nil)
	ctx := context.Background()

	tr.MarkOnline(ctx, alice, "thread:1")
	tr.MarkOnline(ctx, alice, "course:7")
	tr.MarkOffline(ctx, alice, "thread:1")

	if tr.IsOnline("5", "thread:1") {
		t.Error("user should be offline in thread:1")
	}
	if !tr.IsOnline("5", "course:7") {
		t.Error("user should still be online in course:7")
	}
	if users := tr.OnlineUsers("course:7"); len(users) != 1 || users[0] != "5" {
		t.Errorf("unexpected online users: %v", users)
	}
}

func TestTracker_StateKeepsChangeTime(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	if _, ok := tr.Get("5", "thread:1"); ok {
		t.Error("no state expected before first join")
	}
	tr.MarkOnline(ctx, alice, "thread:1")
	st, ok := tr.Get("5", "thread:1")
	if !ok || !st.Online || st.Count != 1 || st.ChangedAt.IsZero() {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestTracker_ConcurrentConnections(t *testing.T) {
	b := &mockBroadcaster{}
	tr := NewTracker(b, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.MarkOnline(ctx, alice, "thread:1")
		}()
	}
	wg.Wait()
	if b.count() != 1 {
		t.Errorf("Expected exactly one online event, got %d", b.count())
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.MarkOffline(ctx, alice, "thread:1")
		}()
	}
	wg.Wait()
	if b.count() != 2 {
		t.Errorf("Expected exactly one offline event, got %d total", b.count())
	}
}

// gatedBroadcaster holds offline frames until release is closed
type gatedBroadcaster struct {
	mockBroadcaster
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBroadcaster) BroadcastFrame(ctx context.Context, room string, eventType types.EventType, origin string, frame interface{}) error {
	if !frame.(types.PresenceFrame).IsOnline {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.mockBroadcaster.BroadcastFrame(ctx, room, eventType, origin, frame)
}

func TestTracker_SlowOfflineBroadcastKeepsOrder(t *testing.T) {
	b := &gatedBroadcaster{entered: make(chan struct{}, 1), release: make(chan struct{})}
	tr := NewTracker(b, nil)
	ctx := context.Background()

	tr.MarkOnline(ctx, alice, "course:101")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.MarkOffline(ctx, alice, "course:101")
	}()
	<-b.entered

	// a second tab connects while the offline frame is still in flight
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.MarkOnline(ctx, alice, "course:101")
	}()
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	var seq []bool
	for _, f := range b.frames {
		seq = append(seq, f.frame.IsOnline)
	}
	if len(seq) != 3 || !seq[0] || seq[1] || !seq[2] {
		t.Errorf("Expected presence sequence [true false true], got %v", seq)
	}
	if !tr.IsOnline("5", "course:101") {
		t.Error("user should be online after the second tab joined")
	}
}
