package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"campuswire/pkg/types"
)

// Broadcaster is the slice of the hub the tracker needs
type Broadcaster interface {
	BroadcastFrame(ctx context.Context, room string, eventType types.EventType, origin string, frame interface{}) error
}

// State is the derived presence of one user in one room
type State struct {
	Online    bool
	Count     int
	ChangedAt time.Time
}

type key struct {
	user string
	room string
}

// entry serializes transitions and their broadcasts for one (user, room)
// so frames reach the room in the order the counts changed
type entry struct {
	State
	emitMu sync.Mutex
}

// Tracker reference-counts connections per (user, room) and emits a
// user_presence frame only when a user's count moves between 0 and 1.
// Counts are per process: with several server processes each one reports
// the connections it holds.
type Tracker struct {
	mu          sync.Mutex
	states      map[key]*entry
	broadcaster Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

func NewTracker(broadcaster Broadcaster, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		states:      make(map[key]*entry),
		broadcaster: broadcaster,
		logger:      logger.With(zap.String("component", "presence")),
		now:         time.Now,
	}
}

// MarkOnline counts one more connection for the user in room. Returns
// true when this was the user's first connection there.
func (t *Tracker) MarkOnline(ctx context.Context, user types.Identity, room string) bool {
	st := t.entry(key{user: user.ID, room: room})
	st.emitMu.Lock()
	defer st.emitMu.Unlock()

	t.mu.Lock()
	st.Count++
	changed := st.Count == 1
	if changed {
		st.Online = true
		st.ChangedAt = t.now()
	}
	t.mu.Unlock()

	if changed {
		t.emit(ctx, user, room, true)
	}
	return changed
}

// MarkOffline counts one connection fewer. Returns true when the last
// connection for the user in room went away. Extra calls are ignored.
func (t *Tracker) MarkOffline(ctx context.Context, user types.Identity, room string) bool {
	t.mu.Lock()
	st, ok := t.states[key{user: user.ID, room: room}]
	t.mu.Unlock()
	if !ok {
		return false
	}
	st.emitMu.Lock()
	defer st.emitMu.Unlock()

	t.mu.Lock()
	if st.Count == 0 {
		t.mu.Unlock()
		return false
	}
	st.Count--
	changed := st.Count == 0
	if changed {
		st.Online = false
		st.ChangedAt = t.now()
	}
	t.mu.Unlock()

	if changed {
		t.emit(ctx, user, room, false)
	}
	return changed
}

func (t *Tracker) entry(k key) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[k]
	if !ok {
		st = &entry{}
		t.states[k] = st
	}
	return st
}

// IsOnline reports whether the user holds at least one connection in room
func (t *Tracker) IsOnline(userID, room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[key{user: userID, room: room}]
	return ok && st.Online
}

// Get returns a copy of the presence state for (userID, room)
func (t *Tracker) Get(userID, room string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[key{user: userID, room: room}]
	if !ok {
		return State{}, false
	}
	return st.State, true
}

// OnlineUsers lists the user ids currently online in room, sorted
func (t *Tracker) OnlineUsers(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var users []string
	for k, st := range t.states {
		if k.room == room && st.Online {
			users = append(users, k.user)
		}
	}
	sort.Strings(users)
	return users
}

func (t *Tracker) emit(ctx context.Context, user types.Identity, room string, online bool) {
	if t.broadcaster == nil {
		return
	}
	frame := types.PresenceFrame{
		Type:     types.EventUserPresence,
		User:     user.DisplayName(),
		IsOnline: online,
	}
	if err := t.broadcaster.BroadcastFrame(ctx, room, types.EventUserPresence, user.ID, frame); err != nil {
		t.logger.Warn("Failed to broadcast presence change",
			zap.String("user", user.ID),
			zap.String("room", room),
			zap.Bool("online", online),
			zap.Error(err))
	}
}
