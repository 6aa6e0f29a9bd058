package router

import (
	"encoding/json"
	"sync"

	"github.com/tidwall/gjson"

	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// maxHeldFrames bounds live frames held for one connection during replay
const maxHeldFrames = 256

// replayGate is what the hub holds for a joining connection. Live frames
// are held while room history is written, then flushed in arrival order,
// so a client never sees a live message before older history. Once the
// flush finishes the gate passes frames straight through.
type replayGate struct {
	interfaces.Connection

	mu        sync.Mutex
	replaying bool
	held      [][]byte
}

func newReplayGate(conn interfaces.Connection) *replayGate {
	return &replayGate{Connection: conn, replaying: true}
}

// Send never blocks, matching the hub's contract
func (g *replayGate) Send(frame []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.replaying {
		return g.Connection.Send(frame)
	}
	if len(g.held) >= maxHeldFrames {
		return interfaces.ErrSendBufferFull
	}
	g.held = append(g.held, frame)
	return nil
}

// release writes the held frames and opens the gate. Chat messages whose
// id was already replayed as history are skipped. Frames arriving during
// the flush are queued behind the ones being written.
func (g *replayGate) release(replayed map[string]struct{}) error {
	for {
		g.mu.Lock()
		batch := g.held
		g.held = nil
		if len(batch) == 0 {
			g.replaying = false
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		for _, frame := range batch {
			if alreadyReplayed(frame, replayed) {
				continue
			}
			if err := g.Connection.WriteJSON(json.RawMessage(frame)); err != nil {
				g.mu.Lock()
				g.held = nil
				g.replaying = false
				g.mu.Unlock()
				return err
			}
		}
	}
}

func alreadyReplayed(frame []byte, replayed map[string]struct{}) bool {
	if len(replayed) == 0 {
		return false
	}
	fields := gjson.GetManyBytes(frame, "type", "id")
	if fields[0].String() != string(types.EventChatMessage) || !fields[1].Exists() {
		return false
	}
	_, ok := replayed[fields[1].String()]
	return ok
}
