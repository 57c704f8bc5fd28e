package api

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope wraps every message pushed over the /ws stream. Seq is a
// monotonically increasing sequence number so reconnecting clients can
// backfill gaps via ?last_seq=N.
type Envelope struct {
	Seq  int64           `json:"seq"`
	Type string          `json:"type"` // "fill" | "status"
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// replayEntry holds one broadcasted envelope for gap backfill.
type replayEntry struct {
	seq  int64
	data []byte // pre-built envelope JSON
}

// replayBuffer is a fixed-size circular buffer of recent envelopes.
// Thread-safe for concurrent writes and reads.
type replayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int
	full bool
}

func newReplayBuffer(capacity int) *replayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &replayBuffer{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

func (rb *replayBuffer) push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	rb.buf[rb.pos] = replayEntry{seq: seq, data: cp}
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 && !rb.full {
		rb.full = true
	}
}

// since returns all entries with seq > fromSeq, oldest first.
func (rb *replayBuffer) since(fromSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	count := rb.len()
	for i := 0; i < count; i++ {
		e := rb.buf[rb.index(i)]
		if e.seq > fromSeq {
			out = append(out, e.data)
		}
	}
	return out
}

func (rb *replayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

func (rb *replayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}

// EventHub fans risk events out to connected dashboard WebSocket clients.
// Slow clients drop messages rather than blocking the broadcaster; the
// replay buffer lets them backfill on reconnect.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
	seq     int64
	replay  *replayBuffer
}

// NewEventHub creates an EventHub with the given replay capacity.
func NewEventHub(replayCapacity int) *EventHub {
	return &EventHub{
		clients: make(map[*websocket.Conn]chan []byte),
		replay:  newReplayBuffer(replayCapacity),
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast wraps payload in an Envelope and sends it to every client.
func (h *EventHub) Broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[api] marshal %s event: %v", msgType, err)
		return
	}

	h.mu.Lock()
	h.seq++
	env := Envelope{Seq: h.seq, Type: msgType, TS: time.Now().UTC(), Data: data}
	raw, err := json.Marshal(env)
	if err != nil {
		h.mu.Unlock()
		return
	}
	h.replay.push(env.Seq, raw)

	for conn, ch := range h.clients {
		select {
		case ch <- raw:
		default:
			// slow client — drop; replay buffer covers the gap
			_ = conn
		}
	}
	h.mu.Unlock()
}

// HandleConn serves one WebSocket client: replays missed envelopes when
// lastSeq >= 0, then streams live events until the client disconnects.
func (h *EventHub) HandleConn(conn *websocket.Conn, lastSeq int64) {
	ch := make(chan []byte, 256)

	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	if lastSeq >= 0 {
		for _, raw := range h.replay.since(lastSeq) {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}

	// Reader pump: discard inbound frames, detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case raw := <-ch:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}
