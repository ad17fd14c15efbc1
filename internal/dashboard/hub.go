package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/botbridge/botbridge/internal/bridge"
	"github.com/botbridge/botbridge/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Per-observer send buffer. Sized to absorb the subscribe-time replay
	// (master log + per-client state) without dropping.
	sendBufferSize = 4096
)

// Core is the bridge surface the hub and API handlers drive on behalf of
// observers.
type Core interface {
	SendToClient(id, message string) error
	RequestUsername(id string) error
	ClearMasterLog()
	SnapshotEvents() []protocol.Event
	Clients() []bridge.ClientSummary
}

// Observer represents one connected observer WebSocket.
type Observer struct {
	conn *websocket.Conn
	id   string // session ID
	send chan []byte
	hub  *Hub
}

// Hub maintains the observer set and fans the event stream out to it.
// It implements bridge.Publisher.
type Hub struct {
	log  zerolog.Logger
	core Core

	mu        sync.Mutex
	observers map[*Observer]bool

	register   chan *Observer
	unregister chan *Observer
}

// NewHub creates a hub. SetCore must be called before Run.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:        log.With().Str("component", "hub").Logger(),
		observers:  make(map[*Observer]bool),
		register:   make(chan *Observer),
		unregister: make(chan *Observer),
	}
}

// SetCore wires the hub to the bridge. Split from NewHub because the bridge
// itself is constructed with the hub as its publisher.
func (h *Hub) SetCore(core Core) {
	h.core = core
}

// Run processes observer registration until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case obs := <-h.register:
			h.subscribe(obs)

		case obs := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.observers[obs]; ok {
				delete(h.observers, obs)
				close(obs.send)
			}
			h.mu.Unlock()
			h.log.Debug().Str("observer", obs.id).Msg("observer unregistered")
		}
	}
}

// subscribe catches a new observer up with the full replay (master log, then
// per-client connect, status fields and log ring) before adding it to the
// broadcast set. The snapshot is taken under the hub lock, so a concurrent
// Publish either lands in the snapshot or is delivered live after the
// observer joins the set; no event falls between the two.
func (h *Hub) subscribe(obs *Observer) {
	h.mu.Lock()
	snapshot := h.core.SnapshotEvents()
	for _, ev := range snapshot {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		select {
		case obs.send <- data:
		default:
		}
	}
	h.observers[obs] = true
	h.mu.Unlock()

	h.log.Debug().Str("observer", obs.id).Int("replayed", len(snapshot)).Msg("observer subscribed")
}

// Publish delivers one event to every live observer. Observers whose send
// buffer is full are silently skipped; a slow observer never blocks
// delivery to the others.
func (h *Hub) Publish(event string, payload any) {
	data, err := json.Marshal(protocol.Event{Type: event, Payload: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("event marshal failed")
		return
	}

	h.mu.Lock()
	for obs := range h.observers {
		select {
		case obs.send <- data:
		default:
			// Observer backpressured, skip
		}
	}
	h.mu.Unlock()
}

// ObserverCount returns the number of subscribed observers.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// readPump reads control messages from the observer connection.
func (o *Observer) readPump() {
	defer func() {
		o.hub.unregister <- o
		_ = o.conn.Close()
	}()

	o.conn.SetReadLimit(maxMessageSize)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				o.hub.log.Error().Err(err).Msg("observer read error")
			}
			return
		}
		o.handleControl(data)
	}
}

// handleControl dispatches one observer → core control message.
func (o *Observer) handleControl(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		o.hub.log.Warn().Err(err).Msg("malformed control message")
		return
	}

	switch msg.Type {
	case protocol.ControlSendToClient:
		var payload struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if err := o.hub.core.SendToClient(payload.ID, payload.Message); err != nil {
			o.hub.log.Warn().Err(err).Str("client", payload.ID).Msg("send_to_client failed")
		}

	case protocol.ControlRequestUsername:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if err := o.hub.core.RequestUsername(payload.ID); err != nil {
			o.hub.log.Warn().Err(err).Str("client", payload.ID).Msg("request_username failed")
		}

	case protocol.ControlClearMasterLog:
		o.hub.core.ClearMasterLog()

	default:
		o.hub.log.Debug().Str("type", msg.Type).Msg("unknown control message")
	}
}

// writePump pumps events to the observer connection.
func (o *Observer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = o.conn.Close()
	}()

	for {
		select {
		case message, ok := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := o.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
