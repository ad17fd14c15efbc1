package bridge

import (
	"net"
	"sync"
	"time"
)

// handshakeState tracks where a connection is in the challenge/response
// exchange. The state moves away from stateAwaitingResponse exactly once.
type handshakeState int

const (
	stateAwaitingResponse handshakeState = iota
	stateAuthenticated
	stateRejected
	stateTimedOut
)

func (st handshakeState) String() string {
	switch st {
	case stateAwaitingResponse:
		return "awaiting_response"
	case stateAuthenticated:
		return "authenticated"
	case stateRejected:
		return "rejected"
	case stateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Status is the summary projection of the four well-known status fields.
type Status struct {
	Loaded        bool   `json:"loaded"`
	Logged        bool   `json:"logged"`
	ScriptRunning bool   `json:"scriptRunning"`
	LoadedScript  string `json:"loadedScript"`
}

// Record is the authoritative per-client state, owned by the Registry. All
// fields behind mu; the mutex also serializes writes to the socket so a
// record is never observed half-updated.
type Record struct {
	mu   sync.Mutex
	id   string
	conn net.Conn

	displayName string
	status      Status
	statusCache map[string]any
	logs        *ring

	lastHeartbeat time.Time

	// Handshake. challenge and issuedAt are set once on accept; state is
	// monotonic out of stateAwaitingResponse.
	state     handshakeState
	challenge string
	issuedAt  time.Time

	// Username polling. Both flags only transition false → true.
	hasUsername       bool
	usernameRequested bool
	pollStop          chan struct{}
}

const writeWait = 10 * time.Second

func newRecord(id string, conn net.Conn, challenge string, logCapacity int, now time.Time) *Record {
	return &Record{
		id:            id,
		conn:          conn,
		displayName:   id,
		statusCache:   map[string]any{},
		logs:          newRing(logCapacity),
		lastHeartbeat: now,
		state:         stateAwaitingResponse,
		challenge:     challenge,
		issuedAt:      now,
	}
}

// ID returns the stable client identifier (remote address:port).
func (r *Record) ID() string {
	return r.id
}

// DisplayName returns the current display name.
func (r *Record) DisplayName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayName
}

// Authenticated reports whether the handshake has succeeded.
func (r *Record) Authenticated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateAuthenticated
}

// cachedStatus returns a shallow copy of the last full status object.
func (r *Record) cachedStatus() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.statusCache))
	for k, v := range r.statusCache {
		out[k] = v
	}
	return out
}

// writeLine sends one line to the client socket. The record mutex serializes
// concurrent writers (connection loop, poller, observer forwards).
func (r *Record) writeLine(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err := r.conn.Write(append([]byte(line), '\n'))
	return err
}

// stopPoller cancels the username poller if one is running. Safe to call
// multiple times and before the poller has started.
func (r *Record) stopPoller() {
	r.mu.Lock()
	stop := r.pollStop
	r.pollStop = nil
	r.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
