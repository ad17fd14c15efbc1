package dashboard

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/botbridge/botbridge/internal/bridge"
	"github.com/botbridge/botbridge/internal/protocol"
)

// fakeCore records the control calls the hub dispatches.
type fakeCore struct {
	mu        sync.Mutex
	sent      []string // "id:message"
	requested []string
	cleared   int
	snapshot  []protocol.Event
	sendErr   error
}

func (f *fakeCore) SendToClient(id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, id+":"+message)
	return nil
}

func (f *fakeCore) RequestUsername(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.requested = append(f.requested, id)
	return nil
}

func (f *fakeCore) ClearMasterLog() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeCore) SnapshotEvents() []protocol.Event {
	return f.snapshot
}

func (f *fakeCore) Clients() []bridge.ClientSummary {
	return nil
}

func testHub(core *fakeCore) *Hub {
	h := NewHub(zerolog.Nop())
	h.SetCore(core)
	go h.Run()
	return h
}

func newTestObserver(h *Hub, buffer int) *Observer {
	return &Observer{id: "session-1", send: make(chan []byte, buffer), hub: h}
}

func waitForObservers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.ObserverCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("observer count = %d, want %d", h.ObserverCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, obs *Observer) protocol.Event {
	t.Helper()
	select {
	case data := <-obs.send:
		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshaling event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return protocol.Event{}
	}
}

func TestSubscribeReplaysSnapshot(t *testing.T) {
	core := &fakeCore{snapshot: []protocol.Event{
		{Type: protocol.EventMasterLog, Payload: protocol.MasterLogPayload{Message: "boot"}},
		{Type: protocol.EventClientConnect, Payload: protocol.ClientConnectPayload{ID: "c1", Name: "Alice"}},
		{Type: protocol.EventLog, Payload: protocol.LogPayload{ID: "c1", Message: "hi"}},
	}}
	h := testHub(core)

	obs := newTestObserver(h, sendBufferSize)
	h.register <- obs
	waitForObservers(t, h, 1)

	// Replay arrives in snapshot order, ahead of any live event.
	h.Publish(protocol.EventLog, protocol.LogPayload{ID: "c1", Message: "live"})

	want := []string{
		protocol.EventMasterLog,
		protocol.EventClientConnect,
		protocol.EventLog,
		protocol.EventLog,
	}
	for i, wantType := range want {
		ev := readEvent(t, obs)
		if ev.Type != wantType {
			t.Fatalf("event %d type = %q, want %q", i, ev.Type, wantType)
		}
	}
}

// gatedCore blocks inside SnapshotEvents until released, exposing the window
// between snapshot and observer registration.
type gatedCore struct {
	fakeCore
	started chan struct{}
	release chan struct{}
}

func (g *gatedCore) SnapshotEvents() []protocol.Event {
	close(g.started)
	<-g.release
	return g.snapshot
}

func TestSubscribeDoesNotLoseConcurrentPublish(t *testing.T) {
	core := &gatedCore{
		fakeCore: fakeCore{snapshot: []protocol.Event{
			{Type: protocol.EventMasterLog, Payload: protocol.MasterLogPayload{Message: "boot"}},
		}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := NewHub(zerolog.Nop())
	h.SetCore(core)
	go h.Run()

	obs := newTestObserver(h, sendBufferSize)
	go func() { h.register <- obs }()
	<-core.started

	// Publish while the subscribe is mid-snapshot. It must block until the
	// observer is in the set and then deliver, not fall into the gap.
	published := make(chan struct{})
	go func() {
		h.Publish(protocol.EventLog, protocol.LogPayload{ID: "c1", Message: "racing"})
		close(published)
	}()

	time.Sleep(20 * time.Millisecond)
	close(core.release)

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish did not complete")
	}

	if ev := readEvent(t, obs); ev.Type != protocol.EventMasterLog {
		t.Fatalf("first event = %q, want replay", ev.Type)
	}
	if ev := readEvent(t, obs); ev.Type != protocol.EventLog {
		t.Fatalf("second event = %q, want the concurrently published log", ev.Type)
	}
}

func TestPublishFanOut(t *testing.T) {
	h := testHub(&fakeCore{})

	a := newTestObserver(h, sendBufferSize)
	b := newTestObserver(h, sendBufferSize)
	h.register <- a
	h.register <- b
	waitForObservers(t, h, 2)

	h.Publish(protocol.EventMasterLog, protocol.MasterLogPayload{Message: "fan out"})

	for _, obs := range []*Observer{a, b} {
		ev := readEvent(t, obs)
		if ev.Type != protocol.EventMasterLog {
			t.Errorf("event type = %q, want %q", ev.Type, protocol.EventMasterLog)
		}
	}
}

func TestPublishSkipsBackpressuredObserver(t *testing.T) {
	h := testHub(&fakeCore{})

	slow := newTestObserver(h, 1)
	fast := newTestObserver(h, sendBufferSize)
	h.register <- slow
	h.register <- fast
	waitForObservers(t, h, 2)

	// Second publish overflows the slow observer's buffer and is dropped
	// for it; the fast observer still gets both.
	h.Publish(protocol.EventLog, protocol.LogPayload{ID: "c1", Message: "one"})
	h.Publish(protocol.EventLog, protocol.LogPayload{ID: "c1", Message: "two"})

	readEvent(t, fast)
	readEvent(t, fast)

	readEvent(t, slow)
	select {
	case data := <-slow.send:
		t.Fatalf("slow observer got extra event: %s", data)
	default:
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := testHub(&fakeCore{})

	obs := newTestObserver(h, sendBufferSize)
	h.register <- obs
	waitForObservers(t, h, 1)

	h.unregister <- obs
	waitForObservers(t, h, 0)

	select {
	case _, ok := <-obs.send:
		if ok {
			t.Fatal("send channel delivered data instead of closing")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}

	// Unregistering twice must not panic or double-close.
	h.unregister <- obs
	waitForObservers(t, h, 0)
}

func TestHandleControl(t *testing.T) {
	core := &fakeCore{}
	h := testHub(core)
	obs := newTestObserver(h, sendBufferSize)

	tests := []struct {
		name string
		raw  string
	}{
		{"send_to_client", `{"type":"send_to_client","payload":{"id":"c1","message":"script stop"}}`},
		{"request_username", `{"type":"request_username","payload":{"id":"c1"}}`},
		{"clear_master_log", `{"type":"clear_master_log"}`},
		{"unknown type", `{"type":"reboot_fleet"}`},
		{"malformed json", `{"type":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs.handleControl([]byte(tt.raw))
		})
	}

	core.mu.Lock()
	defer core.mu.Unlock()
	if len(core.sent) != 1 || core.sent[0] != "c1:script stop" {
		t.Errorf("sent = %v", core.sent)
	}
	if len(core.requested) != 1 || core.requested[0] != "c1" {
		t.Errorf("requested = %v", core.requested)
	}
	if core.cleared != 1 {
		t.Errorf("cleared = %d, want 1", core.cleared)
	}
}
