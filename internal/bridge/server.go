// Package bridge implements the client-facing side of the server: the TCP
// listener, per-connection handshake and protocol handling, the connection
// record store, diff-based status broadcasting, and lifecycle supervision.
package bridge

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/botbridge/botbridge/internal/config"
	"github.com/botbridge/botbridge/internal/protocol"
)

// Publisher delivers one event to every currently connected observer.
// Implementations must never block on a slow observer.
type Publisher interface {
	Publish(event string, payload any)
}

// Archiver persists lifecycle data. All methods are best-effort and must not
// block the broadcast path.
type Archiver interface {
	AppendMasterLog(message string)
	ClearMasterLog()
	RecordConnect(id, name string)
	RecordDisconnect(id string)
}

// Server accepts client TCP connections and drives them through handshake,
// normalization and broadcast.
type Server struct {
	cfg     *config.Config
	log     zerolog.Logger
	pub     Publisher
	archive Archiver // may be nil
	reg     *Registry

	ln        net.Listener
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a bridge server. archive may be nil to disable persistence.
func New(cfg *config.Config, log zerolog.Logger, pub Publisher, archive Archiver) *Server {
	return &Server{
		cfg:     cfg,
		log:     log.With().Str("component", "bridge").Logger(),
		pub:     pub,
		archive: archive,
		reg:     NewRegistry(cfg.LogCapacity),
		done:    make(chan struct{}),
	}
}

// Registry exposes the connection record store.
func (s *Server) Registry() *Registry {
	return s.reg
}

// Listen binds the TCP listener and starts the accept loop and the liveness
// supervisor. It returns once the listener is bound.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.TCPListen)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	s.ln = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening for clients")

	s.wg.Add(2)
	go s.acceptLoop()
	go s.supervise()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops the listener, evicts every client and waits for all
// connection goroutines to finish.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ln != nil {
			_ = s.ln.Close()
		}
		for _, rec := range s.reg.List() {
			s.cleanup(rec, "server shutdown")
		}
	})
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// cleanup tears down a client connection: socket, record, poller and cached
// diff state all go together. It is idempotent; only the first caller
// publishes the disconnect event.
func (s *Server) cleanup(rec *Record, reason string) {
	if !s.reg.remove(rec.id) {
		return
	}
	rec.stopPoller()
	_ = rec.conn.Close()

	s.log.Info().Str("client", rec.id).Str("reason", reason).Msg("client removed")
	s.masterLog(fmt.Sprintf("%s disconnected (%s)", rec.id, reason))
	s.pub.Publish(protocol.EventClientDisconnect, protocol.ClientDisconnectPayload{ID: rec.id})
	if s.archive != nil {
		s.archive.RecordDisconnect(rec.id)
	}
}

// masterLog appends to the process-wide log, fans it out, and hands it to the
// archiver. Persistence failure never blocks or fails the broadcast.
func (s *Server) masterLog(message string) {
	s.reg.MasterAppend(message)
	s.pub.Publish(protocol.EventMasterLog, protocol.MasterLogPayload{Message: message})
	if s.archive != nil {
		s.archive.AppendMasterLog(message)
	}
}

// SendToClient forwards a raw line from an observer to the client's socket.
// The line is logged as an outbound record in the client's log ring.
func (s *Server) SendToClient(id, message string) error {
	rec, ok := s.reg.Get(id)
	if !ok {
		return fmt.Errorf("unknown client %s", id)
	}
	if err := rec.writeLine(message); err != nil {
		return fmt.Errorf("write to %s: %w", id, err)
	}
	entry := "[sent] " + message
	rec.mu.Lock()
	rec.logs.append(entry)
	rec.mu.Unlock()
	s.pub.Publish(protocol.EventLog, protocol.LogPayload{ID: id, Message: entry})
	return nil
}

// RequestUsername manually triggers the username-request step for a client.
func (s *Server) RequestUsername(id string) error {
	rec, ok := s.reg.Get(id)
	if !ok {
		return fmt.Errorf("unknown client %s", id)
	}
	rec.mu.Lock()
	rec.usernameRequested = true
	rec.mu.Unlock()
	return s.sendUsernameRequest(rec)
}

// ClearMasterLog empties the master log everywhere and tells observers.
func (s *Server) ClearMasterLog() {
	s.reg.MasterClear()
	if s.archive != nil {
		s.archive.ClearMasterLog()
	}
	s.pub.Publish(protocol.EventClearMasterLog, struct{}{})
}

// SnapshotEvents builds the catch-up stream for a newly subscribed observer:
// the full master log, then per client one connect event, one update_status
// per tracked field, and the client's log ring, in that order.
func (s *Server) SnapshotEvents() []protocol.Event {
	var events []protocol.Event
	for _, line := range s.reg.MasterLines() {
		events = append(events, protocol.Event{
			Type:    protocol.EventMasterLog,
			Payload: protocol.MasterLogPayload{Message: line},
		})
	}
	for _, rec := range s.reg.List() {
		rec.mu.Lock()
		name := rec.displayName
		status := rec.status
		logs := rec.logs.snapshot()
		rec.mu.Unlock()

		events = append(events, protocol.Event{
			Type:    protocol.EventClientConnect,
			Payload: protocol.ClientConnectPayload{ID: rec.id, Name: name},
		})
		for _, field := range protocol.StatusFields {
			events = append(events, protocol.Event{
				Type:    protocol.EventUpdateStatus,
				Payload: protocol.StatusFieldPayload{ID: rec.id, Field: field, Value: statusField(status, field)},
			})
		}
		for _, line := range logs {
			events = append(events, protocol.Event{
				Type:    protocol.EventLog,
				Payload: protocol.LogPayload{ID: rec.id, Message: line},
			})
		}
	}
	return events
}

// ClientSummary is one row of the observer-facing client listing.
type ClientSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	Connected     bool      `json:"connected"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Clients lists the currently connected clients.
func (s *Server) Clients() []ClientSummary {
	records := s.reg.List()
	out := make([]ClientSummary, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		out = append(out, ClientSummary{
			ID:            rec.id,
			Name:          rec.displayName,
			Status:        rec.status,
			Connected:     rec.state == stateAuthenticated,
			LastHeartbeat: rec.lastHeartbeat,
		})
		rec.mu.Unlock()
	}
	return out
}

func statusField(st Status, field string) any {
	switch field {
	case protocol.FieldLoaded:
		return st.Loaded
	case protocol.FieldLogged:
		return st.Logged
	case protocol.FieldScriptRunning:
		return st.ScriptRunning
	case protocol.FieldLoadedScript:
		return st.LoadedScript
	default:
		return nil
	}
}
