package bridge

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/botbridge/botbridge/internal/handshake"
	"github.com/botbridge/botbridge/internal/protocol"
)

// maxLineSize bounds one client line. Anything larger kills the connection
// via a scanner error, which lands in the normal cleanup path.
const maxLineSize = 256 * 1024

// handleConn owns one client connection from accept to cleanup. It is the
// single logical stream of control for that record; the supervisor and
// poller touch the record only through its mutex.
func (s *Server) handleConn(conn net.Conn) {
	id := conn.RemoteAddr().String()

	challenge, err := handshake.IssueChallenge()
	if err != nil {
		s.log.Error().Err(err).Msg("challenge generation failed")
		_ = conn.Close()
		return
	}

	rec := newRecord(id, conn, challenge, s.cfg.LogCapacity, time.Now())
	s.reg.add(rec)

	if err := rec.writeLine(protocol.HandshakeChallengePrefix + challenge); err != nil {
		s.cleanup(rec, "challenge write failed")
		return
	}

	s.log.Info().Str("client", id).Msg("client connected")
	s.masterLog(id + " connected")
	s.pub.Publish(protocol.EventClientConnect, protocol.ClientConnectPayload{ID: id, Name: id})
	if s.archive != nil {
		s.archive.RecordConnect(id, id)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !rec.Authenticated() {
			if !s.handleHandshakeLine(rec, line) {
				return
			}
			continue
		}

		msg := protocol.Normalize(line, rec.cachedStatus())
		s.handleMessage(rec, msg)
	}

	// EOF, read error, or cleanup already closed the socket under us.
	s.cleanup(rec, "connection closed")
}

// handleHandshakeLine drives the state machine out of AwaitingResponse. A
// false return means the connection was rejected and cleaned up.
func (s *Server) handleHandshakeLine(rec *Record, line string) bool {
	if !strings.HasPrefix(line, protocol.HandshakeResponsePrefix) {
		s.reject(rec, stateRejected, "pre-auth traffic")
		return false
	}
	response := strings.TrimPrefix(line, protocol.HandshakeResponsePrefix)

	rec.mu.Lock()
	challenge := rec.challenge
	issuedAt := rec.issuedAt
	rec.mu.Unlock()

	if time.Since(issuedAt) > s.cfg.HandshakeTimeout {
		s.reject(rec, stateTimedOut, "handshake response after deadline")
		return false
	}
	if !handshake.Verify(challenge, response, s.cfg.SharedSecret) {
		s.reject(rec, stateRejected, "handshake verification failed")
		return false
	}

	rec.mu.Lock()
	rec.state = stateAuthenticated
	rec.lastHeartbeat = time.Now()
	rec.mu.Unlock()

	if err := rec.writeLine(protocol.HandshakeSuccessLine); err != nil {
		s.cleanup(rec, "handshake ack write failed")
		return false
	}

	s.log.Info().Str("client", rec.id).Msg("client authenticated")
	s.masterLog(rec.id + " authenticated")
	s.startPoller(rec)
	return true
}

// reject terminates a connection for a protocol violation or timeout,
// logging at both per-client and master scope.
func (s *Server) reject(rec *Record, state handshakeState, reason string) {
	rec.mu.Lock()
	if rec.state == stateAwaitingResponse {
		rec.state = state
	}
	rec.logs.append("rejected: " + reason)
	rec.mu.Unlock()

	s.log.Warn().Str("client", rec.id).Str("reason", reason).Msg("client rejected")
	s.cleanup(rec, reason)
}

// handleMessage applies one canonical message to the record and publishes
// whatever actually changed.
func (s *Server) handleMessage(rec *Record, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeHeartbeat:
		rec.mu.Lock()
		rec.lastHeartbeat = time.Now()
		rec.mu.Unlock()
		s.log.Debug().Str("client", rec.id).Msg("heartbeat")

	case protocol.TypeStatusUpdate:
		if msg.ClientName != "" {
			s.setDisplayName(rec, msg.ClientName)
		}
		if msg.Status != nil {
			s.applyStatus(rec, msg)
		}

	case protocol.TypeUsernameResponse:
		s.handleUsernameResponse(rec, msg.Username)

	case protocol.TypeLog:
		rec.mu.Lock()
		rec.logs.append(msg.Message)
		rec.mu.Unlock()
		s.pub.Publish(protocol.EventLog, protocol.LogPayload{ID: rec.id, Message: msg.Message})
	}
}

// applyStatus computes the field-level diff against the cached snapshot and
// broadcasts only real changes. Identical resends are suppressed, logged
// locally to distinguish "no-op heard" from "no data".
func (s *Server) applyStatus(rec *Record, msg protocol.Message) {
	rec.mu.Lock()
	changes := DiffStatus(rec.statusCache, msg.Status)
	if len(changes) == 0 {
		rec.mu.Unlock()
		s.log.Debug().Str("client", rec.id).Msg("status unchanged, broadcast suppressed")
		return
	}
	rec.statusCache = msg.Status
	rec.status = projectStatus(msg.Status)
	rec.mu.Unlock()

	s.pub.Publish(protocol.EventStatusUpdateJSON, protocol.StatusUpdatePayload{
		ID:         rec.id,
		Status:     msg.Status,
		Changes:    changes,
		Timestamp:  msg.Timestamp,
		ServerTime: time.Now().UnixMilli(),
	})
}

// setDisplayName updates the display name and publishes a name-change event
// only when the name actually differs. Clients may resend their name at any
// time; there is no uniqueness constraint.
func (s *Server) setDisplayName(rec *Record, name string) {
	rec.mu.Lock()
	if rec.displayName == name {
		rec.mu.Unlock()
		return
	}
	rec.displayName = name
	rec.mu.Unlock()

	s.log.Info().Str("client", rec.id).Str("name", name).Msg("display name changed")
	s.pub.Publish(protocol.EventUpdateTabName, protocol.TabNamePayload{ID: rec.id, Name: name})
}

// handleUsernameResponse feeds the username poller. An empty username is
// logged but does not satisfy the poller, which keeps retrying.
func (s *Server) handleUsernameResponse(rec *Record, username string) {
	if username == "" {
		rec.mu.Lock()
		rec.logs.append("empty username response")
		rec.mu.Unlock()
		s.log.Debug().Str("client", rec.id).Msg("empty username response")
		return
	}

	rec.mu.Lock()
	rec.hasUsername = true
	changed := rec.displayName != username
	if changed {
		rec.displayName = username
	}
	rec.mu.Unlock()

	if changed {
		s.log.Info().Str("client", rec.id).Str("username", username).Msg("username acquired")
		s.pub.Publish(protocol.EventUpdateTabName, protocol.TabNamePayload{ID: rec.id, Name: username})
	}
}

// projectStatus extracts the four well-known fields from a full status
// object for summary display. Unknown keys are preserved in the cache only.
func projectStatus(status map[string]any) Status {
	var st Status
	if v, ok := status[protocol.FieldLoaded].(bool); ok {
		st.Loaded = v
	}
	if v, ok := status[protocol.FieldLogged].(bool); ok {
		st.Logged = v
	}
	if v, ok := status[protocol.FieldScriptRunning].(bool); ok {
		st.ScriptRunning = v
	}
	if v, ok := status[protocol.FieldLoadedScript].(string); ok {
		st.LoadedScript = v
	}
	return st
}

// sendUsernameRequest writes the username-request line to the client.
func (s *Server) sendUsernameRequest(rec *Record) error {
	line := protocol.UsernameRequest(time.Now().UnixMilli())
	if err := rec.writeLine(string(line)); err != nil {
		return fmt.Errorf("username request to %s: %w", rec.id, err)
	}
	s.log.Debug().Str("client", rec.id).Msg("username requested")
	return nil
}
