package bridge

import "time"

// supervise runs the periodic liveness sweeps until the server closes. Both
// sweeps share one ticker; each tick checks handshake deadlines for
// unauthenticated records and heartbeat deadlines for authenticated ones.
func (s *Server) supervise() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Server) sweep(now time.Time) {
	for _, rec := range s.reg.List() {
		rec.mu.Lock()
		state := rec.state
		issuedAt := rec.issuedAt
		lastHeartbeat := rec.lastHeartbeat
		rec.mu.Unlock()

		switch {
		case state == stateAwaitingResponse && now.Sub(issuedAt) > s.cfg.HandshakeTimeout:
			rec.mu.Lock()
			rec.state = stateTimedOut
			rec.logs.append("rejected: handshake timeout")
			rec.mu.Unlock()
			s.log.Warn().Str("client", rec.id).Msg("handshake timed out")
			s.cleanup(rec, "handshake timeout")

		case state == stateAuthenticated && now.Sub(lastHeartbeat) > s.cfg.HeartbeatTimeout:
			s.log.Warn().
				Str("client", rec.id).
				Time("last_heartbeat", lastHeartbeat).
				Msg("heartbeat timed out")
			s.cleanup(rec, "heartbeat timeout")
		}
	}
}
