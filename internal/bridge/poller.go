package bridge

import "time"

// startPoller launches the per-client username poller. Each tick it either
// sends the one username request, waits for the response, or cancels itself
// once a username has arrived. Cleanup cancels it unconditionally via
// stopPoller, so no poller outlives its record.
func (s *Server) startPoller(rec *Record) {
	stop := make(chan struct{})
	rec.mu.Lock()
	rec.pollStop = stop
	rec.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.UsernamePollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-s.done:
				return
			case <-ticker.C:
				rec.mu.Lock()
				if rec.hasUsername {
					rec.mu.Unlock()
					return
				}
				send := !rec.usernameRequested
				if send {
					rec.usernameRequested = true
				}
				rec.mu.Unlock()

				if send {
					if err := s.sendUsernameRequest(rec); err != nil {
						s.log.Debug().Err(err).Str("client", rec.id).Msg("username request failed")
					}
				}
			}
		}
	}()
}
