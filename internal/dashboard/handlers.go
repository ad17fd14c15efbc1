package dashboard

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // same-origin enforcement is handled by the session cookie
	},
}

// loginPage is the whole UI this server renders itself; everything else is
// static files and the event stream.
const loginPage = `<!DOCTYPE html>
<html>
<head><title>botbridge</title></head>
<body>
<h1>botbridge</h1>
%s
<form method="post" action="/login">
  <input type="password" name="password" placeholder="Password" autofocus>
  <input type="text" name="totp" placeholder="TOTP (if enabled)" autocomplete="off">
  <button type="submit">Sign in</button>
</form>
</body>
</html>`

// dashboardPage is the observer console shell. The event stream and the
// client tabs are rendered entirely by /static/app.js over the WebSocket.
const dashboardPage = `<!DOCTYPE html>
<html>
<head>
<title>botbridge</title>
<meta name="csrf-token" content="%s">
<link rel="stylesheet" href="/static/style.css">
</head>
<body>
<header>
  <h1>botbridge</h1>
  <form method="post" action="/logout">
    <input type="hidden" name="csrf_token" value="%s">
    <button type="submit">Sign out</button>
  </form>
</header>
<main id="app"></main>
<script src="/static/app.js"></script>
</body>
</html>`

// handleDashboard renders the observer console.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, dashboardPage, session.CSRFToken, session.CSRFToken)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": len(s.core.Clients()),
	})
}

// handleLoginPage renders the login page.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	// Check if already logged in
	if _, err := s.auth.GetSessionFromRequest(r); err == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	// The error message round-trips through the URL, so it is
	// attacker-controlled and must be escaped.
	errorHTML := ""
	if msg := r.URL.Query().Get("error"); msg != "" {
		errorHTML = "<p>" + html.EscapeString(msg) + "</p>"
	}

	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, loginPage, errorHTML)
}

// handleLogin processes login form submission.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	// Check rate limit - normalize IP by stripping port
	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		// Check if this is IPv6 in brackets
		if bracketIdx := strings.LastIndex(ip, "]"); bracketIdx == -1 || colonIdx > bracketIdx {
			ip = ip[:colonIdx]
		}
	}
	if s.auth.IsRateLimited(ip) {
		http.Redirect(w, r, "/login?error=Too+many+attempts.+Please+wait.", http.StatusFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=Invalid+request", http.StatusFound)
		return
	}

	password := r.FormValue("password")
	totpCode := r.FormValue("totp")

	if !s.auth.CheckPassword(password) {
		s.log.Warn().Str("ip", ip).Msg("failed login attempt: wrong password")
		http.Redirect(w, r, "/login?error=Invalid+password", http.StatusFound)
		return
	}

	if s.cfg.HasTOTP() && !s.auth.CheckTOTP(totpCode) {
		s.log.Warn().Str("ip", ip).Msg("failed login attempt: wrong TOTP")
		http.Redirect(w, r, "/login?error=Invalid+TOTP+code", http.StatusFound)
		return
	}

	session, err := s.auth.CreateSession()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create session")
		http.Redirect(w, r, "/login?error=Server+error", http.StatusFound)
		return
	}

	// Reset rate limit on success
	s.auth.ResetRateLimit(ip)

	s.auth.SetSessionCookie(w, session)
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout logs the observer out.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())
	if session != nil {
		_ = s.auth.DeleteSession(session.ID)
	}
	s.auth.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// handleWebSocket upgrades an authenticated observer onto the event stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	obs := &Observer{
		conn: conn,
		id:   session.ID,
		send: make(chan []byte, sendBufferSize),
		hub:  s.hub,
	}

	s.hub.register <- obs
	go obs.writePump()
	go obs.readPump()
}

// handleGetClients returns the currently connected clients.
func (s *Server) handleGetClients(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"clients": s.core.Clients()})
}

// handleSendToClient forwards a raw command line to one client.
func (s *Server) handleSendToClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if err := s.core.SendToClient(clientID, req.Message); err != nil {
		http.Error(w, "Client offline", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "sent"})
}

// handleRequestUsername manually triggers a username request.
func (s *Server) handleRequestUsername(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	if err := s.core.RequestUsername(clientID); err != nil {
		http.Error(w, "Client offline", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "requested"})
}

// handleClearMasterLog clears the process-wide log.
func (s *Server) handleClearMasterLog(w http.ResponseWriter, r *http.Request) {
	s.core.ClearMasterLog()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "cleared"})
}
