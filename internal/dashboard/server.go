// Package dashboard implements the observer-facing side of the bridge: the
// HTTP server, login/session handling, and the WebSocket hub that fans the
// event stream out to observers.
package dashboard

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/botbridge/botbridge/internal/config"
)

// Server is the observer-facing HTTP server.
type Server struct {
	cfg    *config.Config
	db     *sql.DB
	log    zerolog.Logger
	auth   *AuthService
	hub    *Hub
	core   Core
	router *chi.Mux
}

// New creates the dashboard server. The hub must already be wired to the
// bridge via SetCore.
func New(cfg *config.Config, db *sql.DB, log zerolog.Logger, hub *Hub, core Core) *Server {
	s := &Server{
		cfg:  cfg,
		db:   db,
		log:  log.With().Str("component", "dashboard").Logger(),
		auth: NewAuthService(cfg, db),
		hub:  hub,
		core: core,
	}

	s.setupRouter()

	go s.hub.Run()

	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.securityHeaders)

	// Static files
	fs := http.FileServer(http.Dir("static"))
	r.Handle("/static/*", http.StripPrefix("/static/", fs))

	// Public routes
	r.Get("/health", s.handleHealth)
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		// Main page
		r.Get("/", s.handleDashboard)

		// Observer event stream
		r.Get("/ws", s.handleWebSocket)

		// Logout requires CSRF
		r.With(s.requireCSRF).Post("/logout", s.handleLogout)

		// API routes
		r.Route("/api", func(r chi.Router) {
			r.Use(s.requireCSRF)

			r.Get("/clients", s.handleGetClients)
			r.Post("/clients/{clientID}/send", s.handleSendToClient)
			r.Post("/clients/{clientID}/username", s.handleRequestUsername)
			r.Post("/masterlog/clear", s.handleClearMasterLog)
		})
	})

	s.router = r
}

// securityHeaders adds security headers to responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware checks for a valid session.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.auth.GetSessionFromRequest(r)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		ctx := withSession(r.Context(), session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireCSRF middleware validates the CSRF token for state-changing requests.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		session := sessionFromContext(r.Context())
		if session == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		token := r.Header.Get("X-CSRF-Token")
		if token == "" {
			token = r.FormValue("csrf_token")
		}

		if !s.auth.ValidateCSRF(session, token) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Run starts the server.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.cfg.HTTPListen).Msg("starting dashboard server")
	return http.ListenAndServe(s.cfg.HTTPListen, s.router)
}

// Router returns the HTTP router (for testing).
func (s *Server) Router() http.Handler {
	return s.router
}
