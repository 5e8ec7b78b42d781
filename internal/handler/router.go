/*
Package handler provides the HTTP handlers and routing setup for the collabsync server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"collabsync/internal/app/user"
	"collabsync/internal/pkg/auth/jwt"
	"collabsync/internal/pkg/limiter"
	"collabsync/internal/pkg/logx"
	"collabsync/internal/pkg/resp"
)

const (
	CreateRate    = 0.05
	CreateBurst   = 2
	ConnectRate   = 0.5
	ConnectBurst  = 10
	WSBufferBytes = 4096
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes IP-based rate limiters, configures CORS, and applies global and per-route middleware.
// It requires the hub.Manager for session state and the AppConfig for settings (like allowed origins).
func Router(deps *AppDeps) http.Handler {
	createLimiter := limiter.NewIPRateLimiter(rate.Limit(CreateRate), CreateBurst)
	connectLimiter := limiter.NewIPRateLimiter(rate.Limit(ConnectRate), ConnectBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  WSBufferBytes,
		WriteBufferSize: WSBufferBytes,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// Native clients (collabctl, the transport dialer) send no Origin.
				return true
			}
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		logx.Debug("Health check endpoint hit")

		data := map[string]any{
			"status":   "ok",
			"service":  "collabsync",
			"node":     deps.Manager.NodeID(),
			"sessions": deps.Manager.Count(),
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api/sessions", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.With(createLimiter.Middleware).Post("/", HandleCreateSession(deps))

		api.Route("/{id}", func(s chi.Router) {
			s.Get("/", HandleGetSession(deps))
			s.With(jwt.RequireSessionPermission("id", func(p user.Permissions) bool {
				return p.CanManageCollaboration
			})).Delete("/", HandleCloseSession(deps))
			s.Post("/join", HandleJoinSession(deps))
			s.Get("/archive", HandlePresignArchiveURL(deps))
		})
	})

	r.With(connectLimiter.Middleware).Get("/ws", HandleWebSocket(wsUpgrader, deps))

	return r
}
