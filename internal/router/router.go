package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/watchroom/backend/internal/broker"
	"github.com/watchroom/backend/internal/config"
	"github.com/watchroom/backend/internal/handlers"
	"github.com/watchroom/backend/internal/ledger"
	"github.com/watchroom/backend/internal/middleware"
	"github.com/watchroom/backend/internal/services"
	"github.com/watchroom/backend/internal/session"
	"github.com/watchroom/backend/internal/videos"
)

// Deps carries the long-lived components the router wires handlers onto.
type Deps struct {
	Store    *session.Store
	Engine   *session.Engine
	Registry *broker.Registry
	Ledger   *ledger.Ledger
}

func New(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Services
	authService := services.NewAuthService(cfg.JWTSecret, cfg.TokenDuration)
	joinTokenService := services.NewJoinTokenService(deps.Store)
	validator := videos.NewValidator()

	// Handlers
	configHandler := handlers.NewConfigHandler(cfg)
	sessionHandler := handlers.NewSessionHandler(deps.Store, deps.Engine, deps.Registry, joinTokenService, validator)
	commandHandler := handlers.NewCommandHandler(deps.Engine)
	chatHandler := handlers.NewChatHandler(deps.Store, deps.Engine)
	dmHandler := handlers.NewDirectMessageHandler(deps.Ledger)
	friendHandler := handlers.NewFriendHandler(deps.Ledger)
	sseHandler := handlers.NewSSEHandler(deps.Registry)
	wsHandler := handlers.NewWSHandler(deps.Registry, cfg.CORSAllowedOrigins)
	sentryTunnelHandler := handlers.NewSentryTunnelHandler(cfg)

	// Rate limiter for command-heavy endpoints
	commandRateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	// Routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Public configuration (protocol constants for the frontend)
		r.Get("/config", configHandler.PublicConfig)

		// Sentry tunnel for browser error reporting
		r.Post("/sentry-tunnel", sentryTunnelHandler.Tunnel)

		// Everything else requires a valid JWT.
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(authService))
			r.Use(middleware.UpdateRequestContextMiddleware)

			// Session lifecycle
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", sessionHandler.Create)
				r.Post("/join", sessionHandler.Join)
				r.Get("/mine", sessionHandler.ListMine)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Delete("/", sessionHandler.Delete)
					r.Post("/leave", sessionHandler.Leave)

					// Playback commands (rate limited; players report often)
					r.Group(func(r chi.Router) {
						r.Use(commandRateLimiter.Middleware)
						r.Post("/sync-state", commandHandler.SyncState)
						r.Post("/sync-playlist-state", commandHandler.SyncPlaylistState)
						r.Post("/switch", commandHandler.SwitchVideo)
						r.Post("/queue", commandHandler.QueueVideo)
					})

					// Live chat
					r.Route("/chat", func(r chi.Router) {
						r.Get("/", chatHandler.History)
						r.With(commandRateLimiter.Middleware).Post("/", chatHandler.Send)
					})

					// Streams
					r.Get("/stream", sseHandler.StreamSession)
					r.Get("/ws", wsHandler.StreamSession)
				})
			})

			// Private stream: direct messages + friendship notifications
			r.Get("/me/stream", sseHandler.StreamMe)

			// Direct messages
			r.Route("/chats/{chatId}/messages", func(r chi.Router) {
				r.Get("/", dmHandler.List)
				r.With(commandRateLimiter.Middleware).Post("/", dmHandler.Send)
			})
			r.Put("/messages/{messageId}/read", dmHandler.MarkRead)

			// Friendships
			r.Route("/friends", func(r chi.Router) {
				r.Get("/", friendHandler.List)
				r.Get("/pending", friendHandler.Pending)
				r.Post("/requests", friendHandler.Request)
				r.Put("/requests/{senderId}/accept", friendHandler.Accept)
				r.Put("/requests/{senderId}/decline", friendHandler.Decline)
				r.Delete("/{friendId}", friendHandler.Remove)
			})
		})
	})

	return r
}
