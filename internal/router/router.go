package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"kairos-backend/internal/handlers"
	"kairos-backend/internal/middleware"
	"kairos-backend/internal/websocket"
)

type Handlers struct {
	Auth          *handlers.AuthHandler
	Chat          *handlers.ChatHandler
	Image         *handlers.ImageHandler
	Conversations *handlers.ConversationHandler
	Jobs          *handlers.JobHandler
	Pages         *handlers.PageHandler
	Health        *handlers.HealthHandler
}

func New(
	jwtAuth *middleware.JWTAuth,
	limiter *middleware.RateLimiter,
	h Handlers,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Pages
	r.Get("/", h.Pages.Chat)
	r.Get("/image", h.Pages.Image)
	r.Get("/health", h.Health.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Middleware)

		// ──── Chat & sync image (anonymous allowed) ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Optional)
			r.Post("/chat", h.Chat.Chat)
			r.Post("/gen-image", h.Image.Generate)
		})

		r.Route("/v1", func(r chi.Router) {
			// ──── Auth Routes (public) ────
			r.Post("/auth/guest", h.Auth.Guest)

			// ──── Conversation Routes ────
			r.Route("/conversations", func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Get("/", h.Conversations.List)
				r.Get("/{id}", h.Conversations.Get)
				r.Get("/{id}/transcript", h.Conversations.Transcript)
				r.Delete("/{id}", h.Conversations.Delete)
			})

			// ──── Image Routes ────
			r.Route("/images", func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/jobs", h.Image.CreateJob)
				r.Get("/", h.Image.List)
				r.Get("/{id}/file", h.Image.File)
			})

			// ──── Job Routes ────
			r.Route("/jobs", func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Get("/{id}", h.Jobs.GetJob)
				r.Delete("/{id}", h.Jobs.CancelJob)
			})

			// ──── WebSocket ────
			r.Get("/ws", wsHub.HandleWebSocket)
		})
	})

	return r
}
