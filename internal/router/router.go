package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"animify-backend/internal/handlers"
	"animify-backend/internal/middleware"
	"animify-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	sessionHandler *handlers.SessionHandler,
	mediaHandler *handlers.MediaHandler,
	chatHandler *handlers.ChatHandler,
	proxyHandler *handlers.ProxyHandler,
	wsHub *websocket.Hub,
	frontendURL string,
	generationRatePerMin int,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Session rate limiter (10 req/min per IP)
	sessionLimiter := middleware.NewRateLimiter(10, time.Minute)
	// Anything that reaches exh.ai shares one per-owner budget
	generationLimiter := middleware.NewRateLimiter(generationRatePerMin, time.Minute)
	// Task status polls are free and frequent
	statusLimiter := middleware.NewRateLimiter(120, time.Minute)

	r.Get("/health", handlers.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.Health)
		r.Get("/transform/defaults", mediaHandler.TransformDefaults)

		r.With(sessionLimiter.Middleware).Post("/session", sessionHandler.Create)

		// WebSocket authenticates with ?token=
		r.Get("/ws", wsHub.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			// ──── Media Routes ────
			r.Route("/media", func(r chi.Router) {
				r.Get("/", mediaHandler.List)
				r.Post("/upload", mediaHandler.Upload)
				r.Post("/import", mediaHandler.Import)
				r.With(generationLimiter.Middleware).Post("/generate", mediaHandler.Generate)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", mediaHandler.Get)
					r.Delete("/", mediaHandler.Delete)
					r.Get("/file", mediaHandler.File)
					r.Post("/suggest-prompt", mediaHandler.SuggestPrompt)

					r.Group(func(r chi.Router) {
						r.Use(generationLimiter.Middleware)
						r.Post("/transform", mediaHandler.Transform)
						r.Post("/animate", mediaHandler.Animate)
						r.Post("/story", mediaHandler.Story)
						r.Post("/faceswap", mediaHandler.FaceSwap)
						r.Post("/retry", mediaHandler.Retry)
					})
				})
			})

			// ──── Chat Routes ────
			r.Route("/chat", func(r chi.Router) {
				r.Get("/config", chatHandler.GetConfig)
				r.Put("/config", chatHandler.UpdateConfig)
				r.Delete("/config", chatHandler.ResetConfig)
				r.With(generationLimiter.Middleware).Post("/messages", chatHandler.SendMessage)
			})

			// ──── Proxy Routes ────
			r.Route("/proxy", func(r chi.Router) {
				r.With(statusLimiter.Middleware).Get("/animate/{task_id}", proxyHandler.AnimateStatus)

				r.Group(func(r chi.Router) {
					r.Use(generationLimiter.Middleware)
					r.Post("/image", proxyHandler.Image)
					r.Post("/transform", proxyHandler.Transform)
					r.Post("/faceswap", proxyHandler.FaceSwap)
					r.Post("/animate", proxyHandler.Animate)
				})
			})
		})
	})

	return r
}
