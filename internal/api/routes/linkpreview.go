package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	linkpreviewhandlers "Lobby/internal/api/handlers/linkpreview"
	"Lobby/internal/api/middleware"
)

// RegisterLinkPreviewRoutes registers the media XRPC endpoints
//
// SECURITY & RATE LIMITING:
//   - classify is pure and cheap; covered by the global limiter only
//   - getPreview/getPreviews may trigger outbound fetches, so they get a
//     stricter per-IP limiter on top of the global one
//   - clearPreviewCache requires the X-Admin-Token header
//
// The browser client calls these from the chat origin, so every route is
// wrapped in CORS for allowedOrigins.
func RegisterLinkPreviewRoutes(r chi.Router, handler *linkpreviewhandlers.Handler, allowedOrigins []string) {
	previewLimiter := middleware.NewRateLimiter(30, 1*time.Minute)

	r.Group(func(r chi.Router) {
		r.Use(corsMiddleware(allowedOrigins))

		r.Get("/xrpc/social.lobby.media.classify", handler.HandleClassify)
		r.With(previewLimiter.Middleware).Get("/xrpc/social.lobby.media.getPreview", handler.HandleGetPreview)
		r.With(previewLimiter.Middleware).Post("/xrpc/social.lobby.media.getPreviews", handler.HandleGetPreviews)
		r.Post("/xrpc/social.lobby.media.clearPreviewCache", handler.HandleClearCache)
	})
}

// corsMiddleware creates a CORS middleware for the media endpoints
func corsMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			linkpreviewhandlers.AdminTokenHeader,
		},
		AllowCredentials: false,
		MaxAge:           300, // 5 minutes
	})
}
