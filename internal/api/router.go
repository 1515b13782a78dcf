package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/lafoncedalle/reviewlink/internal/config"
	"github.com/lafoncedalle/reviewlink/internal/links"
	"github.com/lafoncedalle/reviewlink/internal/scanner"
	"github.com/lafoncedalle/reviewlink/internal/websocket"
)

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, db *gorm.DB, store *links.Store, ctrl *links.Controller, sc *scanner.Scanner, hub *websocket.Hub) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Per-IP limiter for the public verification endpoints, plus a per-email
	// cap of 3 code requests per 10 minutes.
	ipLimiter := NewRateLimiter(rate.Every(time.Second), 10)
	ipLimiter.CleanupOldLimiters()
	emailLimiter := NewRateLimiter(rate.Every(10*time.Minute/3), 3)
	emailLimiter.CleanupOldLimiters()

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Admin auth
		r.Post("/auth/setup", HandleSetup(db, cfg))
		r.Post("/auth/login", HandleLogin(db, cfg))

		// Public linking endpoints (called by the bot host on behalf of users)
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(ipLimiter))

			r.Post("/links/start", HandleStartVerification(ctrl, emailLimiter))
			r.Post("/links/confirm", HandleConfirmVerification(ctrl))
			r.Get("/links/{identity}/email", HandleLookupEmail(store))
			r.Get("/suppressions/{identity}", HandleCheckSuppression(store))
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret, db))

			r.Post("/links/force", HandleForceLink(ctrl))
			r.Delete("/links/{identity}", HandleUnlink(ctrl))
			r.Get("/links", HandleListActiveLinks(store))
			r.Get("/links/stats", HandleLinkStats(store))

			r.Post("/suppressions", HandleAddSuppression(store))

			r.Post("/scan", HandleRunScan(sc))
			r.Post("/reminders", HandleMarkNotified(store))
		})
	})

	// WebSocket endpoint
	r.Get("/ws", hub.HandleWebSocket)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
