package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/api/handlers"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/auth"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/services"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/websocket"
)

// NewRouter creates and configures a new Chi router exposing the maintenance
// operation surface to the FoxDesk admin UI.
func NewRouter(hub *websocket.Hub, updater services.UpdaterServiceProvider, checker services.CheckerServiceProvider, backups services.BackupServiceProvider, history services.HistoryServiceProvider, tempDir string, maxPackageBytes int64) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"}, // Adjust for your admin UI URL
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	updateHandler := handlers.NewUpdateHandler(updater, checker, tempDir, maxPackageBytes)
	backupHandler := handlers.NewBackupHandler(backups, updater)
	historyHandler := handlers.NewHistoryHandler(history)
	wsHandler := handlers.NewWebSocketHandler(hub)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware())

		// Progress event stream
		r.Get("/ws", wsHandler.Serve)

		r.Route("/update", func(r chi.Router) {
			r.Get("/check", updateHandler.Check)
			r.Get("/release", updateHandler.CachedRelease)
			r.Get("/check-enabled", updateHandler.GetCheckEnabled)
			r.Put("/check-enabled", updateHandler.SetCheckEnabled)
			r.Post("/dismiss", updateHandler.Dismiss)
			r.Post("/fetch", updateHandler.FetchRemote)
			r.Post("/upload", updateHandler.Upload)
			r.Get("/pending", updateHandler.Pending)
			r.Post("/apply", updateHandler.Apply)
			r.Post("/cancel", updateHandler.Cancel)
			r.Get("/status", updateHandler.Status)
			r.Get("/health", updateHandler.Health)
		})

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", backupHandler.GetAll)
			r.Post("/", backupHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", backupHandler.Delete)
				r.Get("/download", backupHandler.Download)
				r.Post("/restore", backupHandler.Restore)
			})
		})

		r.Get("/history", historyHandler.GetRecent)
	})

	return r
}
