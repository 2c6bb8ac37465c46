package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func SetupRoutes(svc ChatService, ws *WSHandler, logger *zap.Logger) http.Handler {
	h := &handlers{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/ws", ws.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Route("/channels/{channelId}", func(r chi.Router) {
			r.Get("/messages", h.listMessages)
			r.Post("/messages", h.postMessage)
			r.Post("/read", h.markRead)
			r.Get("/unread", h.unread)
		})
	})

	return r
}
