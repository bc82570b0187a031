package devserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type Deps struct {
	Matchmaker *Matchmaker
	Hub        *Hub
	Issuer     *Issuer
	Log        *zap.Logger
	// DevTokens mounts POST /auth/dev-token.
	DevTokens bool
}

func SetupRoutes(d Deps) http.Handler {
	h := &handlers{mm: d.Matchmaker, log: d.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	if d.DevTokens {
		r.Post("/auth/dev-token", DevToken(d.Issuer))
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Issuer.Middleware)

		r.Get("/ws", WSHandler(d.Hub, d.Matchmaker, d.Log))

		r.Route("/matchmaking/me", func(r chi.Router) {
			r.Get("/config", h.config)
			r.Post("/join", h.join)
			r.Get("/poll", h.poll)
			r.Get("/queue", h.queue)
			r.Delete("/queue", h.leaveQueue)
		})

		r.Get("/session/me", h.currentSession)
		r.Delete("/session/me", h.leaveSession)
		r.Route("/session/{id}", func(r chi.Router) {
			r.Get("/match-status", h.matchStatus)
			r.Post("/match", h.setMatch)
			r.Get("/chats", h.chats)
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)
}
