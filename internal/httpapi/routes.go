package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okalkan/liars-dice-backend/internal/ws"
)

// Routes mounts the public surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", healthz)
	r.Get("/ws", ws.Handler(s, s.logger))

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", s.createRoom)
		r.Get("/", s.listRooms)

		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", s.getRoom)
			r.Post("/join", s.joinRoom)
			r.Post("/ready", s.toggleReady)
			r.Post("/start", s.startGame)
			r.Post("/kick", s.kickPlayer)
			r.Post("/bots", s.addBot)
			r.Delete("/bots/{botId}", s.removeBot)
			r.Post("/chat", s.sendChat)
			r.Get("/chat", s.chatHistory)
			r.Get("/session", s.sessionSnapshot)
		})
	})

	return r
}
