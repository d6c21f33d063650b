package relayserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server exposes the relay over HTTP: one websocket endpoint per room plus a
// liveness probe.
type Server struct {
	hub      *Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New builds a relay server around hub.
func New(hub *Hub, log zerolog.Logger) *Server {
	return &Server{
		hub: hub,
		log: log.With().Str("component", "relayserver").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			// The dev relay performs no authentication (deliberate non-goal).
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the relay's HTTP routes.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/rooms/{roomID}/ws", s.handleRoomWS)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	peerID := r.URL.Query().Get("peer")
	if roomID == "" || peerID == "" {
		http.Error(w, "room and peer are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := newSubscriber(s.hub, conn, roomID, peerID)
	go sub.writePump()
	go sub.readPump()
	select {
	case s.hub.register <- sub:
	case <-s.hub.done:
		sub.shutdown("relay shutting down")
	}
}
