package relayserver

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/duocall/duocall/internal/signaling"
)

// maxRoomSubscribers caps room occupancy. The negotiation protocol is a
// strictly two-party exchange.
const maxRoomSubscribers = 2

type publication struct {
	roomID string
	from   *subscriber
	data   []byte
}

// Hub owns all room state. A single goroutine (Run) processes registration,
// departure, and publication, so rooms need no locking.
type Hub struct {
	log zerolog.Logger

	rooms map[string]map[*subscriber]struct{}

	register   chan *subscriber
	unregister chan *subscriber
	publish    chan publication
	done       chan struct{}
	closeOnce  sync.Once
}

// NewHub builds a hub; call Run on its own goroutine before serving.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:        log.With().Str("component", "relayserver").Logger(),
		rooms:      make(map[string]map[*subscriber]struct{}),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		publish:    make(chan publication),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.handleRegister(sub)
		case sub := <-h.unregister:
			h.handleUnregister(sub)
		case pub := <-h.publish:
			h.handlePublish(pub)
		case <-h.done:
			for _, room := range h.rooms {
				for sub := range room {
					sub.shutdown("relay shutting down")
				}
			}
			h.rooms = make(map[string]map[*subscriber]struct{})
			return
		}
	}
}

// Close stops the hub loop and disconnects every subscriber. Idempotent.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) handleRegister(sub *subscriber) {
	room := h.rooms[sub.roomID]
	if len(room) >= maxRoomSubscribers {
		h.log.Warn().Str("room_id", sub.roomID).Str("peer_id", sub.peerID).
			Msg("rejecting subscriber, room full")
		sub.shutdown("room full")
		return
	}
	if room == nil {
		room = make(map[*subscriber]struct{})
		h.rooms[sub.roomID] = room
	}
	room[sub] = struct{}{}

	ack, err := json.Marshal(signaling.Message{Kind: signaling.KindSubscribed})
	if err != nil {
		// Message{Kind: subscribed} always marshals; treat anything else as a bug.
		h.log.Error().Err(err).Msg("marshal subscribed ack")
		sub.shutdown("internal error")
		return
	}
	sub.enqueue(ack)

	h.log.Info().Str("room_id", sub.roomID).Str("peer_id", sub.peerID).
		Int("occupancy", len(room)).Msg("subscriber joined room")
}

func (h *Hub) handleUnregister(sub *subscriber) {
	room, ok := h.rooms[sub.roomID]
	if !ok {
		return
	}
	if _, ok := room[sub]; !ok {
		return
	}
	delete(room, sub)
	sub.shutdown("")
	if len(room) == 0 {
		delete(h.rooms, sub.roomID)
		h.log.Debug().Str("room_id", sub.roomID).Msg("room emptied, dropping it")
		return
	}
	h.log.Info().Str("room_id", sub.roomID).Str("peer_id", sub.peerID).
		Int("occupancy", len(room)).Msg("subscriber left room")
}

// handlePublish fans a frame out to every subscriber of the room except its
// publisher. Delivery is at-most-once: a subscriber whose outbound queue is
// full simply misses the frame.
func (h *Hub) handlePublish(pub publication) {
	room, ok := h.rooms[pub.roomID]
	if !ok {
		return
	}
	for sub := range room {
		if sub == pub.from {
			continue
		}
		if !sub.enqueue(pub.data) {
			h.log.Warn().Str("room_id", pub.roomID).Str("peer_id", sub.peerID).
				Msg("subscriber send queue full, dropping frame")
		}
	}
}
