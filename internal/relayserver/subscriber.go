package relayserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/duocall/duocall/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // enough for any SDP

	sendQueueDepth = 32
)

// subscriber is one websocket connection subscribed to a room.
type subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	roomID string
	peerID string
	log    zerolog.Logger

	mu          sync.Mutex
	closed      bool
	closeReason string
	send        chan []byte
}

func newSubscriber(hub *Hub, conn *websocket.Conn, roomID, peerID string) *subscriber {
	return &subscriber{
		hub:    hub,
		conn:   conn,
		roomID: roomID,
		peerID: peerID,
		log: hub.log.With().
			Str("room_id", roomID).
			Str("peer_id", peerID).
			Logger(),
		send: make(chan []byte, sendQueueDepth),
	}
}

// enqueue queues an outbound frame, reporting false if the subscriber is gone
// or its queue is full. It never blocks the hub loop.
func (s *subscriber) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the outbound queue, which in turn ends the write pump with
// the given close reason. Idempotent.
func (s *subscriber) shutdown(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeReason = reason
	close(s.send)
}

// readPump reads frames from the connection and hands them to the hub. It is
// the connection's only reader.
func (s *subscriber) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("subscriber read ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		// The relay does not interpret negotiation content, but it does refuse
		// frames that lie about their room or sender.
		msg, err := signaling.ParseMessage(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if msg.RoomID != s.roomID || msg.SenderID != s.peerID {
			s.log.Warn().Str("claimed_room", msg.RoomID).Str("claimed_sender", msg.SenderID).
				Msg("dropping frame with mismatched routing fields")
			continue
		}

		select {
		case s.hub.publish <- publication{roomID: s.roomID, from: s, data: data}:
		case <-s.hub.done:
			return
		}
	}
}

// writePump writes queued frames and periodic pings. It is the connection's
// only writer.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.mu.Lock()
				reason := s.closeReason
				s.mu.Unlock()
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
