package signaling

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultSubscribeTimeout bounds the wait for the relay's subscribed ack.
	DefaultSubscribeTimeout = 10 * time.Second

	defaultWriteWait       = 10 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultMaxMessageBytes = 64 * 1024
)

// ClientOptions tune the relay client's websocket behavior. Zero values fall
// back to the defaults above.
type ClientOptions struct {
	SubscribeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	MaxMessageBytes  int64
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	return o
}

// Client is a relay subscription scoped to one room membership.
//
// It is constructed per membership and destroyed with it; it carries no
// negotiation logic. Messages published by the local identity are never
// redelivered by the relay; the client drops them anyway should a relay
// misbehave.
type Client struct {
	relayURL string
	selfID   string
	opts     ClientOptions
	log      zerolog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	roomID      string
	closed      bool
	connectDone chan struct{} // non-nil while a Connect is in flight
	listeners   map[int]func(Message)
	nextID      int

	// writeMu serializes websocket writes (sends and pings).
	writeMu sync.Mutex

	ready chan struct{} // closed once the subscribed ack arrives
	done  chan struct{} // closed on Disconnect
}

// NewClient builds a relay client for one room membership. relayURL is the
// relay's base websocket URL, e.g. "ws://127.0.0.1:8080".
func NewClient(relayURL, selfID string, opts ClientOptions, log zerolog.Logger) *Client {
	return &Client{
		relayURL:  relayURL,
		selfID:    selfID,
		opts:      opts.withDefaults(),
		log:       log.With().Str("component", "signaling").Str("self_id", selfID).Logger(),
		listeners: make(map[int]func(Message)),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and subscribes to roomID. It returns once the relay
// acknowledges the subscription, and ErrRelayUnavailable (wrapped) if the ack
// does not arrive within the subscribe timeout.
func (c *Client) Connect(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil || c.connectDone != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected to room %q", c.roomID)
	}
	connectDone := make(chan struct{})
	c.connectDone = connectDone
	c.roomID = roomID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connectDone = nil
		c.mu.Unlock()
		close(connectDone)
	}()

	u, err := roomURL(c.relayURL, roomID, c.selfID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.SubscribeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrRelayUnavailable, u, err)
	}

	conn.SetReadLimit(c.opts.MaxMessageBytes)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	c.mu.Lock()
	if c.closed {
		// Disconnect raced the dial; do not leak the subscription.
		c.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readPump(conn)
	go c.pingLoop(conn)

	select {
	case <-c.ready:
		c.log.Debug().Str("room_id", roomID).Msg("relay subscription acknowledged")
		return nil
	case <-dialCtx.Done():
		conn.Close()
		return fmt.Errorf("%w: no subscribed ack within %s", ErrRelayUnavailable, c.opts.SubscribeTimeout)
	case <-c.done:
		conn.Close()
		return ErrClientClosed
	}
}

// Send publishes one message to the room. It first awaits subscription
// readiness so a send issued while a Connect is in flight queues logically
// instead of failing. Write failures yield ErrSendFailed (wrapped).
func (c *Client) Send(ctx context.Context, msg *Message) error {
	select {
	case <-c.ready:
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSendFailed, ctx.Err())
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClientClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// OnMessage registers a listener for inbound peer messages and returns its
// deregistration function. All registered listeners receive every message.
func (c *Client) OnMessage(handler func(Message)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Disconnect releases the subscription and clears listeners. It is idempotent
// and safe to call while a Connect is in flight: it waits out the in-flight
// attempt (bounded by the subscribe timeout) before tearing the socket down.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	connectDone := c.connectDone
	c.mu.Unlock()

	close(c.done)

	if connectDone != nil {
		select {
		case <-connectDone:
		case <-time.After(c.opts.SubscribeTimeout):
			c.log.Warn().Msg("disconnect grace period elapsed with connect still in flight")
		}
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.listeners = make(map[int]func(Message))
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug().Err(err).Msg("relay read loop ended")
			}
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed relay frame")
			continue
		}

		if msg.Kind == KindSubscribed {
			c.ackSubscribed()
			continue
		}
		if msg.SenderID == c.selfID {
			// The relay suppresses self-delivery; this is defense in depth.
			continue
		}

		for _, handler := range c.snapshotListeners() {
			handler(msg)
		}
	}
}

func (c *Client) ackSubscribed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
}

func (c *Client) snapshotListeners() []func(Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(Message), 0, len(c.listeners))
	for _, h := range c.listeners {
		out = append(out, h)
	}
	return out
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	interval := (c.opts.PongWait * 9) / 10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func roomURL(base, roomID, selfID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay url scheme %q", u.Scheme)
	}
	u = u.JoinPath("rooms", roomID, "ws")
	q := u.Query()
	q.Set("peer", selfID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
