package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/duocall/duocall/internal/media"
	"github.com/duocall/duocall/internal/signaling"
)

// State is the Coordinator's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateAwaitingCounterpart
	StateNegotiating
	StateConnected
	StateRemoved
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCounterpart:
		return "awaiting-counterpart"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateRemoved:
		return "removed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is the session's observable condition, for the presentation layer.
type Status struct {
	Connected  bool
	Connecting bool
	// Error carries the most recent soft failure, cleared on the next
	// state change. Soft failures never stop the state machine.
	Error string
	// Removed reports a terminal forced removal: this side has exited the
	// room and will not rejoin.
	Removed bool
}

// RelayClient is what the Coordinator consumes from the signaling layer.
type RelayClient interface {
	Connect(ctx context.Context, roomID string) error
	Send(ctx context.Context, msg *signaling.Message) error
	OnMessage(handler func(signaling.Message)) (unsubscribe func())
	Disconnect()
}

const (
	defaultAnnounceInterval  = 2 * time.Second
	defaultAnnounceAttempts  = 6 // initial + 5 retries
	defaultMediaReadyTimeout = 5 * time.Second

	sendTimeout = 10 * time.Second

	eventQueueDepth = 128
)

// Options configure a Coordinator for one room membership.
type Options struct {
	SelfID string
	RoomID string

	Relay     RelayClient
	Transport TransportFactory
	// Media may be nil; negotiation then proceeds without local tracks.
	Media media.Source

	AnnounceInterval  time.Duration
	AnnounceAttempts  int
	MediaReadyTimeout time.Duration

	// OnRemoteTrack is invoked from the Coordinator's event loop when the
	// counterpart's media arrives.
	OnRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	Log zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.AnnounceInterval <= 0 {
		o.AnnounceInterval = defaultAnnounceInterval
	}
	if o.AnnounceAttempts <= 0 {
		o.AnnounceAttempts = defaultAnnounceAttempts
	}
	if o.MediaReadyTimeout <= 0 {
		o.MediaReadyTimeout = defaultMediaReadyTimeout
	}
	return o
}

type eventKind int

const (
	evMessage eventKind = iota
	evTransportState
	evLocalCandidate
	evRemoteTrack
	evAnnounce
)

// event is one input to the serialized state machine: a relay message, a
// transport callback, or an announcer tick. Transport-coupled events carry
// the generation of the transport that produced them so callbacks from a
// discarded transport cannot touch its successor.
type event struct {
	kind eventKind

	msg       signaling.Message
	connState webrtc.PeerConnectionState
	candidate webrtc.ICECandidateInit
	track     *webrtc.TrackRemote
	receiver  *webrtc.RTPReceiver
	gen       int
}

type joinKey struct {
	senderID string
	roomID   string
}

// Coordinator owns one room membership end to end: the relay subscription,
// the session transport, and the negotiation state machine. All state below
// the listener registry is touched only by the run loop.
type Coordinator struct {
	opts   Options
	selfID string
	roomID string
	log    zerolog.Logger

	events   chan event
	closed   chan struct{}
	loopDone chan struct{}

	closeOnce sync.Once
	started   bool
	startMu   sync.Mutex

	// Listener registry and last observed status; shared with callers.
	mu              sync.Mutex
	statusListeners map[int]func(Status)
	nextListenerID  int
	lastStatus      Status
	remoteTracks    []*webrtc.TrackRemote

	// Event-loop-owned negotiation state.
	state             State
	role              Role
	counterpart       string
	transport         SessionTransport
	transportGen      int
	remoteDescSet     bool
	localOfferPending bool
	pending           candidateQueue
	processedJoins    map[joinKey]struct{}
	announcer         *announcer
	unsubscribe       func()
}

// NewCoordinator builds a Coordinator; call Start to join the room.
func NewCoordinator(opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		opts:   opts,
		selfID: opts.SelfID,
		roomID: opts.RoomID,
		log: opts.Log.With().
			Str("component", "call").
			Str("room_id", opts.RoomID).
			Str("self_id", opts.SelfID).
			Logger(),
		events:          make(chan event, eventQueueDepth),
		closed:          make(chan struct{}),
		loopDone:        make(chan struct{}),
		statusListeners: make(map[int]func(Status)),
		processedJoins:  make(map[joinKey]struct{}),
		state:           StateIdle,
	}
}

// Start subscribes to the room and begins awaiting a counterpart. A relay
// subscription failure is fatal for this attempt and returned; everything
// after that is recovered internally and surfaced through Status.
func (c *Coordinator) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return fmt.Errorf("coordinator already started")
	}
	if c.state != StateIdle {
		return ErrCoordinatorClosed
	}

	if err := c.opts.Relay.Connect(ctx, c.roomID); err != nil {
		return err
	}
	c.unsubscribe = c.opts.Relay.OnMessage(func(m signaling.Message) {
		c.push(event{kind: evMessage, msg: m})
	})

	if err := c.freshTransport(); err != nil {
		c.opts.Relay.Disconnect()
		return err
	}

	c.state = StateAwaitingCounterpart
	c.startAnnouncer()
	c.publishStatus("")

	c.started = true
	go c.run()
	return nil
}

// Close tears the membership down: best-effort Leave, timers cancelled,
// transport closed, relay released. Idempotent.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.closed) })

	c.startMu.Lock()
	started := c.started
	c.startMu.Unlock()
	if started {
		<-c.loopDone
	}
}

// Status returns the last published status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// OnStatus registers a status listener (invoked from the event loop) and
// returns its deregistration function.
func (c *Coordinator) OnStatus(handler func(Status)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.statusListeners[id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusListeners, id)
	}
}

// RemoteTracks returns the counterpart's media, present only while the
// session is connected.
func (c *Coordinator) RemoteTracks() []*webrtc.TrackRemote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastStatus.Connected {
		return nil
	}
	out := make([]*webrtc.TrackRemote, len(c.remoteTracks))
	copy(out, c.remoteTracks)
	return out
}

// ToggleLocalAudio flips the local audio mute and returns the resulting
// enabled state.
func (c *Coordinator) ToggleLocalAudio() bool {
	return c.toggleKind(webrtc.RTPCodecTypeAudio)
}

// ToggleLocalVideo flips the local video mute and returns the resulting
// enabled state.
func (c *Coordinator) ToggleLocalVideo() bool {
	return c.toggleKind(webrtc.RTPCodecTypeVideo)
}

func (c *Coordinator) toggleKind(kind webrtc.RTPCodecType) bool {
	if c.opts.Media == nil {
		return false
	}
	return c.opts.Media.SetEnabled(kind, !c.opts.Media.Enabled(kind))
}

// ForceRemovePeer commands the counterpart out of the room. The local side
// stays, awaiting a new counterpart.
func (c *Coordinator) ForceRemovePeer() error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return c.opts.Relay.Send(ctx, &signaling.Message{
		Kind:     signaling.KindKick,
		RoomID:   c.roomID,
		SenderID: c.selfID,
	})
}

// push hands an event to the run loop, keeping the caller out of coordinator
// state entirely. Pion callbacks and relay listeners all come through here.
func (c *Coordinator) push(ev event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *Coordinator) run() {
	defer close(c.loopDone)
	for {
		select {
		case ev := <-c.events:
			if terminal := c.handle(ev); terminal {
				return
			}
		case <-c.closed:
			c.teardown(true)
			c.state = StateClosed
			return
		}
	}
}

// handle processes one event to completion. It reports true when the
// Coordinator reached a terminal state and the loop should exit.
func (c *Coordinator) handle(ev event) bool {
	switch ev.kind {
	case evMessage:
		return c.handleMessage(ev.msg)
	case evTransportState:
		if ev.gen != c.transportGen {
			return false
		}
		c.handleTransportState(ev.connState)
	case evLocalCandidate:
		if ev.gen != c.transportGen {
			return false
		}
		c.sendCandidate(ev.candidate)
	case evRemoteTrack:
		if ev.gen != c.transportGen {
			return false
		}
		c.mu.Lock()
		c.remoteTracks = append(c.remoteTracks, ev.track)
		c.mu.Unlock()
		if c.opts.OnRemoteTrack != nil {
			c.opts.OnRemoteTrack(ev.track, ev.receiver)
		}
	case evAnnounce:
		if ev.gen != c.transportGen || c.state != StateAwaitingCounterpart {
			return false
		}
		c.sendJoin()
	}
	return false
}

func (c *Coordinator) handleMessage(msg signaling.Message) bool {
	if msg.SenderID == c.selfID {
		// The relay never echoes; tolerate one that does.
		return false
	}
	if msg.RoomID != c.roomID {
		c.log.Warn().Str("msg_room", msg.RoomID).Msg("dropping message for another room")
		return false
	}

	switch msg.Kind {
	case signaling.KindJoin:
		c.handleJoin(msg)
	case signaling.KindOffer:
		c.handleOffer(msg)
	case signaling.KindAnswer:
		c.handleAnswer(msg)
	case signaling.KindICECandidate:
		c.handleCandidate(msg)
	case signaling.KindLeave:
		c.handleLeave(msg)
	case signaling.KindKick:
		return c.handleKick(msg)
	}
	return false
}

// handleJoin discovers the counterpart and, as leader, opens negotiation.
// The same join delivered twice triggers negotiation exactly once.
func (c *Coordinator) handleJoin(msg signaling.Message) {
	if c.state != StateAwaitingCounterpart {
		return
	}
	key := joinKey{senderID: msg.SenderID, roomID: msg.RoomID}
	if _, seen := c.processedJoins[key]; seen {
		return
	}
	c.processedJoins[key] = struct{}{}

	c.counterpart = msg.SenderID
	c.role = ResolveRole(c.selfID, msg.SenderID)
	c.stopAnnouncer()
	c.state = StateNegotiating
	c.publishStatus("")

	c.log.Info().Str("counterpart", msg.SenderID).Stringer("role", c.role).
		Msg("counterpart discovered")

	if c.transport == nil {
		if err := c.freshTransport(); err != nil {
			c.softError(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
			return
		}
	}

	if c.role == RoleLeader {
		c.awaitMediaThenAttach()
		c.sendOffer()
	} else {
		c.attachMediaIfReady()
	}
}

// handleOffer accepts the counterpart's offer, rolling back an in-flight
// local offer first. The rollback is unconditional for any non-stable state,
// not limited to the follower; the role resolver's total order already
// guarantees both peers agree on who ends up answering.
func (c *Coordinator) handleOffer(msg signaling.Message) {
	switch c.state {
	case StateIdle, StateRemoved, StateClosed:
		return
	}
	if c.counterpart != "" && msg.SenderID != c.counterpart {
		return
	}
	if msg.SDP == nil {
		return
	}

	if c.counterpart == "" {
		// Their join never reached us; the offer itself announces them.
		c.counterpart = msg.SenderID
		c.role = ResolveRole(c.selfID, msg.SenderID)
	}
	c.stopAnnouncer()
	c.state = StateNegotiating
	c.publishStatus("")

	if c.transport == nil {
		if err := c.freshTransport(); err != nil {
			c.softError(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
			return
		}
	}

	if !c.transport.Stable() {
		c.log.Info().Str("counterpart", msg.SenderID).
			Msg("glare: rolling back local offer to accept the incoming one")
		if err := c.transport.Rollback(); err != nil {
			c.softError(fmt.Errorf("%w: rollback: %v", ErrNegotiationFailed, err))
			return
		}
		c.localOfferPending = false
	}

	desc, err := msg.SDP.ToPion()
	if err != nil {
		c.softError(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return
	}
	if err := c.transport.SetRemoteDescription(desc); err != nil {
		c.softError(fmt.Errorf("%w: set remote offer: %v", ErrNegotiationFailed, err))
		return
	}
	c.remoteDescSet = true
	c.pending.drainInto(c.transport, c.log)

	c.attachMediaIfReady()

	answer, err := c.transport.CreateAnswer()
	if err != nil {
		c.softError(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return
	}
	sdp := signaling.SDPFromPion(answer)
	c.send(&signaling.Message{
		Kind:     signaling.KindAnswer,
		SDP:      &sdp,
		RoomID:   c.roomID,
		SenderID: c.selfID,
	})
}

func (c *Coordinator) handleAnswer(msg signaling.Message) {
	if c.transport == nil || !c.localOfferPending {
		c.log.Debug().Msg("ignoring answer with no offer outstanding")
		return
	}
	if c.counterpart != "" && msg.SenderID != c.counterpart {
		return
	}
	if msg.SDP == nil {
		return
	}

	desc, err := msg.SDP.ToPion()
	if err != nil {
		c.softError(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return
	}
	if err := c.transport.SetRemoteDescription(desc); err != nil {
		c.softError(fmt.Errorf("%w: set remote answer: %v", ErrNegotiationFailed, err))
		return
	}
	c.localOfferPending = false
	c.remoteDescSet = true
	c.pending.drainInto(c.transport, c.log)
}

// handleCandidate applies a candidate immediately when the remote
// description is set, and buffers it otherwise.
func (c *Coordinator) handleCandidate(msg signaling.Message) {
	if msg.Candidate == nil {
		return
	}
	if c.counterpart != "" && msg.SenderID != c.counterpart {
		return
	}

	init := msg.Candidate.ToPion()
	if c.transport == nil || !c.remoteDescSet {
		c.pending.enqueue(init)
		return
	}
	if err := c.transport.AddICECandidate(init); err != nil {
		c.log.Warn().Err(fmt.Errorf("%w: %v", ErrCandidateApplyFailed, err)).
			Str("candidate", init.Candidate).
			Msg("skipping candidate that failed to apply")
	}
}

// handleLeave resets for a new counterpart: the transport is discarded and
// the processed-join record for the room cleared, so a fresh join (even from
// the same identity) can renegotiate.
func (c *Coordinator) handleLeave(msg signaling.Message) {
	if c.counterpart == "" || msg.SenderID != c.counterpart {
		return
	}
	c.log.Info().Str("counterpart", msg.SenderID).Msg("counterpart left the room")

	for key := range c.processedJoins {
		if key.roomID == msg.RoomID {
			delete(c.processedJoins, key)
		}
	}
	c.resetToAwaiting()
}

// handleKick is terminal: this side exits the room unconditionally.
func (c *Coordinator) handleKick(msg signaling.Message) bool {
	c.log.Info().Str("sender", msg.SenderID).Msg("forcibly removed from the room")
	c.teardown(false)
	c.state = StateRemoved
	c.publishStatus("")
	return true
}

// handleTransportState folds connectivity callbacks into the same state
// machine as relay messages, so "peer said leave" and "transport failed"
// have a deterministic order.
func (c *Coordinator) handleTransportState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.stopAnnouncer()
		c.state = StateConnected
		c.publishStatus("")
		c.log.Info().Str("counterpart", c.counterpart).Msg("session connected")
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		if c.state == StateRemoved || c.state == StateClosed {
			return
		}
		c.log.Info().Stringer("transport_state", state).
			Msg("transport lost, awaiting a counterpart again")
		c.resetToAwaiting()
	}
}

// resetToAwaiting discards the transport and its scoped state, then re-arms
// presence announcement on a fresh transport. Join history is preserved
// unless the reset came from an explicit Leave.
func (c *Coordinator) resetToAwaiting() {
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			c.log.Debug().Err(err).Msg("closing discarded transport")
		}
		c.transport = nil
	}
	c.pending.clear()
	c.remoteDescSet = false
	c.localOfferPending = false
	c.counterpart = ""
	c.mu.Lock()
	c.remoteTracks = nil
	c.mu.Unlock()

	if err := c.freshTransport(); err != nil {
		c.state = StateAwaitingCounterpart
		c.softError(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return
	}
	c.state = StateAwaitingCounterpart
	c.startAnnouncer()
	c.publishStatus("")
}

// freshTransport replaces the owned transport instance and bumps the
// generation so events from any predecessor are ignored.
func (c *Coordinator) freshTransport() error {
	c.transportGen++
	gen := c.transportGen
	t, err := c.opts.Transport(TransportEvents{
		OnLocalCandidate: func(init webrtc.ICECandidateInit) {
			c.push(event{kind: evLocalCandidate, candidate: init, gen: gen})
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			c.push(event{kind: evTransportState, connState: state, gen: gen})
		},
		OnRemoteTrack: func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			c.push(event{kind: evRemoteTrack, track: track, receiver: receiver, gen: gen})
		},
	})
	if err != nil {
		return err
	}
	c.transport = t
	return nil
}

func (c *Coordinator) startAnnouncer() {
	c.stopAnnouncer()
	gen := c.transportGen
	c.announcer = newAnnouncer(c.opts.AnnounceInterval, c.opts.AnnounceAttempts, func() {
		c.push(event{kind: evAnnounce, gen: gen})
	})
}

func (c *Coordinator) stopAnnouncer() {
	if c.announcer != nil {
		c.announcer.Stop()
		c.announcer = nil
	}
}

// awaitMediaThenAttach blocks (bounded) until local media is ready, then
// attaches it. On timeout the offer proceeds without local tracks.
func (c *Coordinator) awaitMediaThenAttach() {
	if c.opts.Media == nil {
		return
	}
	select {
	case <-c.opts.Media.Ready():
		c.attachMedia()
	case <-time.After(c.opts.MediaReadyTimeout):
		c.softError(fmt.Errorf("%w: not ready within %s", ErrMediaUnavailable, c.opts.MediaReadyTimeout))
	case <-c.closed:
	}
}

func (c *Coordinator) attachMediaIfReady() {
	if c.opts.Media == nil {
		return
	}
	select {
	case <-c.opts.Media.Ready():
		c.attachMedia()
	default:
	}
}

func (c *Coordinator) attachMedia() {
	if c.transport == nil {
		return
	}
	if err := c.transport.AttachTracks(c.opts.Media.Tracks()); err != nil {
		c.softError(fmt.Errorf("%w: %v", ErrMediaUnavailable, err))
	}
}

func (c *Coordinator) sendJoin() {
	c.send(&signaling.Message{
		Kind:     signaling.KindJoin,
		RoomID:   c.roomID,
		SenderID: c.selfID,
	})
}

func (c *Coordinator) sendOffer() {
	if c.transport == nil {
		return
	}
	offer, err := c.transport.CreateOffer()
	if err != nil {
		c.softError(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return
	}
	c.localOfferPending = true
	sdp := signaling.SDPFromPion(offer)
	c.send(&signaling.Message{
		Kind:     signaling.KindOffer,
		SDP:      &sdp,
		RoomID:   c.roomID,
		SenderID: c.selfID,
	})
}

func (c *Coordinator) sendCandidate(init webrtc.ICECandidateInit) {
	cand := signaling.CandidateFromPion(init)
	c.send(&signaling.Message{
		Kind:      signaling.KindICECandidate,
		Candidate: &cand,
		RoomID:    c.roomID,
		SenderID:  c.selfID,
	})
}

// send publishes one message; failures are soft (the peer retries on its
// next inbound event, per the protocol's recovery paths).
func (c *Coordinator) send(msg *signaling.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := c.opts.Relay.Send(ctx, msg); err != nil {
		c.softError(fmt.Errorf("send %s: %w", msg.Kind, err))
	}
}

// softError surfaces a recovered failure without leaving the current state.
func (c *Coordinator) softError(err error) {
	c.log.Warn().Err(err).Stringer("state", c.state).Msg("recovered session error")
	c.publishStatus(err.Error())
}

func (c *Coordinator) publishStatus(errMsg string) {
	st := Status{
		Connected:  c.state == StateConnected,
		Connecting: c.state == StateNegotiating,
		Error:      errMsg,
		Removed:    c.state == StateRemoved,
	}

	c.mu.Lock()
	c.lastStatus = st
	listeners := make([]func(Status), 0, len(c.statusListeners))
	for _, handler := range c.statusListeners {
		listeners = append(listeners, handler)
	}
	c.mu.Unlock()

	for _, handler := range listeners {
		handler(st)
	}
}

// teardown releases the announcer, the transport, and the relay
// subscription. Each release runs regardless of the others.
func (c *Coordinator) teardown(sendLeave bool) {
	c.stopAnnouncer()

	if sendLeave {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := c.opts.Relay.Send(ctx, &signaling.Message{
			Kind:     signaling.KindLeave,
			RoomID:   c.roomID,
			SenderID: c.selfID,
		}); err != nil {
			c.log.Debug().Err(err).Msg("best-effort leave failed")
		}
		cancel()
	}

	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			c.log.Debug().Err(err).Msg("closing transport during teardown")
		}
		c.transport = nil
	}

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.opts.Relay.Disconnect()
}
