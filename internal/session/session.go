// Package session drives one echo call through its lifecycle: it owns the
// PeerLink, relays descriptions and candidates over the signaling channel and
// publishes an observable status.
//
// All state lives on a single goroutine (Run). Commands, channel events,
// PeerLink callbacks and media acquisition results are queued on one inbox
// and handled one at a time, so no handler ever runs concurrently with
// another and none of them blocks waiting for a later event.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/echoclient/internal/candidates"
	"github.com/1ureka/echoclient/internal/signaling"
	"github.com/1ureka/echoclient/internal/util"
)

const inboxSize = 64

var (
	log = util.Scope("session")

	errUnexpectedAnswer = errors.New("answer received outside of negotiation")
)

// Compile-time interface check.
var _ signaling.Handler = (*Session)(nil)

// Config wires a Session to its collaborators.
type Config struct {
	Channel  Channel
	Media    MediaSource
	NewPeer  PeerFactory
	Observer Observer // optional
	Retain   int      // applied candidates kept per session, see candidates.New
}

// Session is the signaling state machine. Create it once per process with
// New, register it as the channel's handler and run it with Run.
type Session struct {
	ch       Channel
	media    MediaSource
	newPeer  PeerFactory
	observer Observer
	retain   int

	inbox chan event
	done  chan struct{}
	ctx   context.Context

	// Owned by the Run goroutine.
	state      State
	connected  bool
	epoch      int // bumped on every channel connect/disconnect
	mediaReady bool
	local      webrtc.TrackLocal
	peer       PeerLink
	gen        uint64 // identifies the current PeerLink's events
	id         string
	offer      string // local description, held until delivered
	offerSent  bool
	buffer     *candidates.Buffer
	remote     RemoteStream

	// Published snapshot, readable from any goroutine.
	mu     sync.RWMutex
	status Status
	audio  RemoteStream
}

// New creates an idle session.
func New(cfg Config) *Session {
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Session{
		ch:       cfg.Channel,
		media:    cfg.Media,
		newPeer:  cfg.NewPeer,
		observer: obs,
		retain:   cfg.Retain,
		inbox:    make(chan event, inboxSize),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		buffer:   candidates.New(cfg.Retain),
	}
}

// Run processes events until ctx is cancelled. A live call is torn down on
// the way out.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	defer close(s.done)

	for {
		select {
		case ev := <-s.inbox:
			s.handle(ev)
		case <-ctx.Done():
			if s.state != Idle {
				s.teardown(true)
			}
			return ctx.Err()
		}
	}
}

// ---------------------------------------------------------------------------
// Public API (safe from any goroutine)
// ---------------------------------------------------------------------------

// Start requests a new call. Ignored unless the session is Idle.
func (s *Session) Start() { s.post(startCmd{}) }

// Stop ends the current call. Ignored while Idle.
func (s *Session) Stop() { s.post(stopCmd{}) }

// Status returns the last published status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Audio returns the inbound audio endpoint, or nil when none is available.
func (s *Session) Audio() RemoteStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

// signaling.Handler implementation: every event is queued.

func (s *Session) OnConnected()                    { s.post(connectedEvent{}) }
func (s *Session) OnMessage(msg signaling.Message) { s.post(messageEvent{msg: msg}) }
func (s *Session) OnDisconnected(reason error)     { s.post(disconnectedEvent{reason: reason}) }
func (s *Session) OnParseError(err error)          { s.post(parseErrorEvent{err: err}) }

// post queues an event. It gives up once Run has returned.
func (s *Session) post(ev event) {
	select {
	case s.inbox <- ev:
	case <-s.done:
	}
}

// ---------------------------------------------------------------------------
// Event handling (Run goroutine only)
// ---------------------------------------------------------------------------

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case startCmd:
		s.start()

	case stopCmd:
		if s.state == Idle {
			log.Debug("stop ignored: no call in progress")
			return
		}
		log.Info("[%s] stopping", s.id)
		s.teardown(true)

	case connectedEvent:
		s.connected = true
		s.epoch++
		s.mediaReady = false
		s.publish()
		go s.acquire(s.ctx, s.epoch)
		if s.state == Connecting && !s.offerSent && s.offer != "" {
			log.Info("[%s] re-sending offer after reconnect", s.id)
			s.sendOffer()
		}

	case disconnectedEvent:
		log.Debug("channel down: %v", ev.reason)
		if !s.connected {
			return
		}
		s.connected = false
		s.epoch++
		s.mediaReady = false
		s.publish()

	case parseErrorEvent:
		s.notify(ev.err)

	case messageEvent:
		s.dispatch(ev.msg)

	case mediaEvent:
		s.onMedia(ev)

	case peerEvent:
		if s.peer == nil || ev.gen != s.gen {
			log.Debug("dropped %s event from a closed peer", ev.Kind)
			return
		}
		s.onPeer(ev.PeerEvent)
	}
}

// start performs the Idle → Connecting transition.
func (s *Session) start() {
	if s.state != Idle {
		log.Debug("start ignored: session is %s", s.state)
		return
	}
	if !s.online() {
		s.notify(ErrNotReady)
		return
	}

	s.buffer = candidates.New(s.retain)
	s.gen++
	gen := s.gen
	peer, err := s.newPeer(s.local, func(pe PeerEvent) {
		s.post(peerEvent{gen: gen, PeerEvent: pe})
	})
	if err != nil {
		s.notify(&NegotiationError{Op: "create peer", Err: err})
		return
	}

	s.peer = peer
	s.id = uuid.NewString()[:8]
	s.offer = ""
	s.offerSent = false
	s.state = Connecting
	s.publish()
	log.Info("[%s] negotiating", s.id)

	peer.Negotiate()
}

// teardown returns to Idle, releasing the PeerLink exactly once.
func (s *Session) teardown(sendStop bool) {
	if sendStop {
		if err := s.ch.Send(signaling.StopMessage()); err != nil {
			log.Debug("[%s] stop not delivered: %v", s.id, err)
		}
	}
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			log.Warn("[%s] closing peer: %v", s.id, err)
		}
		s.peer = nil
	}
	s.buffer.Reset()
	s.remote = nil
	s.offer = ""
	s.offerSent = false
	s.state = Idle
	s.publish()
}

// fail surfaces err and forces the session back to Idle.
func (s *Session) fail(err error) {
	s.notify(err)
	s.teardown(s.offerSent)
}

func (s *Session) dispatch(msg signaling.Message) {
	if err := signaling.Validate(msg); err != nil {
		s.notify(err)
		return
	}

	switch msg.ID {
	case signaling.IDStartResponse:
		s.onStartResponse(msg.SDPAnswer)

	case signaling.IDIceCandidate:
		s.onRemoteCandidate(msg.Candidate)

	case signaling.IDError:
		s.notify(&RemoteError{Message: msg.Message})

	default:
		s.notify(&signaling.ProtocolError{
			ID:  msg.ID,
			Err: fmt.Errorf("%w: only sent by clients", signaling.ErrUnrecognized),
		})
	}
}

// onStartResponse performs the Connecting → Active transition. A repeated
// answer while Active replays every stored candidate instead.
func (s *Session) onStartResponse(sdpAnswer string) {
	if s.state == Active && s.peer != nil {
		log.Debug("[%s] repeated answer, replaying %d candidates", s.id, s.buffer.Len())
		if err := s.buffer.Replay(s.peer.AddICECandidate); err != nil {
			log.Warn("[%s] replayed candidates rejected: %v", s.id, err)
		}
		return
	}
	if s.state != Connecting || s.peer == nil {
		s.notify(&signaling.ProtocolError{ID: signaling.IDStartResponse, Err: errUnexpectedAnswer})
		return
	}

	log.Debug("[%s] answer %s received", s.id, util.Fingerprint(sdpAnswer))
	if err := s.peer.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdpAnswer,
	}); err != nil {
		s.fail(&NegotiationError{Op: "set remote description", Err: err})
		return
	}

	s.state = Active
	pending := len(s.buffer.Pending())
	if err := s.buffer.Flush(s.peer.AddICECandidate); err != nil {
		log.Warn("[%s] buffered candidates rejected: %v", s.id, err)
	}
	log.Info("[%s] active, %d buffered candidates applied", s.id, pending)
	s.publish()
}

// onRemoteCandidate applies a candidate directly when possible and always
// records it in the buffer. Without a call there is nothing to apply it to.
func (s *Session) onRemoteCandidate(c *webrtc.ICECandidateInit) {
	if s.peer == nil {
		log.Debug("remote candidate dropped: no call in progress")
		return
	}
	if s.peer.HasRemoteDescription() {
		if err := s.peer.AddICECandidate(c); err != nil {
			log.Warn("[%s] remote candidate rejected: %v", s.id, err)
		}
		s.buffer.Retain(c)
		return
	}
	s.buffer.Add(c)
}

func (s *Session) onPeer(pe PeerEvent) {
	switch pe.Kind {
	case PeerLocalDescription:
		if s.state != Connecting || s.offerSent {
			return
		}
		s.offer = pe.SDP
		s.sendOffer()

	case PeerNegotiationFailed:
		s.fail(&NegotiationError{Op: "create offer", Err: pe.Err})

	case PeerICECandidate:
		if err := s.ch.Send(signaling.OnIceCandidateMessage(pe.Candidate)); err != nil {
			log.Debug("[%s] local candidate not delivered: %v", s.id, err)
		}

	case PeerRemoteStream:
		s.remote = pe.Stream
		log.Info("[%s] remote audio available", s.id)
		s.publish()

	case PeerConnectionState:
		log.Debug("[%s] peer connection %s", s.id, pe.State)
		if pe.State == webrtc.PeerConnectionStateFailed || pe.State == webrtc.PeerConnectionStateClosed {
			log.Warn("[%s] peer connection %s, ending call", s.id, pe.State)
			s.teardown(s.offerSent)
		}
	}
}

// sendOffer delivers the held offer. On failure it stays held and is sent
// again on the next connect.
func (s *Session) sendOffer() {
	if err := s.ch.Send(signaling.StartMessage(s.offer)); err != nil {
		s.notify(err)
		return
	}
	s.offerSent = true
	log.Debug("[%s] offer %s sent", s.id, util.Fingerprint(s.offer))
}

// acquire runs off the session goroutine; the result comes back as an event.
func (s *Session) acquire(ctx context.Context, epoch int) {
	track, err := s.media.Acquire(ctx, AudioOnly)
	s.post(mediaEvent{epoch: epoch, track: track, err: err})
}

func (s *Session) onMedia(ev mediaEvent) {
	if ev.epoch != s.epoch {
		log.Debug("dropped stale media acquisition")
		return
	}
	if ev.err != nil {
		s.mediaReady = false
		s.notify(&MediaAcquisitionError{Err: ev.err})
		s.publish()
		return
	}
	s.local = ev.track
	s.mediaReady = true
	s.publish()
}

func (s *Session) online() bool {
	return s.connected && s.mediaReady
}

// publish recomputes the status and notifies the observer if it changed.
func (s *Session) publish() {
	st := Status{
		State:          s.state,
		Online:         s.online(),
		Connecting:     s.state == Connecting && s.remote == nil,
		AudioAvailable: s.remote != nil,
	}

	s.mu.Lock()
	changed := st != s.status
	s.status = st
	s.audio = s.remote
	s.mu.Unlock()

	if changed {
		s.observer.StatusChanged(st)
	}
}

func (s *Session) notify(err error) {
	log.Warn("%v", err)
	s.observer.Notify(err)
}

type nopObserver struct{}

func (nopObserver) StatusChanged(Status) {}
func (nopObserver) Notify(error)         {}
