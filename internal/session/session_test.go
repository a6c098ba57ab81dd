package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/echoclient/internal/signaling"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeChannel struct {
	sent []signaling.Message
	err  error
}

func (c *fakeChannel) Send(msg signaling.Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) ids() []signaling.MessageID {
	ids := make([]signaling.MessageID, 0, len(c.sent))
	for _, m := range c.sent {
		ids = append(ids, m.ID)
	}
	return ids
}

type fakePeer struct {
	negotiated int
	remote     *webrtc.SessionDescription
	remoteErr  error
	applied    []string
	closed     int
}

func (p *fakePeer) Negotiate() { p.negotiated++ }

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remote = &desc
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool { return p.remote != nil }

func (p *fakePeer) AddICECandidate(c *webrtc.ICECandidateInit) error {
	p.applied = append(p.applied, c.Candidate)
	return nil
}

func (p *fakePeer) Close() error {
	p.closed++
	return nil
}

type fakeFactory struct {
	peers []*fakePeer
	emits []func(PeerEvent)
	err   error
}

func (f *fakeFactory) New(_ webrtc.TrackLocal, emit func(PeerEvent)) (PeerLink, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{}
	f.peers = append(f.peers, p)
	f.emits = append(f.emits, emit)
	return p, nil
}

func (f *fakeFactory) last() (*fakePeer, func(PeerEvent)) {
	n := len(f.peers)
	return f.peers[n-1], f.emits[n-1]
}

type fakeMedia struct {
	err error
}

func (m *fakeMedia) Acquire(ctx context.Context, c Constraints) (webrtc.TrackLocal, error) {
	if m.err != nil {
		return nil, m.err
	}
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
}

type recorder struct {
	statuses []Status
	errs     []error
}

func (r *recorder) StatusChanged(st Status) { r.statuses = append(r.statuses, st) }
func (r *recorder) Notify(err error)        { r.errs = append(r.errs, err) }

type stream struct{}

func (stream) ID() string       { return "audio" }
func (stream) StreamID() string { return "echo" }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type harness struct {
	s       *Session
	ch      *fakeChannel
	media   *fakeMedia
	factory *fakeFactory
	obs     *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ch:      &fakeChannel{},
		media:   &fakeMedia{},
		factory: &fakeFactory{},
		obs:     &recorder{},
	}
	h.s = New(Config{
		Channel:  h.ch,
		Media:    h.media,
		NewPeer:  h.factory.New,
		Observer: h.obs,
	})
	return h
}

// next handles the next queued event, failing if none arrives.
func (h *harness) next(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.s.inbox:
		h.s.handle(ev)
	case <-time.After(time.Second):
		t.Fatal("no event queued")
	}
}

func (h *harness) online(t *testing.T) {
	t.Helper()
	h.s.handle(connectedEvent{})
	h.next(t) // media result
	require.True(t, h.s.Status().Online)
}

// emit delivers a PeerLink event through the inbox, as transport would.
func (h *harness) emit(t *testing.T, emit func(PeerEvent), ev PeerEvent) {
	t.Helper()
	emit(ev)
	h.next(t)
}

func (h *harness) deliver(msg signaling.Message) {
	h.s.handle(messageEvent{msg: msg})
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

// startActive drives a session to Active and returns its peer.
func (h *harness) startActive(t *testing.T) (*fakePeer, func(PeerEvent)) {
	t.Helper()
	h.online(t)
	h.s.handle(startCmd{})
	peer, emit := h.factory.last()
	h.emit(t, emit, PeerEvent{Kind: PeerLocalDescription, SDP: "offerX"})
	h.deliver(signaling.StartResponseMessage("answerY"))
	require.Equal(t, Active, h.s.Status().State)
	return peer, emit
}

// ---------------------------------------------------------------------------
// Lifecycle guards
// ---------------------------------------------------------------------------

func TestStartWhileOfflineIsRejected(t *testing.T) {
	h := newHarness(t)

	h.s.handle(startCmd{})

	assert.Empty(t, h.factory.peers)
	assert.Empty(t, h.ch.sent)
	assert.Equal(t, Idle, h.s.Status().State)
	require.Len(t, h.obs.errs, 1)
	assert.ErrorIs(t, h.obs.errs[0], ErrNotReady)
}

func TestStartIsIgnoredWhileNotIdle(t *testing.T) {
	h := newHarness(t)
	h.online(t)

	h.s.handle(startCmd{})
	peer, emit := h.factory.last()
	h.s.handle(startCmd{})
	assert.Len(t, h.factory.peers, 1, "second start while Connecting")

	h.emit(t, emit, PeerEvent{Kind: PeerLocalDescription, SDP: "offerX"})
	h.deliver(signaling.StartResponseMessage("answerY"))
	h.s.handle(startCmd{})

	assert.Len(t, h.factory.peers, 1, "second start while Active")
	assert.Equal(t, 1, peer.negotiated)
	assert.Equal(t, []signaling.MessageID{signaling.IDStart}, h.ch.ids())
}

func TestStopWhileIdleSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	statuses := len(h.obs.statuses)

	h.s.handle(stopCmd{})

	assert.Empty(t, h.ch.sent)
	assert.Len(t, h.obs.statuses, statuses)
}

func TestEveryPeerIsClosedExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.online(t)

	for range 3 {
		h.s.handle(startCmd{})
		h.s.handle(startCmd{})
		h.s.handle(stopCmd{})
		h.s.handle(stopCmd{})
	}
	h.s.handle(startCmd{})
	_, emit := h.factory.last()
	h.emit(t, emit, PeerEvent{Kind: PeerConnectionState, State: webrtc.PeerConnectionStateFailed})
	h.s.handle(stopCmd{})

	require.Len(t, h.factory.peers, 4)
	for i, p := range h.factory.peers {
		assert.Equal(t, 1, p.closed, "peer %d", i)
	}
}

func TestLateEventsFromClosedPeerAreDropped(t *testing.T) {
	h := newHarness(t)
	h.online(t)

	h.s.handle(startCmd{})
	_, oldEmit := h.factory.last()
	h.s.handle(stopCmd{})
	h.ch.sent = nil

	h.s.handle(startCmd{})
	h.emit(t, oldEmit, PeerEvent{Kind: PeerLocalDescription, SDP: "stale"})
	h.emit(t, oldEmit, PeerEvent{Kind: PeerRemoteStream, Stream: stream{}})

	assert.Empty(t, h.ch.sent)
	assert.False(t, h.s.Status().AudioAvailable)
	assert.Equal(t, Connecting, h.s.Status().State)
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestScenarioOfferAnswer(t *testing.T) {
	h := newHarness(t)
	h.online(t)

	h.s.handle(startCmd{})
	assert.Equal(t, Connecting, h.s.Status().State)
	assert.True(t, h.s.Status().Connecting)

	peer, emit := h.factory.last()
	assert.Equal(t, 1, peer.negotiated)

	h.emit(t, emit, PeerEvent{Kind: PeerLocalDescription, SDP: "offerX"})
	require.Len(t, h.ch.sent, 1)
	assert.Equal(t, signaling.StartMessage("offerX"), h.ch.sent[0])

	h.deliver(signaling.StartResponseMessage("answerY"))
	require.NotNil(t, peer.remote)
	assert.Equal(t, webrtc.SDPTypeAnswer, peer.remote.Type)
	assert.Equal(t, "answerY", peer.remote.SDP)
	assert.Equal(t, Active, h.s.Status().State)
}

func TestScenarioCandidateExchange(t *testing.T) {
	h := newHarness(t)
	peer, emit := h.startActive(t)
	h.ch.sent = nil

	h.deliver(signaling.IceCandidateMessage(candidate("remote-1")))
	assert.Equal(t, []string{"remote-1"}, peer.applied)

	h.emit(t, emit, PeerEvent{Kind: PeerICECandidate, Candidate: candidate("local-1")})
	require.Len(t, h.ch.sent, 1)
	assert.Equal(t, signaling.IDOnIceCandidate, h.ch.sent[0].ID)
	assert.Equal(t, "local-1", h.ch.sent[0].Candidate.Candidate)
}

func TestScenarioStopWhileActive(t *testing.T) {
	h := newHarness(t)
	peer, emit := h.startActive(t)
	h.emit(t, emit, PeerEvent{Kind: PeerRemoteStream, Stream: stream{}})
	require.True(t, h.s.Status().AudioAvailable)
	require.NotNil(t, h.s.Audio())
	h.ch.sent = nil

	h.s.handle(stopCmd{})

	assert.Equal(t, []signaling.MessageID{signaling.IDStop}, h.ch.ids())
	assert.Equal(t, 1, peer.closed)
	st := h.s.Status()
	assert.Equal(t, Idle, st.State)
	assert.False(t, st.AudioAvailable)
	assert.Nil(t, h.s.Audio())
}

func TestScenarioUnknownMessage(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)
	h.ch.sent = nil

	h.deliver(signaling.Message{ID: "bogus"})

	assert.Equal(t, Active, h.s.Status().State)
	assert.Empty(t, h.ch.sent)
	require.NotEmpty(t, h.obs.errs)
	var perr *signaling.ProtocolError
	assert.ErrorAs(t, h.obs.errs[len(h.obs.errs)-1], &perr)
}

// ---------------------------------------------------------------------------
// Candidates
// ---------------------------------------------------------------------------

func TestEarlyCandidatesAreReplayedInOrder(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.s.handle(startCmd{})
	peer, emit := h.factory.last()
	h.emit(t, emit, PeerEvent{Kind: PeerLocalDescription, SDP: "offerX"})

	for _, c := range []string{"c1", "c2", "c3"} {
		h.deliver(signaling.IceCandidateMessage(candidate(c)))
	}
	assert.Empty(t, peer.applied, "applied before the answer")

	h.deliver(signaling.StartResponseMessage("answerY"))
	assert.Equal(t, []string{"c1", "c2", "c3"}, peer.applied)

	h.deliver(signaling.IceCandidateMessage(candidate("c4")))
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, peer.applied)
}

func TestCandidatesDoNotLeakIntoNextCall(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.s.handle(startCmd{})
	h.deliver(signaling.IceCandidateMessage(candidate("old")))
	h.s.handle(stopCmd{})

	h.s.handle(startCmd{})
	peer, emit := h.factory.last()
	h.emit(t, emit, PeerEvent{Kind: PeerLocalDescription, SDP: "offerX"})
	h.deliver(signaling.StartResponseMessage("answerY"))

	assert.Empty(t, peer.applied)
}

func TestCandidateAppliedTwiceKeepsOutcome(t *testing.T) {
	h := newHarness(t)
	peer, _ := h.startActive(t)

	h.deliver(signaling.IceCandidateMessage(candidate("c1")))
	h.deliver(signaling.IceCandidateMessage(candidate("c2")))
	require.Equal(t, []string{"c1", "c2"}, peer.applied)

	// A repeated answer replays the stored candidates onto the same peer.
	h.deliver(signaling.StartResponseMessage("answerY"))

	assert.Equal(t, []string{"c1", "c2", "c1", "c2"}, peer.applied)
	assert.ElementsMatch(t, []string{"c1", "c2"}, distinct(peer.applied))
	assert.Equal(t, "answerY", peer.remote.SDP)
	assert.Equal(t, Active, h.s.Status().State)
	assert.Len(t, h.factory.peers, 1)
	assert.Empty(t, h.obs.errs)
}

func TestCandidateWhileIdleIsDropped(t *testing.T) {
	h := newHarness(t)
	h.online(t)

	h.deliver(signaling.IceCandidateMessage(candidate("stray")))
	assert.Zero(t, h.s.buffer.Len())

	h.s.handle(startCmd{})
	peer, emit := h.factory.last()
	h.emit(t, emit, PeerEvent{Kind: PeerLocalDescription, SDP: "offerX"})
	h.deliver(signaling.StartResponseMessage("answerY"))

	assert.Empty(t, peer.applied)
}

func distinct(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestNegotiationFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.s.handle(startCmd{})
	peer, emit := h.factory.last()

	h.emit(t, emit, PeerEvent{Kind: PeerNegotiationFailed, Err: errors.New("boom")})

	assert.Equal(t, Idle, h.s.Status().State)
	assert.Equal(t, 1, peer.closed)
	assert.Empty(t, h.ch.sent, "no offer was sent, nothing to stop")
	var neg *NegotiationError
	require.NotEmpty(t, h.obs.errs)
	assert.ErrorAs(t, h.obs.errs[len(h.obs.errs)-1], &neg)
}

func TestRejectedAnswerReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.s.handle(startCmd{})
	peer, emit := h.factory.last()
	peer.remoteErr = errors.New("bad sdp")
	h.emit(t, emit, PeerEvent{Kind: PeerLocalDescription, SDP: "offerX"})

	h.deliver(signaling.StartResponseMessage("garbage"))

	assert.Equal(t, Idle, h.s.Status().State)
	assert.Equal(t, 1, peer.closed)
	assert.Equal(t, []signaling.MessageID{signaling.IDStart, signaling.IDStop}, h.ch.ids())
	var neg *NegotiationError
	assert.ErrorAs(t, h.obs.errs[len(h.obs.errs)-1], &neg)
}

func TestOfferResentAfterReconnect(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.s.handle(startCmd{})
	_, emit := h.factory.last()

	h.ch.err = errors.New("socket closed")
	h.emit(t, emit, PeerEvent{Kind: PeerLocalDescription, SDP: "offerX"})
	require.Empty(t, h.ch.sent)
	require.NotEmpty(t, h.obs.errs)
	assert.Equal(t, Connecting, h.s.Status().State)

	h.ch.err = nil
	h.s.handle(disconnectedEvent{reason: errors.New("eof")})
	h.s.handle(connectedEvent{})
	require.Equal(t, []signaling.Message{signaling.StartMessage("offerX")}, h.ch.sent)

	h.s.handle(disconnectedEvent{reason: errors.New("eof")})
	h.s.handle(connectedEvent{})
	assert.Len(t, h.ch.sent, 1, "offer delivered once")

	h.deliver(signaling.StartResponseMessage("answerY"))
	assert.Equal(t, Active, h.s.Status().State)
}

func TestMediaFailureKeepsSessionOffline(t *testing.T) {
	h := newHarness(t)
	h.media.err = errors.New("no device")

	h.s.handle(connectedEvent{})
	h.next(t)
	h.s.handle(startCmd{})

	assert.False(t, h.s.Status().Online)
	assert.Equal(t, Idle, h.s.Status().State)
	assert.Empty(t, h.factory.peers)
	var merr *MediaAcquisitionError
	require.NotEmpty(t, h.obs.errs)
	assert.ErrorAs(t, h.obs.errs[0], &merr)
}

func TestFactoryFailureStaysIdle(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.factory.err = errors.New("no api")

	h.s.handle(startCmd{})

	assert.Equal(t, Idle, h.s.Status().State)
	var neg *NegotiationError
	assert.ErrorAs(t, h.obs.errs[len(h.obs.errs)-1], &neg)
}

func TestRemoteErrorIsSurfaced(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)

	h.deliver(signaling.ErrorMessage("Session already started"))

	var rerr *RemoteError
	require.ErrorAs(t, h.obs.errs[len(h.obs.errs)-1], &rerr)
	assert.Equal(t, "Session already started", rerr.Message)
	assert.Equal(t, Active, h.s.Status().State)
}

func TestAnswerOutsideNegotiationIsProtocolError(t *testing.T) {
	h := newHarness(t)
	h.online(t)

	h.deliver(signaling.StartResponseMessage("answerY"))

	assert.Equal(t, Idle, h.s.Status().State)
	var perr *signaling.ProtocolError
	assert.ErrorAs(t, h.obs.errs[len(h.obs.errs)-1], &perr)
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func TestDisconnectClearsOnline(t *testing.T) {
	h := newHarness(t)
	h.online(t)

	h.s.handle(disconnectedEvent{reason: errors.New("eof")})

	assert.False(t, h.s.Status().Online)
}

func TestStaleMediaResultIsDropped(t *testing.T) {
	h := newHarness(t)
	h.s.handle(connectedEvent{})
	h.s.handle(disconnectedEvent{reason: errors.New("eof")})

	h.next(t) // result of the first connection's acquisition

	assert.False(t, h.s.Status().Online)
}

func TestConnectingClearsWhenAudioArrives(t *testing.T) {
	h := newHarness(t)
	h.online(t)
	h.s.handle(startCmd{})
	_, emit := h.factory.last()

	h.emit(t, emit, PeerEvent{Kind: PeerRemoteStream, Stream: stream{}})

	st := h.s.Status()
	assert.Equal(t, Connecting, st.State)
	assert.False(t, st.Connecting)
	assert.True(t, st.AudioAvailable)
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

func TestRunTearsDownOnCancel(t *testing.T) {
	ch := &fakeChannel{}
	factory := &fakeFactory{}
	s := New(Config{Channel: ch, Media: &fakeMedia{}, NewPeer: factory.New})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.OnConnected()
	require.Eventually(t, func() bool { return s.Status().Online }, time.Second, 5*time.Millisecond)
	s.Start()
	require.Eventually(t, func() bool { return s.Status().State == Connecting }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.Len(t, factory.peers, 1)
	assert.Equal(t, 1, factory.peers[0].closed)
	assert.Equal(t, []signaling.MessageID{signaling.IDStop}, ch.ids())

	// Posting after Run returned must not block.
	s.Stop()
}
