// Package transport is the pion-backed PeerLink: one PeerConnection carrying
// the local audio track out and the echoed track back.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/echoclient/internal/session"
	"github.com/1ureka/echoclient/internal/util"
)

var log = util.Scope("transport")

// Compile-time interface check.
var _ session.PeerLink = (*Transport)(nil)

// Transport wraps a single PeerConnection. Every pion callback is turned
// into a session.PeerEvent and handed to emit; Transport never decides
// anything about the call's lifecycle itself.
type Transport struct {
	pc   *webrtc.PeerConnection
	emit func(session.PeerEvent)

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Factory returns a session.PeerFactory sharing one pion API across calls.
func Factory(cfg Config) (session.PeerFactory, error) {
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up WebRTC API: %w", err)
	}
	return func(local webrtc.TrackLocal, emit func(session.PeerEvent)) (session.PeerLink, error) {
		return New(api, cfg.Servers(), local, emit)
	}, nil
}

// New creates a Transport sending local (when non-nil) and receiving audio.
func New(api *webrtc.API, iceServers []string, local webrtc.TrackLocal, emit func(session.PeerEvent)) (*Transport, error) {
	pc, err := NewPeerConnection(api, iceServers)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{pc: pc, emit: emit, ctx: ctx, cancel: cancel}

	if local != nil {
		rtpSender, err := pc.AddTrack(local)
		if err != nil {
			cancel()
			return nil, errors.Join(fmt.Errorf("failed to add local track: %w", err), pc.Close())
		}
		go DrainRTCP(rtpSender)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			cancel()
			return nil, errors.Join(fmt.Errorf("failed to add audio transceiver: %w", err), pc.Close())
		}
	}

	// Trickle ICE; a nil candidate marks the end of gathering.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		t.emit(session.PeerEvent{Kind: session.PeerICECandidate, Candidate: c.ToJSON()})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug("remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
		t.emit(session.PeerEvent{Kind: session.PeerRemoteStream, Stream: track})
		go t.drainTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.emit(session.PeerEvent{Kind: session.PeerConnectionState, State: state})
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// session.PeerLink
// ---------------------------------------------------------------------------

// Negotiate creates the offer and applies it locally in the background.
func (t *Transport) Negotiate() {
	go func() {
		offer, err := t.pc.CreateOffer(nil)
		if err != nil {
			t.emit(session.PeerEvent{Kind: session.PeerNegotiationFailed, Err: fmt.Errorf("CreateOffer: %w", err)})
			return
		}
		if err := t.pc.SetLocalDescription(offer); err != nil {
			t.emit(session.PeerEvent{Kind: session.PeerNegotiationFailed, Err: fmt.Errorf("SetLocalDescription: %w", err)})
			return
		}

		sdp := offer.SDP
		if desc := t.pc.LocalDescription(); desc != nil {
			sdp = desc.SDP
		}
		t.emit(session.PeerEvent{Kind: session.PeerLocalDescription, SDP: sdp})
	}()
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

// HasRemoteDescription reports whether a remote SDP has been applied.
func (t *Transport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

// AddICECandidate adds a remote candidate. pion ignores candidates it already
// knows, so replaying one is harmless.
func (t *Transport) AddICECandidate(c *webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(*c)
}

// Close shuts the PeerConnection down. Later calls return the first result.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

// ---------------------------------------------------------------------------
// Media plumbing
// ---------------------------------------------------------------------------

// drainTrack consumes the echoed RTP stream so that pion's buffers do not
// fill; playback is the presentation layer's concern.
func (t *Transport) drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			select {
			case <-t.ctx.Done():
			default:
				log.Debug("remote track %s ended: %v", track.ID(), err)
			}
			return
		}
		util.Stats.AddRecv(n)
	}
}

// DrainRTCP reads incoming RTCP so that interceptors (NACK, reports) run.
func DrainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
