package session

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/echoclient/internal/signaling"
)

// Channel is the part of the signaling channel the session drives.
type Channel interface {
	Send(msg signaling.Message) error
}

// PeerLink is the media transport of one session. Methods are called only
// from the session goroutine; events flow back through the emit function
// given to the PeerFactory.
type PeerLink interface {
	// Negotiate starts offer creation. Completion is reported later as a
	// PeerLocalDescription or PeerNegotiationFailed event.
	Negotiate()
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	// AddICECandidate must tolerate a candidate it has already seen.
	AddICECandidate(c *webrtc.ICECandidateInit) error
	Close() error
}

// PeerFactory creates a PeerLink bound to the local audio track.
type PeerFactory func(local webrtc.TrackLocal, emit func(PeerEvent)) (PeerLink, error)

// RemoteStream is the inbound audio endpoint; *webrtc.TrackRemote satisfies it.
type RemoteStream interface {
	ID() string
	StreamID() string
}

// PeerEventKind enumerates the notifications a PeerLink emits.
type PeerEventKind int

const (
	PeerLocalDescription PeerEventKind = iota
	PeerNegotiationFailed
	PeerICECandidate
	PeerRemoteStream
	PeerConnectionState
)

func (k PeerEventKind) String() string {
	switch k {
	case PeerLocalDescription:
		return "local-description"
	case PeerNegotiationFailed:
		return "negotiation-failed"
	case PeerICECandidate:
		return "ice-candidate"
	case PeerRemoteStream:
		return "remote-stream"
	case PeerConnectionState:
		return "connection-state"
	}
	return "unknown"
}

// PeerEvent is one notification from a PeerLink. Only the field matching
// Kind is set.
type PeerEvent struct {
	Kind      PeerEventKind
	SDP       string
	Candidate webrtc.ICECandidateInit
	Stream    RemoteStream
	State     webrtc.PeerConnectionState
	Err       error
}

// Constraints select which local media to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// AudioOnly is the only constraint set the session requests.
var AudioOnly = Constraints{Audio: true}

// MediaSource acquires the local capture stream.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (webrtc.TrackLocal, error)
}

// Observer is the presentation layer. Calls come from the session goroutine
// and must not block.
type Observer interface {
	StatusChanged(st Status)
	Notify(err error)
}
