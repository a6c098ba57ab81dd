package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/echoclient/internal/signaling"
)

// event is anything queued on the session inbox.
type event interface{}

type (
	startCmd struct{}
	stopCmd  struct{}

	connectedEvent    struct{}
	disconnectedEvent struct{ reason error }
	parseErrorEvent   struct{ err error }
	messageEvent      struct{ msg signaling.Message }

	mediaEvent struct {
		epoch int
		track webrtc.TrackLocal
		err   error
	}

	peerEvent struct {
		gen uint64
		PeerEvent
	}
)
