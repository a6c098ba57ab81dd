package session

import (
	"errors"
	"fmt"
)

// ErrNotReady is reported when Start is requested while offline.
var ErrNotReady = errors.New("session not ready: signaling offline or local media unavailable")

// NegotiationError is a failure to create or apply a session description.
// The session is forced back to Idle.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed (%s): %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// MediaAcquisitionError is a failure to acquire local media. The session
// stays Idle.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("local media unavailable: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// RemoteError is an error message sent by the media server.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "error message from server: " + e.Message
}
