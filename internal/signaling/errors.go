package signaling

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when no socket is live.
	ErrNotConnected = errors.New("signaling channel not connected")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("signaling channel closed")

	// ErrUnrecognized marks a message whose id is not part of the protocol.
	ErrUnrecognized = errors.New("unrecognized message")

	// ErrMissingPayload marks a known message lacking its required field.
	ErrMissingPayload = errors.New("missing payload")

	errBinaryFrame = errors.New("binary frames are not part of the protocol")
)

// ChannelError is a connect, read or write failure on the control channel.
// It is recovered by the reconnect loop and never fatal.
type ChannelError struct {
	Op  string // "dial", "read" or "write"
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unrecognized inbound message.
type ProtocolError struct {
	ID  MessageID // empty when the frame could not be parsed
	Raw string    // offending frame, only set for parse failures
	Err error
}

func (e *ProtocolError) Error() string {
	if e.ID == "" && e.Raw != "" {
		return fmt.Sprintf("malformed signaling message: %v", e.Err)
	}
	return fmt.Sprintf("signaling message %q: %v", e.ID, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
