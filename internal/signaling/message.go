// Package signaling implements the JSON control protocol spoken with the echo
// media server and the WebSocket channel that carries it.
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MessageID discriminates signaling messages on the wire.
type MessageID string

const (
	IDStart          MessageID = "start"          // client → server, carries sdpOffer
	IDStartResponse  MessageID = "startResponse"  // server → client, carries sdpAnswer
	IDOnIceCandidate MessageID = "onIceCandidate" // client → server, local candidate
	IDIceCandidate   MessageID = "iceCandidate"   // server → client, remote candidate
	IDStop           MessageID = "stop"           // client → server
	IDError          MessageID = "error"          // server → client, carries message
)

// Known reports whether id is part of the protocol.
func (id MessageID) Known() bool {
	switch id {
	case IDStart, IDStartResponse, IDOnIceCandidate, IDIceCandidate, IDStop, IDError:
		return true
	}
	return false
}

// Message is the JSON structure exchanged over the WebSocket. Only the fields
// belonging to ID are populated.
type Message struct {
	ID        MessageID                `json:"id"`
	SDPOffer  string                   `json:"sdpOffer,omitempty"`
	SDPAnswer string                   `json:"sdpAnswer,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Message   string                   `json:"message,omitempty"`
}

func StartMessage(sdpOffer string) Message {
	return Message{ID: IDStart, SDPOffer: sdpOffer}
}

func StartResponseMessage(sdpAnswer string) Message {
	return Message{ID: IDStartResponse, SDPAnswer: sdpAnswer}
}

func OnIceCandidateMessage(c webrtc.ICECandidateInit) Message {
	return Message{ID: IDOnIceCandidate, Candidate: &c}
}

func IceCandidateMessage(c webrtc.ICECandidateInit) Message {
	return Message{ID: IDIceCandidate, Candidate: &c}
}

func StopMessage() Message {
	return Message{ID: IDStop}
}

func ErrorMessage(text string) Message {
	return Message{ID: IDError, Message: text}
}

// Encode serializes a message into a JSON text frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %q message: %w", msg.ID, err)
	}
	return data, nil
}

// Decode parses a JSON text frame. Malformed JSON yields a *ProtocolError;
// the id is not checked here, see Validate.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, &ProtocolError{Raw: string(data), Err: err}
	}
	return msg, nil
}

// Validate checks that the id is known and that the payload it requires is
// present.
func Validate(msg Message) error {
	if !msg.ID.Known() {
		return &ProtocolError{ID: msg.ID, Err: ErrUnrecognized}
	}

	missing := ""
	switch msg.ID {
	case IDStart:
		if msg.SDPOffer == "" {
			missing = "sdpOffer"
		}
	case IDStartResponse:
		if msg.SDPAnswer == "" {
			missing = "sdpAnswer"
		}
	case IDIceCandidate, IDOnIceCandidate:
		if msg.Candidate == nil {
			missing = "candidate"
		}
	}
	if missing != "" {
		return &ProtocolError{ID: msg.ID, Err: fmt.Errorf("%w: %s", ErrMissingPayload, missing)}
	}
	return nil
}
