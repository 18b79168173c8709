// Package protocol defines the wire format of the relay: newline-terminated
// JSON frames carrying register, heartbeat, message and error records.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action tags the kind of a frame.
type Action string

const (
	ActionRegister  Action = "register"
	ActionMessage   Action = "message"
	ActionHeartbeat Action = "heartbeat"
	// ActionError flows server to client only, reporting a rejected frame.
	ActionError Action = "error"
)

// ServerID is the sender id the relay uses on frames it originates.
const ServerID = "relay"

// Frame is one self-delimited protocol unit. Frames are immutable once
// constructed.
type Frame struct {
	ID        string  `json:"id,omitempty"`
	Action    Action  `json:"action"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient,omitempty"`
	Timestamp float64 `json:"timestamp"`
	Payload   string  `json:"payload,omitempty"`
}

// ProtocolError marks input that cannot be accepted as a frame. The server
// closes the offending connection, no partial-frame recovery is attempted.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func epochNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func NewRegister(sender string) *Frame {
	return &Frame{
		ID:        uuid.NewString(),
		Action:    ActionRegister,
		Sender:    sender,
		Timestamp: epochNow(),
	}
}

func NewHeartbeat(sender string) *Frame {
	return &Frame{
		Action:    ActionHeartbeat,
		Sender:    sender,
		Timestamp: epochNow(),
	}
}

func NewMessage(sender, recipient, payload string) *Frame {
	return &Frame{
		ID:        uuid.NewString(),
		Action:    ActionMessage,
		Sender:    sender,
		Recipient: recipient,
		Timestamp: epochNow(),
		Payload:   payload,
	}
}

// NewError builds the relay's error response to a rejected frame. The id of
// the offending frame is carried over so the client can correlate.
func NewError(recipient, reason, refID string) *Frame {
	return &Frame{
		ID:        refID,
		Action:    ActionError,
		Sender:    ServerID,
		Recipient: recipient,
		Timestamp: epochNow(),
		Payload:   reason,
	}
}

// Validate checks the structural rules of a frame: known action, sender
// always present, recipient and payload present exactly on message frames.
func (f *Frame) Validate() error {
	switch f.Action {
	case ActionRegister, ActionHeartbeat:
		if f.Recipient != "" {
			return &ProtocolError{Reason: "recipient not allowed on " + string(f.Action) + " frame"}
		}
	case ActionMessage:
		if f.Recipient == "" {
			return &ProtocolError{Reason: "message frame without recipient"}
		}
		if f.Payload == "" {
			return &ProtocolError{Reason: "message frame without payload"}
		}
	case ActionError:
	default:
		return &ProtocolError{Reason: "unknown action " + string(f.Action)}
	}
	if f.Sender == "" {
		return &ProtocolError{Reason: "frame without sender"}
	}
	return nil
}

// Decode parses and validates one frame from a single line of input.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ProtocolError{Reason: "invalid JSON: " + err.Error()}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Encode serializes the frame followed by the line terminator.
func (f *Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
