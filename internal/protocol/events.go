package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	EventJoin        = "join"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
)

// Outbound event names.
const (
	EventPastMessages = "pastMessages"
	EventUserJoined   = "userJoined"
	EventMessage      = "message"
	EventUserLeft     = "userLeft"
	// typing and stopTyping are reused outbound with the same names.
)

// Envelope is the frame wrapper for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Join asks to bind this connection to a user identity and subscribe
// the connection to a room.
type Join struct {
	Name string `json:"name"`
	Room string `json:"room"`
}

// SendMessage posts a message to a room.
type SendMessage struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

// Typing signals the sender started (or keeps) typing in a room.
type Typing struct {
	Room string `json:"room"`
}

// StopTyping signals the sender stopped typing in a room.
type StopTyping struct {
	Room string `json:"room"`
}

// PastMessage is one entry of the history replay sent to a joining
// connection.
type PastMessage struct {
	User      string `json:"user"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// UserJoined notifies a room that a user joined.
type UserJoined struct {
	Name string `json:"name"`
	Room string `json:"room"`
}

// Message is a chat message fanned out to a room, including the sender.
type Message struct {
	User      string `json:"user"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// UserTyping notifies a room (excluding the sender) who is typing.
type UserTyping struct {
	Name string `json:"name"`
}

// UserLeft notifies a room that a user's connection went away.
type UserLeft struct {
	User string `json:"user"`
	Room string `json:"room"`
}

// Encode marshals an outbound event into a ready-to-send frame.
func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", event, err)
		}
		env.Data = raw
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

// Decode parses an inbound frame into an Envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope missing event")
	}
	return env, nil
}
