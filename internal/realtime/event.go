package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopherchat/internal/model"
)

type EventType string

// Client -> server.
const (
	TypeAuth   EventType = "auth"
	TypeTyping EventType = "typing"
	TypePing   EventType = "ping"
)

// Server -> client.
const (
	TypeMessageCreated  EventType = "message_created"
	TypeMessageUpdated  EventType = "message_updated"
	TypePresenceChanged EventType = "presence_changed"
	TypeTypingChanged   EventType = "typing_changed"
	TypeAuthResult      EventType = "auth_result"
	TypeError           EventType = "error"
	TypePong            EventType = "pong"
)

const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// Event is a server-to-client event. Only the types in this file implement it.
type Event interface {
	Type() EventType
	validate() error
}

type MessageCreated struct {
	Message *model.Message `json:"message"`
}

type MessageUpdated struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	IsComplete bool   `json:"isComplete"`
}

type PresenceChanged struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type TypingChanged struct {
	UserID   string      `json:"userId"`
	IsTyping bool        `json:"isTyping"`
	User     *model.User `json:"user,omitempty"`
}

type AuthResult struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Pong struct{}

func (MessageCreated) Type() EventType  { return TypeMessageCreated }
func (MessageUpdated) Type() EventType  { return TypeMessageUpdated }
func (PresenceChanged) Type() EventType { return TypePresenceChanged }
func (TypingChanged) Type() EventType   { return TypeTypingChanged }
func (AuthResult) Type() EventType      { return TypeAuthResult }
func (ErrorEvent) Type() EventType      { return TypeError }
func (Pong) Type() EventType            { return TypePong }

func (e MessageCreated) validate() error {
	if e.Message == nil || e.Message.ID == "" {
		return fmt.Errorf("%w: message_created without message id", ErrMalformedEvent)
	}
	return nil
}

func (e MessageUpdated) validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: message_updated without id", ErrMalformedEvent)
	}
	return nil
}

func (e PresenceChanged) validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: presence_changed without userId", ErrMalformedEvent)
	}
	return nil
}

func (e TypingChanged) validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: typing_changed without userId", ErrMalformedEvent)
	}
	return nil
}

func (AuthResult) validate() error { return nil }

func (e ErrorEvent) validate() error {
	if e.Code == "" {
		return fmt.Errorf("%w: error without code", ErrMalformedEvent)
	}
	return nil
}

func (Pong) validate() error { return nil }

type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode validates e and renders it as a {type, data} envelope.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s failed: %w", e.Type(), err)
	}
	return json.Marshal(envelope{Type: e.Type(), Data: data})
}

// Decode parses a server-to-client envelope.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var e Event
	var err error
	switch env.Type {
	case TypeMessageCreated:
		e, err = decodeData[MessageCreated](env.Data)
	case TypeMessageUpdated:
		e, err = decodeData[MessageUpdated](env.Data)
	case TypePresenceChanged:
		e, err = decodeData[PresenceChanged](env.Data)
	case TypeTypingChanged:
		e, err = decodeData[TypingChanged](env.Data)
	case TypeAuthResult:
		e, err = decodeData[AuthResult](env.Data)
	case TypeError:
		e, err = decodeData[ErrorEvent](env.Data)
	case TypePong:
		e = Pong{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func decodeData[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return v, nil
}

// ClientEvent is an event received from a connection.
type ClientEvent interface {
	Type() EventType
	clientEvent()
}

type Auth struct {
	UserID string `json:"userId"`
}

type Typing struct {
	IsTyping bool `json:"isTyping"`
}

type Ping struct{}

func (Auth) Type() EventType   { return TypeAuth }
func (Typing) Type() EventType { return TypeTyping }
func (Ping) Type() EventType   { return TypePing }

func (Auth) clientEvent()   {}
func (Typing) clientEvent() {}
func (Ping) clientEvent()   {}

// DecodeClientEvent parses and validates a client envelope.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case TypeAuth:
		var data struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(orEmpty(env.Data), &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		userID := strings.TrimSpace(data.UserID)
		if userID == "" {
			return nil, fmt.Errorf("%w: auth requires userId", ErrMalformedEvent)
		}
		return Auth{UserID: userID}, nil
	case TypeTyping:
		var data struct {
			IsTyping *bool `json:"isTyping"`
		}
		if err := json.Unmarshal(orEmpty(env.Data), &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if data.IsTyping == nil {
			return nil, fmt.Errorf("%w: typing requires isTyping", ErrMalformedEvent)
		}
		return Typing{IsTyping: *data.IsTyping}, nil
	case TypePing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func orEmpty(data json.RawMessage) json.RawMessage {
	if len(data) == 0 || string(data) == "null" {
		return json.RawMessage("{}")
	}
	return data
}
