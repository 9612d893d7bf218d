// Package ws implements the realtime side of Waypoint: the per-node
// connection registry, the session broadcast pipeline and the cross-node
// pub/sub bridge.
package ws

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types carried in the envelope discriminator.
const (
	// Client → server.
	TypeLocationUpdate = "location_update"
	TypePing           = "ping"

	// Server → client.
	TypeLocationBroadcast = "location_broadcast"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeSessionEnded      = "session_ended"
	TypePong              = "pong"
	TypeError             = "error"
)

// Stream error codes sent in error frames.
const (
	CodeInvalidMessageFormat = "INVALID_MESSAGE_FORMAT"
	CodeInvalidMessageType   = "INVALID_MESSAGE_TYPE"
	CodeInvalidLocationData  = "INVALID_LOCATION_DATA"
	CodeLocationStoreFailed  = "LOCATION_STORE_FAILED"
)

// Session end reasons.
const (
	ReasonExpired        = "expired"
	ReasonEndedByCreator = "ended_by_creator"
)

// Validity window for client-stamped location timestamps.
const (
	MaxLocationAge    = time.Hour
	MaxLocationFuture = 5 * time.Minute
)

// Envelope is the JSON frame exchanged on a stream: a type discriminator
// and a type-specific payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// LocationUpdateData is the client → server location payload.
type LocationUpdateData struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks coordinate ranges and the timestamp validity window
// [now − 1h, now + 5min].
func (d *LocationUpdateData) Validate(now time.Time) error {
	if d.Lat < -90 || d.Lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90 degrees")
	}
	if d.Lng < -180 || d.Lng > 180 {
		return fmt.Errorf("longitude must be between -180 and 180 degrees")
	}
	if d.Accuracy < 0 {
		return fmt.Errorf("accuracy must be non-negative")
	}
	if d.Timestamp.After(now.Add(MaxLocationFuture)) {
		return fmt.Errorf("timestamp cannot be in the future")
	}
	if d.Timestamp.Before(now.Add(-MaxLocationAge)) {
		return fmt.Errorf("timestamp is too old")
	}
	return nil
}

// LocationBroadcastData is the fanned-out location payload.
type LocationBroadcastData struct {
	UserID    string    `json:"user_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// ParticipantJoinedData announces a new live participant.
type ParticipantJoinedData struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color"`
}

// ParticipantLeftData announces a departed participant.
type ParticipantLeftData struct {
	UserID string `json:"user_id"`
}

// SessionEndedData carries the terminal reason for a session.
type SessionEndedData struct {
	Reason string `json:"reason"`
}

// ErrorData is sent to a single stream when its input is rejected.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeEnvelope parses a raw frame into an envelope.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, fmt.Errorf("missing type discriminator")
	}
	return &env, nil
}

func encodeEnvelope(frameType string, data any) []byte {
	env := Envelope{Type: frameType}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			// All payload types are plain structs; this cannot fail at runtime.
			panic(fmt.Sprintf("ws: failed to marshal %s payload: %v", frameType, err))
		}
		env.Data = payload
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		panic(fmt.Sprintf("ws: failed to marshal %s envelope: %v", frameType, err))
	}
	return encoded
}

// EncodeLocationBroadcast builds a location_broadcast frame.
func EncodeLocationBroadcast(data *LocationBroadcastData) []byte {
	return encodeEnvelope(TypeLocationBroadcast, data)
}

// EncodeParticipantJoined builds a participant_joined frame.
func EncodeParticipantJoined(data *ParticipantJoinedData) []byte {
	return encodeEnvelope(TypeParticipantJoined, data)
}

// EncodeParticipantLeft builds a participant_left frame.
func EncodeParticipantLeft(userID string) []byte {
	return encodeEnvelope(TypeParticipantLeft, &ParticipantLeftData{UserID: userID})
}

// EncodeSessionEnded builds a session_ended frame.
func EncodeSessionEnded(reason string) []byte {
	return encodeEnvelope(TypeSessionEnded, &SessionEndedData{Reason: reason})
}

// EncodePong builds a pong frame.
func EncodePong() []byte {
	return encodeEnvelope(TypePong, nil)
}

// EncodeError builds an error frame.
func EncodeError(code, message string) []byte {
	return encodeEnvelope(TypeError, &ErrorData{Code: code, Message: message})
}
