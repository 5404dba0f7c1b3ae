package types

import (
	"encoding/json"
	"fmt"
)

// Event is the closed set of frames the server pushes to clients.
// The unexported marker keeps the set limited to the variants below.
type Event interface {
	EventType() string
	isEvent()
}

// RoomJoined acknowledges a JOIN_ROOM to the joining connection only.
type RoomJoined struct {
	RoomID int64 `json:"roomId"`
}

// RoomUsersCount announces a room's current occupancy.
type RoomUsersCount struct {
	Count int `json:"count"`
}

// NewMessage carries a freshly posted message to its room.
type NewMessage struct {
	Message *RenderedMessage
}

// VoteUpdate carries a message's updated tallies to its room.
type VoteUpdate struct {
	MessageID int64 `json:"messageId"`
	Upvotes   int   `json:"upvotes"`
	Downvotes int   `json:"downvotes"`
}

// FollowerUpdate tells a user their follower count moved by Delta.
type FollowerUpdate struct {
	FollowerCount int `json:"followerCount"`
	Delta         int `json:"delta"`
}

func (RoomJoined) EventType() string     { return EventRoomJoined }
func (RoomUsersCount) EventType() string { return EventRoomUsersCount }
func (NewMessage) EventType() string     { return EventNewMessage }
func (VoteUpdate) EventType() string     { return EventVoteUpdate }
func (FollowerUpdate) EventType() string { return EventFollowerUpdate }

func (RoomJoined) isEvent()     {}
func (RoomUsersCount) isEvent() {}
func (NewMessage) isEvent()     {}
func (VoteUpdate) isEvent()     {}
func (FollowerUpdate) isEvent() {}

// Envelope is the wire framing shared by inbound and outbound frames.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// EncodeEvent serializes e into its {type, payload} envelope.
func EncodeEvent(e Event) ([]byte, error) {
	var payload any
	switch ev := e.(type) {
	case RoomJoined:
		payload = ev
	case RoomUsersCount:
		payload = ev
	case NewMessage:
		if ev.Message == nil {
			return nil, fmt.Errorf("encode %s: nil message", EventNewMessage)
		}
		payload = ev.Message
	case VoteUpdate:
		payload = ev
	case FollowerUpdate:
		payload = ev
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, e)
	}

	data, err := json.Marshal(outboundEnvelope{Type: e.EventType(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return data, nil
}

// DecodeEvent parses an outbound frame back into its variant.
// Clients and tests use it; the server only encodes.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EventRoomJoined:
		var p RoomJoined
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventRoomUsersCount:
		var p RoomUsersCount
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventNewMessage:
		var p RenderedMessage
		err = json.Unmarshal(env.Payload, &p)
		ev = NewMessage{Message: &p}
	case EventVoteUpdate:
		var p VoteUpdate
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventFollowerUpdate:
		var p FollowerUpdate
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}
