package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Control is the closed set of frames a client may send.
type Control interface {
	ControlType() string
	isControl()
}

// JoinRoom associates the sending connection with RoomID, and with UserID when present.
type JoinRoom struct {
	RoomID int64
	UserID *int64
}

// LeaveRoom drops the sending connection's room association.
type LeaveRoom struct{}

func (JoinRoom) ControlType() string  { return ControlJoinRoom }
func (LeaveRoom) ControlType() string { return ControlLeaveRoom }

func (JoinRoom) isControl()  {}
func (LeaveRoom) isControl() {}

// ID is an integer identifier that also accepts a numeric JSON string ("7").
// Browser clients are not consistent about which one they send.
type ID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ErrInvalidID
	}
	*id = ID(n)
	return nil
}

type joinRoomPayload struct {
	RoomID *ID `json:"roomId"`
	UserID *ID `json:"userId"`
}

// DecodeControl parses one inbound frame. Errors wrap ErrMalformedFrame or
// ErrUnknownFrameType so the caller can tell the two apart.
func DecodeControl(data []byte) (Control, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case ControlJoinRoom:
		var p joinRoomPayload
		if len(env.Payload) == 0 {
			return nil, fmt.Errorf("%w: %s without payload", ErrMalformedFrame, ControlJoinRoom)
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if p.RoomID == nil || *p.RoomID <= 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, ErrInvalidRoomID)
		}
		join := JoinRoom{RoomID: int64(*p.RoomID)}
		if p.UserID != nil {
			if *p.UserID <= 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, ErrInvalidUserID)
			}
			uid := int64(*p.UserID)
			join.UserID = &uid
		}
		return join, nil
	case ControlLeaveRoom:
		return LeaveRoom{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, env.Type)
	}
}
