package types

import "errors"

var (
	ErrMalformedFrame   = errors.New("malformed control frame")
	ErrUnknownFrameType = errors.New("unknown control frame type")
	ErrInvalidID        = errors.New("id must be an integer")
	ErrInvalidRoomID    = errors.New("room id must be positive")
	ErrInvalidUserID    = errors.New("user id must be positive")
	ErrUnknownEventType = errors.New("unknown event type")

	ErrInvalidUsername = errors.New("username must be 3-20 characters: letters, numbers and underscores only")
	ErrInvalidAura     = errors.New("aura must be 1-30 characters: letters, numbers, underscores and hyphens only")
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrContentTooLarge = errors.New("message content exceeds 2000 characters")
	ErrBioTooLarge     = errors.New("bio exceeds 500 characters")
)
