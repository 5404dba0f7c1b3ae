package interfaces

import (
	"context"

	"roomcast/pkg/types"
)

// VoteResult is the outcome of a vote. Changed is false when the voter
// repeated their current vote; Delta is then zero.
type VoteResult struct {
	Message *types.Message
	Author  *types.User
	Delta   int
	Changed bool
}

// ChatStore persists users, rooms and messages.
type ChatStore interface {
	CreateUser(ctx context.Context, username, aura string) (*types.User, error)
	GetUser(ctx context.Context, userID int64) (*types.User, error)
	// UpdateUser sets the non-nil profile fields. With neither set it
	// returns ErrNothingToUpdate.
	UpdateUser(ctx context.Context, userID int64, bio, aura *string) (*types.User, error)
	TopUsers(ctx context.Context, limit int) ([]*types.User, error)

	ListRooms(ctx context.Context) ([]*types.Room, error)
	GetRoom(ctx context.Context, roomID int64) (*types.Room, error)
	GetRoomByName(ctx context.Context, name string) (*types.Room, error)

	CreateMessage(ctx context.Context, userID, roomID int64, content string, isOneShot bool) (*types.Message, error)
	GetMessage(ctx context.Context, messageID int64) (*types.Message, error)
	// ListRoomMessages returns the newest messages first.
	ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]*types.RenderedMessage, error)
	// VoteMessage records or flips the voter's vote and moves the author's
	// follower count by +1 or -1 (never below zero) in one transaction.
	// Repeating the current vote is a no-op.
	VoteMessage(ctx context.Context, messageID, voterID int64, isUpvote bool) (*VoteResult, error)
	// MarkOneShotViewed flags a one-shot message as seen; other messages
	// report ErrNotFound.
	MarkOneShotViewed(ctx context.Context, messageID int64) (*types.Message, error)
	BurnOfTheDay(ctx context.Context) (*types.RenderedMessage, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
