package interfaces

import "roomcast/pkg/types"

// Publisher is what persistence-side handlers call after a write commits.
// Every method is fire-and-forget: delivery failures are absorbed.
type Publisher interface {
	PublishNewMessage(roomID int64, message *types.RenderedMessage)
	PublishVoteUpdate(roomID, messageID int64, upvotes, downvotes int)
	PublishFollowerUpdate(userID int64, followerCount, delta int)
}

// Presence answers occupancy queries against the live registry.
type Presence interface {
	RoomSize(roomID int64) int
	Stats() map[string]int
}
