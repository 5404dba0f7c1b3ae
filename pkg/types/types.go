package types

import (
	"time"
)

// Inbound control frame types.
const (
	ControlJoinRoom  = "JOIN_ROOM"
	ControlLeaveRoom = "LEAVE_ROOM"
)

// Outbound event types.
const (
	EventRoomJoined     = "ROOM_JOINED"
	EventRoomUsersCount = "ROOM_USERS_COUNT"
	EventNewMessage     = "NEW_MESSAGE"
	EventVoteUpdate     = "VOTE_UPDATE"
	EventFollowerUpdate = "FOLLOWER_UPDATE"
)

// DefaultAura is assigned to users who never picked one.
const DefaultAura = "mystique"

// User is a chat participant as persisted by the store.
type User struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	FollowerCount int       `json:"followerCount"`
	Bio           string    `json:"bio"`
	Aura          string    `json:"aura"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Room is a chat room. Rooms are seeded by migrations and only listed at runtime.
type Room struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Active      bool   `json:"active"`
}

// Message is a posted chat line with its vote tallies.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	UserID    int64     `json:"userId"`
	RoomID    int64     `json:"roomId"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	IsOneShot bool      `json:"isOneShot"`
	Viewed    bool      `json:"viewed"`
	CreatedAt time.Time `json:"createdAt"`
}

// Score is upvotes minus downvotes.
func (m *Message) Score() int {
	return m.Upvotes - m.Downvotes
}

// RenderedMessage is a Message enriched with its author's display fields.
// It is the NEW_MESSAGE payload and the REST representation of a message.
type RenderedMessage struct {
	Message
	Username string `json:"username"`
	Aura     string `json:"aura"`
}

// Render attaches author display fields to m. A nil author renders as "Unknown".
func Render(m *Message, author *User) *RenderedMessage {
	rm := &RenderedMessage{Message: *m, Username: "Unknown", Aura: "unknown"}
	if author != nil {
		rm.Username = author.Username
		rm.Aura = author.Aura
	}
	return rm
}
