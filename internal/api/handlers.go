package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

const (
	defaultMessageLimit     = 50
	maxMessageLimit         = 200
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

type CreateUserRequest struct {
	Username string `json:"username"`
	Aura     string `json:"aura"`
}

type CreateMessageRequest struct {
	Content   string   `json:"content"`
	RoomID    types.ID `json:"roomId"`
	IsOneShot bool     `json:"isOneShot"`
}

// UpdateUserRequest carries the profile fields to change. Absent fields
// are left alone.
type UpdateUserRequest struct {
	Bio  *string `json:"bio"`
	Aura *string `json:"aura"`
}

type VoteRequest struct {
	IsUpvote *bool `json:"isUpvote"`
}

type VoteResponse struct {
	MessageID int64 `json:"messageId"`
	Upvotes   int   `json:"upvotes"`
	Downvotes int   `json:"downvotes"`
}

type PresenceResponse struct {
	RoomID int64 `json:"roomId"`
	Count  int   `json:"count"`
}

// GET /api/rooms
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		s.sendStoreError(w, r, err, "Rooms not found")
		return
	}
	if rooms == nil {
		rooms = []*types.Room{}
	}
	s.sendJSON(w, http.StatusOK, rooms)
}

// GET /api/rooms/{id}
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathID(r, "id")
	if !ok {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		s.sendStoreError(w, r, err, "Room not found")
		return
	}
	s.sendJSON(w, http.StatusOK, room)
}

// GET /api/rooms-by-name/{name}
func (s *Server) getRoomByName(w http.ResponseWriter, r *http.Request) {
	room, err := s.store.GetRoomByName(r.Context(), r.PathValue("name"))
	if err != nil {
		s.sendStoreError(w, r, err, "Room not found")
		return
	}
	s.sendJSON(w, http.StatusOK, room)
}

// GET /api/rooms/{id}/messages?limit=N
func (s *Server) listRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathID(r, "id")
	if !ok {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	limit, ok := queryLimit(r, defaultMessageLimit, maxMessageLimit)
	if !ok {
		s.sendError(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	messages, err := s.store.ListRoomMessages(r.Context(), roomID, limit)
	if err != nil {
		s.sendStoreError(w, r, err, "Room not found")
		return
	}
	if messages == nil {
		messages = []*types.RenderedMessage{}
	}
	s.sendJSON(w, http.StatusOK, messages)
}

// GET /api/rooms/{id}/presence
func (s *Server) roomPresence(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathID(r, "id")
	if !ok {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	s.sendJSON(w, http.StatusOK, PresenceResponse{RoomID: roomID, Count: s.presence.RoomSize(roomID)})
}

// POST /api/users
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := types.ValidateUsername(req.Username); err != nil {
		s.sendError(w, "Username must be 3-20 letters, numbers or underscores", http.StatusBadRequest)
		return
	}
	if err := types.ValidateAura(req.Aura); err != nil {
		s.sendError(w, "Invalid aura", http.StatusBadRequest)
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Username, req.Aura)
	if err != nil {
		if errors.Is(err, interfaces.ErrConflict) {
			s.sendError(w, "Username already taken", http.StatusConflict)
			return
		}
		s.sendStoreError(w, r, err, "User not found")
		return
	}
	s.sendJSON(w, http.StatusCreated, user)
}

// GET /api/users/{id}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		s.sendError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.sendStoreError(w, r, err, "User not found")
		return
	}
	s.sendJSON(w, http.StatusOK, user)
}

// PATCH /api/user
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		s.sendError(w, "You must be logged in", http.StatusUnauthorized)
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Bio == nil && req.Aura == nil {
		s.sendError(w, "No fields to update", http.StatusBadRequest)
		return
	}
	if req.Aura != nil {
		if *req.Aura == "" || types.ValidateAura(*req.Aura) != nil {
			s.sendError(w, "Invalid aura", http.StatusBadRequest)
			return
		}
	}
	if req.Bio != nil {
		if err := types.ValidateBio(*req.Bio); err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	user, err := s.store.UpdateUser(r.Context(), userID, req.Bio, req.Aura)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.sendError(w, "You must be logged in", http.StatusUnauthorized)
			return
		}
		s.sendStoreError(w, r, err, "User not found")
		return
	}
	s.sendJSON(w, http.StatusOK, user)
}

// POST /api/messages
func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		s.sendError(w, "You must be logged in", http.StatusUnauthorized)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.RoomID <= 0 {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := types.ValidateContent(req.Content); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	author, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.sendError(w, "You must be logged in", http.StatusUnauthorized)
			return
		}
		s.sendStoreError(w, r, err, "User not found")
		return
	}

	msg, err := s.store.CreateMessage(ctx, userID, int64(req.RoomID), req.Content, req.IsOneShot)
	if err != nil {
		s.sendStoreError(w, r, err, "Room not found")
		return
	}

	rendered := types.Render(msg, author)
	s.publisher.PublishNewMessage(msg.RoomID, rendered)
	s.sendJSON(w, http.StatusCreated, rendered)
}

// POST /api/messages/{id}/vote
func (s *Server) voteMessage(w http.ResponseWriter, r *http.Request) {
	voterID, ok := callerID(r)
	if !ok {
		s.sendError(w, "You must be logged in", http.StatusUnauthorized)
		return
	}
	messageID, ok := pathID(r, "id")
	if !ok {
		s.sendError(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsUpvote == nil {
		s.sendError(w, "isUpvote is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetUser(ctx, voterID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.sendError(w, "You must be logged in", http.StatusUnauthorized)
			return
		}
		s.sendStoreError(w, r, err, "User not found")
		return
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		s.sendStoreError(w, r, err, "Message not found")
		return
	}
	if msg.UserID == voterID {
		s.sendError(w, "You cannot vote on your own messages", http.StatusBadRequest)
		return
	}

	res, err := s.store.VoteMessage(ctx, messageID, voterID, *req.IsUpvote)
	if err != nil {
		s.sendStoreError(w, r, err, "Message not found")
		return
	}

	updated := res.Message
	if res.Changed {
		s.publisher.PublishVoteUpdate(updated.RoomID, updated.ID, updated.Upvotes, updated.Downvotes)
		if res.Author != nil {
			s.publisher.PublishFollowerUpdate(res.Author.ID, res.Author.FollowerCount, res.Delta)
		}
	}

	s.sendJSON(w, http.StatusOK, VoteResponse{
		MessageID: updated.ID,
		Upvotes:   updated.Upvotes,
		Downvotes: updated.Downvotes,
	})
}

// POST /api/messages/{id}/viewed
func (s *Server) markViewed(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(r); !ok {
		s.sendError(w, "You must be logged in", http.StatusUnauthorized)
		return
	}
	messageID, ok := pathID(r, "id")
	if !ok {
		s.sendError(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	msg, err := s.store.MarkOneShotViewed(r.Context(), messageID)
	if err != nil {
		s.sendStoreError(w, r, err, "One-shot message not found")
		return
	}
	s.sendJSON(w, http.StatusOK, msg)
}

// GET /api/leaderboard?limit=N
func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r, defaultLeaderboardLimit, maxLeaderboardLimit)
	if !ok {
		s.sendError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	users, err := s.store.TopUsers(r.Context(), limit)
	if err != nil {
		s.sendStoreError(w, r, err, "Users not found")
		return
	}
	if users == nil {
		users = []*types.User{}
	}
	s.sendJSON(w, http.StatusOK, users)
}

// GET /api/burn-of-the-day
func (s *Server) burnOfTheDay(w http.ResponseWriter, r *http.Request) {
	msg, err := s.store.BurnOfTheDay(r.Context())
	if err != nil {
		s.sendStoreError(w, r, err, "No burn of the day found")
		return
	}
	s.sendJSON(w, http.StatusOK, msg)
}
