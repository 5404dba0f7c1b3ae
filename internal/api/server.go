// Package api serves the REST surface: rooms, users, messages, votes and
// leaderboards. Writes that change room-visible state are published to the
// realtime layer after they commit.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"roomcast/pkg/interfaces"
)

// UserIDHeader carries the authenticated user id set by the upstream
// authenticator.
const UserIDHeader = "X-User-ID"

// Server is the REST API handler.
type Server struct {
	store     interfaces.ChatStore
	publisher interfaces.Publisher
	presence  interfaces.Presence
	logger    *slog.Logger
	mux       *http.ServeMux
	handler   http.Handler
	now       func() time.Time
}

func NewServer(store interfaces.ChatStore, publisher interfaces.Publisher, presence interfaces.Presence, logger *slog.Logger) *Server {
	s := &Server{
		store:     store,
		publisher: publisher,
		presence:  presence,
		logger:    logger,
		mux:       http.NewServeMux(),
		now:       time.Now,
	}

	s.setupRoutes()
	s.handler = s.corsMiddleware(s.requestLogger(s.jsonMiddleware(s.mux)))
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/rooms", s.listRooms)
	s.mux.HandleFunc("GET /api/rooms/{id}", s.getRoom)
	s.mux.HandleFunc("GET /api/rooms-by-name/{name}", s.getRoomByName)
	s.mux.HandleFunc("GET /api/rooms/{id}/messages", s.listRoomMessages)
	s.mux.HandleFunc("GET /api/rooms/{id}/presence", s.roomPresence)

	s.mux.HandleFunc("POST /api/users", s.createUser)
	s.mux.HandleFunc("GET /api/users/{id}", s.getUser)
	s.mux.HandleFunc("PATCH /api/user", s.updateUser)

	s.mux.HandleFunc("POST /api/messages", s.createMessage)
	s.mux.HandleFunc("POST /api/messages/{id}/vote", s.voteMessage)
	s.mux.HandleFunc("POST /api/messages/{id}/viewed", s.markViewed)

	s.mux.HandleFunc("GET /api/leaderboard", s.leaderboard)
	s.mux.HandleFunc("GET /api/burn-of-the-day", s.burnOfTheDay)

	s.mux.HandleFunc("GET /health", s.healthCheck)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   s.now(),
		Database:    dbStatus,
		Connections: s.presence.Stats(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// sendStoreError maps store sentinels to status codes.
func (s *Server) sendStoreError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		s.sendError(w, notFound, http.StatusNotFound)
	case errors.Is(err, interfaces.ErrConflict):
		s.sendError(w, "Already exists", http.StatusConflict)
	case errors.Is(err, interfaces.ErrNothingToUpdate):
		s.sendError(w, "No fields to update", http.StatusBadRequest)
	case errors.Is(err, interfaces.ErrSelfVote):
		s.sendError(w, "You cannot vote on your own messages", http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.sendError(w, "Request cancelled", http.StatusServiceUnavailable)
	default:
		s.logger.Error("store operation failed", "path", r.URL.Path, "error", err)
		s.sendError(w, "Internal error", http.StatusInternalServerError)
	}
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryLimit reads ?limit, falling back to def and clamping to upper.
func queryLimit(r *http.Request, def, upper int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, upper), true
}

// callerID returns the authenticated user id from UserIDHeader.
func callerID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(UserIDHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserIDHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags each request with an id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Debug("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
