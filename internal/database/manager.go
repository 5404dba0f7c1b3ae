// Package database implements the sqlite chat store. Reads run on the
// connection pool; writes are serialized through one writer goroutine.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "roomcast/pkg/database"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// ErrManagerClosed is returned by writes issued after Close.
var ErrManagerClosed = errors.New("database manager is closed")

// Manager implements interfaces.ChatStore.
type Manager struct {
	db           *sql.DB
	logger       *slog.Logger
	writeTimeout time.Duration
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.ChatStore = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database described by config. writeTimeout bounds
// how long a write waits for the writer goroutine.
func NewManager(config *dbconfig.Config, writeTimeout time.Duration, logger *slog.Logger) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		logger:       logger,
		writeTimeout: writeTimeout,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies the embedded schema and validates it.
func (m *Manager) Migrate() error {
	migrations := dbconfig.NewMigrationManager(m.db, dbconfig.Migrations)
	if err := migrations.ApplyMigrations(); err != nil {
		return err
	}
	if err := migrations.ValidateSchema(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite hands operation to the writer goroutine and waits for it.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return fmt.Errorf("write operation timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	return <-result
}

// CreateUser inserts a user. An empty aura gets the default.
func (m *Manager) CreateUser(ctx context.Context, username, aura string) (*types.User, error) {
	if aura == "" {
		aura = types.DefaultAura
	}

	var id int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO users (username, aura) VALUES (?, ?)`,
			username, aura,
		)
		if err != nil {
			return mapError(err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", username, err)
	}
	return m.GetUser(ctx, id)
}

const userColumns = `id, username, follower_count, bio, aura, created_at`

func scanUser(row interface{ Scan(...any) error }) (*types.User, error) {
	var u types.User
	if err := row.Scan(&u.ID, &u.Username, &u.FollowerCount, &u.Bio, &u.Aura, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser returns a user by id.
func (m *Manager) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// TopUsers returns users by follower count, highest first.
func (m *Manager) TopUsers(ctx context.Context, limit int) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY follower_count DESC, id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query top users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListRooms returns active rooms in creation order.
func (m *Manager) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, name, description, color, active FROM chat_rooms WHERE active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	for rows.Next() {
		var r types.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Color, &r.Active); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, &r)
	}
	return rooms, rows.Err()
}

// GetRoom returns a room by id.
func (m *Manager) GetRoom(ctx context.Context, roomID int64) (*types.Room, error) {
	var r types.Room
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, description, color, active FROM chat_rooms WHERE id = ?`,
		roomID,
	).Scan(&r.ID, &r.Name, &r.Description, &r.Color, &r.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return &r, nil
}

// GetRoomByName returns a room by its unique name.
func (m *Manager) GetRoomByName(ctx context.Context, name string) (*types.Room, error) {
	var r types.Room
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, description, color, active FROM chat_rooms WHERE name = ?`,
		name,
	).Scan(&r.ID, &r.Name, &r.Description, &r.Color, &r.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return &r, nil
}

// CreateMessage stores a message. Unknown users or rooms report ErrNotFound.
func (m *Manager) CreateMessage(ctx context.Context, userID, roomID int64, content string, isOneShot bool) (*types.Message, error) {
	var id int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO messages (content, user_id, room_id, is_one_shot) VALUES (?, ?, ?, ?)`,
			content, userID, roomID, isOneShot,
		)
		if err != nil {
			return mapError(err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return m.GetMessage(ctx, id)
}

const messageColumns = `m.id, m.content, m.user_id, m.room_id, m.upvotes, m.downvotes, m.is_one_shot, m.viewed, m.created_at`

func scanMessage(row interface{ Scan(...any) error }) (*types.Message, error) {
	var msg types.Message
	err := row.Scan(&msg.ID, &msg.Content, &msg.UserID, &msg.RoomID,
		&msg.Upvotes, &msg.Downvotes, &msg.IsOneShot, &msg.Viewed, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func scanRendered(row interface{ Scan(...any) error }) (*types.RenderedMessage, error) {
	var (
		msg      types.Message
		username sql.NullString
		aura     sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.Content, &msg.UserID, &msg.RoomID,
		&msg.Upvotes, &msg.Downvotes, &msg.IsOneShot, &msg.Viewed, &msg.CreatedAt,
		&username, &aura)
	if err != nil {
		return nil, err
	}

	var author *types.User
	if username.Valid {
		author = &types.User{ID: msg.UserID, Username: username.String, Aura: aura.String}
	}
	return types.Render(&msg, author), nil
}

// GetMessage returns a message by id.
func (m *Manager) GetMessage(ctx context.Context, messageID int64) (*types.Message, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return msg, nil
}

// ListRoomMessages returns up to limit messages of roomID, newest first,
// with author display fields attached.
func (m *Manager) ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]*types.RenderedMessage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+messageColumns+`, u.username, u.aura
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query room messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.RenderedMessage
	for rows.Next() {
		rm, err := scanRendered(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, rm)
	}
	return messages, rows.Err()
}

// VoteMessage records a voter's vote on a message in a single transaction.
// A first vote bumps one tally. Repeating the same vote changes nothing.
// Voting the other way moves the vote between tallies. Any change moves the
// author's follower count by +1 or -1, floored at zero.
func (m *Manager) VoteMessage(ctx context.Context, messageID, voterID int64, isUpvote bool) (*interfaces.VoteResult, error) {
	delta := 1
	tally, other := "upvotes", "downvotes"
	if !isUpvote {
		delta = -1
		tally, other = other, tally
	}

	var (
		authorID int64
		changed  bool
	)
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		err = tx.QueryRowContext(ctx, `SELECT user_id FROM messages WHERE id = ?`, messageID).Scan(&authorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return interfaces.ErrNotFound
			}
			return err
		}
		if authorID == voterID {
			return interfaces.ErrSelfVote
		}

		var previous bool
		err = tx.QueryRowContext(ctx,
			`SELECT is_upvote FROM votes WHERE message_id = ? AND user_id = ?`,
			messageID, voterID,
		).Scan(&previous)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO votes (message_id, user_id, is_upvote) VALUES (?, ?, ?)`,
				messageID, voterID, isUpvote,
			); err != nil {
				return mapError(err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE messages SET `+tally+` = `+tally+` + 1 WHERE id = ?`,
				messageID,
			); err != nil {
				return err
			}
		case err != nil:
			return err
		case previous == isUpvote:
			return nil
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE votes SET is_upvote = ? WHERE message_id = ? AND user_id = ?`,
				isUpvote, messageID, voterID,
			); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE messages SET `+tally+` = `+tally+` + 1, `+other+` = MAX(0, `+other+` - 1) WHERE id = ?`,
				messageID,
			); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET follower_count = MAX(0, follower_count + ?) WHERE id = ?`,
			delta, authorID,
		); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to vote on message %d: %w", messageID, err)
	}

	msg, err := m.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	author, err := m.GetUser(ctx, authorID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}
	if !changed {
		delta = 0
	}
	return &interfaces.VoteResult{Message: msg, Author: author, Delta: delta, Changed: changed}, nil
}

// UpdateUser sets the profile fields that are non-nil.
func (m *Manager) UpdateUser(ctx context.Context, userID int64, bio, aura *string) (*types.User, error) {
	var (
		sets []string
		args []any
	)
	if bio != nil {
		sets = append(sets, "bio = ?")
		args = append(args, *bio)
	}
	if aura != nil {
		sets = append(sets, "aura = ?")
		args = append(args, *aura)
	}
	if len(sets) == 0 {
		return nil, interfaces.ErrNothingToUpdate
	}
	args = append(args, userID)

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
			args...,
		)
		if err != nil {
			return mapError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update user %d: %w", userID, err)
	}
	return m.GetUser(ctx, userID)
}

// MarkOneShotViewed flags a one-shot message as seen.
func (m *Manager) MarkOneShotViewed(ctx context.Context, messageID int64) (*types.Message, error) {
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE messages SET viewed = 1 WHERE id = ? AND is_one_shot = 1`,
			messageID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark message %d viewed: %w", messageID, err)
	}
	return m.GetMessage(ctx, messageID)
}

// BurnOfTheDay returns the best-scoring message of the last 24 hours.
// Messages that never scored above zero do not qualify.
func (m *Manager) BurnOfTheDay(ctx context.Context) (*types.RenderedMessage, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`, u.username, u.aura
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.created_at >= datetime('now', '-1 day')
		  AND m.upvotes - m.downvotes > 0
		ORDER BY m.upvotes - m.downvotes DESC, m.created_at DESC, m.id DESC
		LIMIT 1
	`)
	rm, err := scanRendered(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query burn of the day: %w", err)
	}
	return rm, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_rooms").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying pool.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Later calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// mapError turns sqlite constraint failures into store sentinels.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", interfaces.ErrConflict, err)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %v", interfaces.ErrNotFound, err)
	}
	return err
}
