package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator checks a live database against the structure the chat
// store expects.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = []string{"users", "chat_rooms", "messages", "votes", "schema_migrations"}

var requiredIndexes = []string{
	"idx_messages_room_time",
	"idx_messages_created_at",
	"idx_users_follower_count",
}

var requiredColumns = map[string]map[string]string{
	"users": {
		"id":             "INTEGER",
		"username":       "TEXT",
		"follower_count": "INTEGER",
		"bio":            "TEXT",
		"aura":           "TEXT",
		"created_at":     "DATETIME",
	},
	"chat_rooms": {
		"id":          "INTEGER",
		"name":        "TEXT",
		"description": "TEXT",
		"color":       "TEXT",
		"active":      "BOOLEAN",
	},
	"messages": {
		"id":          "INTEGER",
		"content":     "TEXT",
		"user_id":     "INTEGER",
		"room_id":     "INTEGER",
		"upvotes":     "INTEGER",
		"downvotes":   "INTEGER",
		"is_one_shot": "BOOLEAN",
		"viewed":      "BOOLEAN",
		"created_at":  "DATETIME",
	},
	"votes": {
		"message_id": "INTEGER",
		"user_id":    "INTEGER",
		"is_upvote":  "BOOLEAN",
	},
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	for table, columns := range requiredColumns {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that the query indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints checks that foreign keys are enforced on this
// connection. It writes nothing when they are.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`INSERT INTO messages (content, user_id, room_id) VALUES ('fk-check', -1, -1)`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM messages WHERE user_id = -1 AND room_id = -1`)
		return fmt.Errorf("foreign key constraint not enforced: messages.user_id")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		found[name] = strings.ToUpper(colType)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, wantType := range expected {
		gotType, ok := found[column]
		if !ok {
			return fmt.Errorf("missing column %s", column)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, want %s", column, gotType, wantType)
		}
	}
	return nil
}
