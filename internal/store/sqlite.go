package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite keeps messages in a local sqlite database file
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);`

	createMessagesIndex := `
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);`

	createStatusTable := `
	CREATE TABLE IF NOT EXISTS status_checks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		client_name TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);`

	for _, stmt := range []string{createMessagesTable, createMessagesIndex, createStatusTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) AppendMessage(ctx context.Context, rec MessageRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, session_id, sender, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.SessionID, rec.Sender, rec.Message, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *SQLite) History(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = -1 // sqlite treats a negative LIMIT as unbounded
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, content, timestamp FROM (
			SELECT seq, id, session_id, sender, content, timestamp
			FROM messages WHERE session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []MessageRecord{}
	for rows.Next() {
		var rec MessageRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Sender, &rec.Message, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}

func (s *SQLite) AddStatusCheck(ctx context.Context, check StatusCheck) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO status_checks (id, client_name, timestamp) VALUES (?, ?, ?)",
		check.ID, check.ClientName, check.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save status check: %w", err)
	}
	return nil
}

func (s *SQLite) StatusChecks(ctx context.Context, limit int) ([]StatusCheck, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, client_name, timestamp FROM status_checks ORDER BY seq ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load status checks: %w", err)
	}
	defer rows.Close()

	checks := []StatusCheck{}
	for rows.Next() {
		var check StatusCheck
		if err := rows.Scan(&check.ID, &check.ClientName, &check.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan status check: %w", err)
		}
		checks = append(checks, check)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load status checks: %w", err)
	}
	return checks, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close(ctx context.Context) error {
	return s.db.Close()
}
