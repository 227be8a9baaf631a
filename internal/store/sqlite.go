package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/survey-chatbot/internal/domain"
	"github.com/ashureev/survey-chatbot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serialize session upserts to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		turn INTEGER NOT NULL,
		messages_json TEXT NOT NULL,
		used_ids_json TEXT NOT NULL,
		schedule TEXT NOT NULL,
		bank_ids_json TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		uploaded INTEGER NOT NULL DEFAULT 0,
		share_link TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS turn_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		session_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		user_input TEXT NOT NULL,
		gpt_response TEXT NOT NULL,
		is_response_true TEXT NOT NULL,
		matched_question_id TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_turn_records_session ON turn_records(session_id, turn);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves a session snapshot, or nil if absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	query := `
		SELECT session_id, turn, messages_json, used_ids_json, schedule,
		       bank_ids_json, completed, uploaded, share_link, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var snap SessionSnapshot
	var messagesJSON, usedJSON, bankJSON string
	var completed, uploaded int

	err := row.Scan(
		&snap.SessionID, &snap.Turn, &messagesJSON, &usedJSON, &snap.Schedule,
		&bankJSON, &completed, &uploaded, &snap.ShareLink, &snap.CreatedAt, &snap.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &snap.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal([]byte(usedJSON), &snap.UsedQuestionIDs); err != nil {
		return nil, fmt.Errorf("decode used ids: %w", err)
	}
	if err := json.Unmarshal([]byte(bankJSON), &snap.BankIDs); err != nil {
		return nil, fmt.Errorf("decode bank ids: %w", err)
	}
	snap.Completed = completed != 0
	snap.Uploaded = uploaded != 0

	return &snap, nil
}

// UpsertSession creates or updates a session snapshot.
func (s *SQLiteStore) UpsertSession(ctx context.Context, snap *SessionSnapshot) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	messagesJSON, err := json.Marshal(snap.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	usedJSON, err := json.Marshal(snap.UsedQuestionIDs)
	if err != nil {
		return fmt.Errorf("encode used ids: %w", err)
	}
	bankJSON, err := json.Marshal(snap.BankIDs)
	if err != nil {
		return fmt.Errorf("encode bank ids: %w", err)
	}

	query := `
	INSERT INTO sessions (session_id, turn, messages_json, used_ids_json, schedule,
		bank_ids_json, completed, uploaded, share_link, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		turn = excluded.turn,
		messages_json = excluded.messages_json,
		used_ids_json = excluded.used_ids_json,
		completed = excluded.completed,
		uploaded = excluded.uploaded,
		share_link = excluded.share_link,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		snap.SessionID, snap.Turn, string(messagesJSON), string(usedJSON), snap.Schedule,
		string(bankJSON), boolToInt(snap.Completed), boolToInt(snap.Uploaded), snap.ShareLink,
		snap.CreatedAt, snap.UpdatedAt,
	)
	if shared.IsSQLiteConflictError(err) {
		// One retry after the busy timeout; write load here is a single
		// row per turn, so contention clears quickly.
		_, err = s.db.ExecContext(ctx, query,
			snap.SessionID, snap.Turn, string(messagesJSON), string(usedJSON), snap.Schedule,
			string(bankJSON), boolToInt(snap.Completed), boolToInt(snap.Uploaded), snap.ShareLink,
			snap.CreatedAt, snap.UpdatedAt,
		)
	}
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// AppendTurnRecord stores one turn record.
func (s *SQLiteStore) AppendTurnRecord(ctx context.Context, rec domain.TurnRecord) error {
	query := `
	INSERT INTO turn_records (timestamp, session_id, turn, user_input,
		gpt_response, is_response_true, matched_question_id, notes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.Timestamp.Format(time.RFC3339), rec.SessionID, rec.Turn, rec.UserInput,
		rec.Response, string(rec.Mode), rec.MatchedQuestionID, rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("append turn record: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
