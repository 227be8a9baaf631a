// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/survey-chatbot/internal/domain"
)

// SessionSnapshot is the durable form of a session. The bank and
// schedule are stored by reference (question ids, encoded modes) and
// rehydrated against the in-process catalog.
type SessionSnapshot struct {
	SessionID       string
	Turn            int
	Messages        []domain.Message
	UsedQuestionIDs []string
	Schedule        string
	BankIDs         []string
	Completed       bool
	Uploaded        bool
	ShareLink       string
	CreatedAt       int64
	UpdatedAt       int64
}

// Repository defines the interface for persisting sessions and turn
// records.
type Repository interface {
	// GetSession retrieves a session snapshot, or nil if absent.
	GetSession(ctx context.Context, sessionID string) (*SessionSnapshot, error)

	// UpsertSession creates or updates a session snapshot.
	UpsertSession(ctx context.Context, snap *SessionSnapshot) error

	// AppendTurnRecord stores one turn record. Records are append-only
	// and never mutated or deleted.
	AppendTurnRecord(ctx context.Context, rec domain.TurnRecord) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
