// Package turnlog appends one CSV row per processed turn to a
// per-session log file and to an aggregate log across all sessions.
//
// The column order is a compatibility contract with existing logs:
// timestamp, session_id, turn, user_input, gpt_response,
// is_response_true, notes.
package turnlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ashureev/survey-chatbot/internal/domain"
)

var header = []string{
	"timestamp", "session_id", "turn", "user_input",
	"gpt_response", "is_response_true", "notes",
}

// Config controls turn logging destinations.
type Config struct {
	// Dir holds one <session_id>.csv per session.
	Dir string
	// AggregatePath is a single CSV receiving every session's turns.
	// Empty disables the aggregate log.
	AggregatePath string
}

// Writer appends turn records to durable CSV logs. Appends are
// synchronous so a write failure surfaces to the caller of the turn
// that produced the record.
type Writer struct {
	cfg Config
	mu  sync.Mutex
}

// NewWriter creates the log directory and returns a Writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("turn log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if cfg.AggregatePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AggregatePath), 0o755); err != nil {
			return nil, fmt.Errorf("create aggregate log directory: %w", err)
		}
	}
	return &Writer{cfg: cfg}, nil
}

// SessionPath returns the per-session log file path.
func (w *Writer) SessionPath(sessionID string) string {
	return filepath.Join(w.cfg.Dir, sessionID+".csv")
}

// Append writes one record to the per-session log and, if configured,
// to the aggregate log. A file gets its header exactly once, when it
// is first created.
func (w *Writer) Append(rec domain.TurnRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := appendRow(w.SessionPath(rec.SessionID), rec); err != nil {
		return fmt.Errorf("session log: %w", err)
	}
	if w.cfg.AggregatePath != "" {
		if err := appendRow(w.cfg.AggregatePath, rec); err != nil {
			return fmt.Errorf("aggregate log: %w", err)
		}
	}
	return nil
}

func appendRow(path string, rec domain.TurnRecord) error {
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := cw.Write(rec.CSVRow()); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Sync()
}
