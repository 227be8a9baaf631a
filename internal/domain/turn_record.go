package domain

import (
	"strconv"
	"time"
)

// TurnRecord is the append-only log entity emitted once per processed
// turn. Column order of the tabular form is a compatibility contract:
// timestamp, session_id, turn, user_input, gpt_response,
// is_response_true, notes.
type TurnRecord struct {
	Timestamp         time.Time
	SessionID         string
	Turn              int
	UserInput         string
	Response          string
	Mode              Mode
	MatchedQuestionID string
	Notes             string
}

// CSVRow renders the record in the contract column order.
func (r TurnRecord) CSVRow() []string {
	return []string{
		r.Timestamp.Format(time.RFC3339),
		r.SessionID,
		strconv.Itoa(r.Turn),
		r.UserInput,
		r.Response,
		string(r.Mode),
		r.Notes,
	}
}
