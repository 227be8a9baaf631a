package domain

import (
	"time"
)

// Message is a single chat history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session holds the full per-participant survey state. It is mutated
// only by the session service's ProcessTurn; Completed and Uploaded are
// monotonic within a session (false to true, never reset).
type Session struct {
	SessionID       string
	Turn            int
	Messages        []Message
	UsedQuestionIDs map[string]struct{}
	Schedule        []Mode
	Bank            *Bank
	Completed       bool
	Uploaded        bool
	ShareLink       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AppendMessage appends one chat history entry.
func (s *Session) AppendMessage(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// MarkUsed records a bank question id as consumed by a turn.
func (s *Session) MarkUsed(questionID string) {
	if s.UsedQuestionIDs == nil {
		s.UsedQuestionIDs = make(map[string]struct{})
	}
	s.UsedQuestionIDs[questionID] = struct{}{}
}

// HasUsed reports whether a bank question id has been consumed.
func (s *Session) HasUsed(questionID string) bool {
	_, ok := s.UsedQuestionIDs[questionID]
	return ok
}

// UsedIDs returns the consumed question ids in no particular order.
func (s *Session) UsedIDs() []string {
	ids := make([]string, 0, len(s.UsedQuestionIDs))
	for id := range s.UsedQuestionIDs {
		ids = append(ids, id)
	}
	return ids
}
