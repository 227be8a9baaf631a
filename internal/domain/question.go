// Package domain contains core domain types for the survey chatbot.
package domain

// Question is a single survey question with its scripted correct answer.
// Questions are immutable once loaded; the ground truth is never shown
// to the participant, it only feeds the response oracle's directive.
type Question struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	GroundTruth string `json:"-"`
}

// Bank is the fixed, session-scoped set of candidate questions sampled
// from topic domains. Order is fixed after sampling; entries reference
// catalog questions and are never copied or mutated.
type Bank struct {
	Questions []*Question
}

// Len returns the number of questions in the bank.
func (b *Bank) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Questions)
}

// IDs returns the bank's question ids in bank order.
func (b *Bank) IDs() []string {
	ids := make([]string, 0, b.Len())
	for _, q := range b.Questions {
		ids = append(ids, q.ID)
	}
	return ids
}
