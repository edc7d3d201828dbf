package questionbank

import "time"

const (
	// DefaultWrongBookThreshold is the number of correct answers that removes
	// a question from the wrong book when no threshold is configured
	DefaultWrongBookThreshold = 3
	MinWrongBookThreshold     = 1
	MaxWrongBookThreshold     = 999
)

// PracticeResult is the outcome of answering one question during practice
type PracticeResult struct {
	QuestionID int64 `json:"questionId"`
	BankID     int64 `json:"bankId"`
	IsCorrect  bool  `json:"isCorrect"`
}

// ApplyResultToEntry computes the wrong book state after one practice result.
// entry is the current state, nil when the question is not in the wrong book.
// It returns the next state and whether the entry must be removed; a nil next
// with removed false means nothing needs to be stored.
func ApplyResultToEntry(entry *WrongBookEntry, r PracticeResult, threshold int, now time.Time) (next *WrongBookEntry, removed bool) {
	if threshold < MinWrongBookThreshold || threshold > MaxWrongBookThreshold {
		threshold = DefaultWrongBookThreshold
	}

	if !r.IsCorrect {
		if entry == nil {
			return &WrongBookEntry{
				QuestionID:  r.QuestionID,
				BankID:      r.BankID,
				WrongCount:  1,
				AddedAt:     now,
				LastWrongAt: now,
			}, false
		}
		updated := *entry
		updated.WrongCount++
		updated.LastWrongAt = now
		updated.BankID = r.BankID
		return &updated, false
	}

	if entry == nil {
		return nil, false
	}
	updated := *entry
	updated.CorrectCount++
	if updated.CorrectCount >= threshold {
		return nil, true
	}
	return &updated, false
}
