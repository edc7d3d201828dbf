package questionbank

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// PracticeSummary is the score of one finished practice session
type PracticeSummary struct {
	BankID   int64 `json:"bankId"`
	Total    int   `json:"total"`
	Correct  int   `json:"correct"`
	Wrong    int   `json:"wrong"`
	Accuracy int   `json:"accuracy"`
}

// PracticeRecord is a stored practice summary
type PracticeRecord struct {
	ID int64 `json:"id"`
	PracticeSummary
	CreatedAt time.Time `json:"createdAt"`
}

// PracticeStat aggregates the practice history of one bank
type PracticeStat struct {
	BankID        int64     `json:"bankId"`
	BankName      string    `json:"bankName"`
	PracticeCount int       `json:"practiceCount"`
	AvgAccuracy   int       `json:"avgAccuracy"`
	LastPractice  time.Time `json:"lastPractice"`
}

// ShuffleQuestion returns a copy of q with its options in random order,
// re-lettered from A, and the answer rewritten to the new ids. Multiple
// choice answers come back sorted.
func ShuffleQuestion(q Question, rng *rand.Rand) Question {
	if !q.Type.IsChoice() || len(q.Options) < 2 {
		return q
	}

	shuffled := make([]Option, len(q.Options))
	for i, j := range rng.Perm(len(q.Options)) {
		shuffled[i] = q.Options[j]
	}
	relettered, mapping := ReletterOptions(shuffled)

	q.Options = relettered
	q.Answer = remapAnswer(q.Type, q.Answer, mapping, "", true)
	return q
}

// PreparePractice orders questions for a session. The order and every
// option shuffle derive from seed, so a session can be rebuilt from the
// seed and the question set alone.
func PreparePractice(questions []Question, seed int64) []Question {
	rng := rand.New(rand.NewSource(seed))
	out := make([]Question, len(questions))
	for i, j := range rng.Perm(len(questions)) {
		q := questions[j]
		out[i] = ShuffleQuestion(q, rand.New(rand.NewSource(seed^q.ID)))
	}
	return out
}

// Grade reports whether response answers q correctly. The response is
// normalized like any imported answer first.
func Grade(q Question, response AnswerValue) bool {
	blanks := CountBlanks(q.Content)
	given := NormalizeAnswer(q.Type, response, blanks)

	switch q.Type {
	case TypeMultiple:
		want := splitAnswerIDs(q.Answer)
		got := splitAnswerIDs(given)
		if len(want) != len(got) {
			return false
		}
		set := make(map[string]bool, len(want))
		for _, id := range want {
			set[id] = true
		}
		for _, id := range got {
			if !set[id] {
				return false
			}
			delete(set, id)
		}
		return len(set) == 0

	case TypeFill:
		if blanks == 0 {
			return false
		}
		want := strings.Split(NormalizeAnswer(TypeFill, TextAnswer(q.Answer), blanks), "|")
		got := strings.Split(given, "|")
		for i := 0; i < blanks; i++ {
			if i >= len(want) || i >= len(got) || strings.TrimSpace(want[i]) != strings.TrimSpace(got[i]) {
				return false
			}
		}
		return true

	case TypeSingle:
		return given != "" && given == strings.ToUpper(strings.TrimSpace(q.Answer))

	default:
		return strings.TrimSpace(given) == strings.TrimSpace(q.Answer)
	}
}

// Summarize scores a session. Accuracy is a rounded percentage.
func Summarize(bankID int64, results []PracticeResult) PracticeSummary {
	s := PracticeSummary{BankID: bankID, Total: len(results)}
	for _, r := range results {
		if r.IsCorrect {
			s.Correct++
		}
	}
	s.Wrong = s.Total - s.Correct
	if s.Total > 0 {
		s.Accuracy = int(math.Round(float64(s.Correct) * 100 / float64(s.Total)))
	}
	return s
}
