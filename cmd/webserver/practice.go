package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"questionbank"

	"go.uber.org/zap"
)

// maxSessionQuestions keeps the session cookie under the browser size limit
const maxSessionQuestions = 100

// PracticeSession is the state of one practice run kept in the session
// cookie. Questions are reloaded by ID and reshuffled from Seed.
type PracticeSession struct {
	BankID      int64                         `json:"bankId"`
	Seed        int64                         `json:"seed"`
	QuestionIDs []int64                       `json:"questionIds"`
	Current     int                           `json:"current"`
	Results     []questionbank.PracticeResult `json:"results"`
	StartedAt   time.Time                     `json:"startedAt"`
}

// questionView is a question as shown during practice, without its answer
type questionView struct {
	Index   int                       `json:"index"`
	Total   int                       `json:"total"`
	ID      int64                     `json:"id"`
	Type    questionbank.QuestionType `json:"type"`
	Content string                    `json:"content"`
	Options []questionbank.Option     `json:"options"`
	Blanks  int                       `json:"blanks,omitempty"`
}

type answerResult struct {
	Correct  bool                          `json:"correct"`
	Answer   string                        `json:"answer"`
	Analysis *string                       `json:"analysis"`
	Finished bool                          `json:"finished"`
	Summary  *questionbank.PracticeSummary `json:"summary,omitempty"`
}

func (s *Server) loadPractice(w http.ResponseWriter, r *http.Request) (*PracticeSession, bool) {
	session, _ := s.store.Get(r, sessionName)
	ps, ok := session.Values["practice"].(PracticeSession)
	if !ok {
		writeFail(w, http.StatusNotFound, "no practice in progress")
		return nil, false
	}
	return &ps, true
}

func (s *Server) savePractice(w http.ResponseWriter, r *http.Request, ps *PracticeSession) error {
	session, _ := s.store.Get(r, sessionName)
	if ps == nil {
		delete(session.Values, "practice")
	} else {
		session.Values["practice"] = *ps
	}
	return session.Save(r, w)
}

// question loads the question at the current position, skipping questions
// deleted since the session started
func (s *Server) question(ctx context.Context, ps *PracticeSession) (*questionbank.Question, error) {
	for ps.Current < len(ps.QuestionIDs) {
		id := ps.QuestionIDs[ps.Current]
		q, err := s.db.GetQuestion(ctx, id)
		if errors.Is(err, questionbank.ErrQuestionNotFound) {
			questionbank.VerboseLog("practice question %d was deleted, skipping", id)
			ps.QuestionIDs = append(ps.QuestionIDs[:ps.Current], ps.QuestionIDs[ps.Current+1:]...)
			continue
		}
		if err != nil {
			return nil, err
		}
		shuffled := questionbank.ShuffleQuestion(*q, rand.New(rand.NewSource(ps.Seed^q.ID)))
		return &shuffled, nil
	}
	return nil, nil
}

func view(ps *PracticeSession, q *questionbank.Question) questionView {
	v := questionView{
		Index:   ps.Current + 1,
		Total:   len(ps.QuestionIDs),
		ID:      q.ID,
		Type:    q.Type,
		Content: q.Content,
		Options: q.Options,
	}
	if q.Type == questionbank.TypeFill {
		v.Blanks = questionbank.CountBlanks(q.Content)
	}
	return v
}

func (s *Server) handleStartPractice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankID    int64 `json:"bankId"`
		Count     int   `json:"count"`
		WrongOnly bool  `json:"wrongOnly"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Count <= 0 || req.Count > maxSessionQuestions {
		req.Count = maxSessionQuestions
	}

	ctx := r.Context()
	var questions []questionbank.Question
	var err error
	if req.WrongOnly {
		var bank *int64
		if req.BankID > 0 {
			bank = &req.BankID
		}
		questions, err = s.db.RandomWrongQuestions(ctx, bank, req.Count)
	} else {
		if _, err = s.db.GetBank(ctx, req.BankID); err == nil {
			questions, err = s.db.SearchQuestions(ctx, questionbank.QuestionFilter{BankID: req.BankID})
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if len(questions) == 0 {
		writeFail(w, http.StatusBadRequest, "题库中没有题目")
		return
	}

	seed := time.Now().UnixNano()
	ordered := questionbank.PreparePractice(questions, seed)
	if len(ordered) > req.Count {
		ordered = ordered[:req.Count]
	}
	ps := &PracticeSession{BankID: req.BankID, Seed: seed, StartedAt: time.Now()}
	for _, q := range ordered {
		ps.QuestionIDs = append(ps.QuestionIDs, q.ID)
	}

	if err := s.savePractice(w, r, ps); err != nil {
		writeError(w, err)
		return
	}
	questionbank.Log.Info("practice started", zap.Int64("bankId", ps.BankID), zap.Int("questions", len(ps.QuestionIDs)))
	writeOK(w, view(ps, &ordered[0]))
}

func (s *Server) handleCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.loadPractice(w, r)
	if !ok {
		return
	}
	q, err := s.question(r.Context(), ps)
	if err != nil {
		writeError(w, err)
		return
	}
	if q == nil {
		writeFail(w, http.StatusConflict, "practice already finished")
		return
	}
	writeOK(w, view(ps, q))
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.loadPractice(w, r)
	if !ok {
		return
	}
	var req struct {
		Answer questionbank.AnswerValue `json:"answer"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	q, err := s.question(ctx, ps)
	if err != nil {
		writeError(w, err)
		return
	}
	if q == nil {
		writeFail(w, http.StatusConflict, "practice already finished")
		return
	}

	correct := questionbank.Grade(*q, req.Answer)
	ps.Results = append(ps.Results, questionbank.PracticeResult{QuestionID: q.ID, BankID: q.BankID, IsCorrect: correct})
	ps.Current++
	result := answerResult{Correct: correct, Answer: q.Answer, Analysis: q.Analysis}

	if ps.Current >= len(ps.QuestionIDs) {
		summary, err := s.finishPractice(ctx, ps)
		if err != nil {
			writeError(w, err)
			return
		}
		result.Finished = true
		result.Summary = &summary
		ps = nil
	}

	if err := s.savePractice(w, r, ps); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, result)
}

// finishPractice stores the session score and feeds every result into the
// wrong book
func (s *Server) finishPractice(ctx context.Context, ps *PracticeSession) (questionbank.PracticeSummary, error) {
	summary := questionbank.Summarize(ps.BankID, ps.Results)
	if ps.BankID > 0 {
		if _, err := s.db.SavePracticeRecord(ctx, summary); err != nil {
			return summary, err
		}
	}
	threshold, err := s.db.GetWrongBookThreshold(ctx)
	if err != nil {
		return summary, err
	}
	if err := s.db.ApplyPracticeResults(ctx, ps.Results, threshold); err != nil {
		return summary, err
	}
	questionbank.Log.Info("practice finished",
		zap.Int64("bankId", ps.BankID),
		zap.Int("correct", summary.Correct),
		zap.Int("total", summary.Total),
		zap.Duration("elapsed", time.Since(ps.StartedAt)),
	)
	return summary, nil
}

func (s *Server) handleAbandonPractice(w http.ResponseWriter, r *http.Request) {
	if err := s.savePractice(w, r, nil); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handlePracticeRecords(w http.ResponseWriter, r *http.Request) {
	bank := queryBank(r)
	if bank == nil {
		writeFail(w, http.StatusBadRequest, "invalid bankId")
		return
	}
	records, err := s.db.PracticeRecords(r.Context(), *bank, queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, records)
}

func (s *Server) handlePracticeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.PracticeStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, stats)
}
