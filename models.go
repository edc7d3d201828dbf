package questionbank

import "time"

// QuestionType is the canonical question type stored in the questions table
type QuestionType string

const (
	TypeSingle   QuestionType = "single"
	TypeMultiple QuestionType = "multiple"
	TypeBoolean  QuestionType = "boolean"
	TypeFill     QuestionType = "fill"
	TypeShort    QuestionType = "short"
)

// Valid reports whether t is one of the five canonical types
func (t QuestionType) Valid() bool {
	switch t {
	case TypeSingle, TypeMultiple, TypeBoolean, TypeFill, TypeShort:
		return true
	}
	return false
}

// IsChoice reports whether questions of this type carry options
func (t QuestionType) IsChoice() bool {
	return t == TypeSingle || t == TypeMultiple
}

// Label returns the localized label used by CSV templates and the operation log
func (t QuestionType) Label() string {
	if label, ok := typeLabels[t]; ok {
		return label
	}
	return "题目"
}

// Canonical boolean answers
const (
	AnswerTrue  = "正确"
	AnswerFalse = "错误"
)

// Option is one choice of a single or multiple choice question
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is the canonical question record
type Question struct {
	ID        int64        `json:"id"`
	BankID    int64        `json:"bankId"`
	Type      QuestionType `json:"type"`
	Content   string       `json:"content"`
	Options   []Option     `json:"options"`
	Answer    string       `json:"answer"`
	Analysis  *string      `json:"analysis"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Bank is a named collection of questions
type Bank struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	QuestionCount int       `json:"questionCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// WrongBookEntry tracks the practice history of one wrongly answered question
type WrongBookEntry struct {
	QuestionID   int64     `json:"questionId"`
	BankID       int64     `json:"bankId"`
	WrongCount   int       `json:"wrongCount"`
	CorrectCount int       `json:"correctCount"`
	AddedAt      time.Time `json:"addedAt"`
	LastWrongAt  time.Time `json:"lastWrongAt"`
}

// WrongBookItem is a wrong book entry joined with its question
type WrongBookItem struct {
	WrongBookEntry
	Question Question `json:"question"`
}

// BankCount is a per-bank count, used by wrong book summaries
type BankCount struct {
	BankID int64 `json:"bankId"`
	Count  int   `json:"count"`
}

// TypeCount is the number of questions of one type
type TypeCount struct {
	Type  QuestionType `json:"type"`
	Count int          `json:"count"`
}

// OperationLog is one entry of the user-visible activity log
type OperationLog struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

// Page is a slice of results plus paging metadata
type Page[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

// NewPage builds a Page, computing the page count from total and pageSize
func NewPage[T any](data []T, total, page, pageSize int) Page[T] {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	if data == nil {
		data = []T{}
	}
	return Page[T]{Data: data, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages}
}

func stringPtr(s string) *string {
	return &s
}
