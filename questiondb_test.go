package questionbank

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newTestDB opens an in-memory store whose clock advances one second per call
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return db
}

func mustBank(t *testing.T, db *DB, name string) *Bank {
	t.Helper()
	b, err := db.CreateBank(context.Background(), name, "")
	if err != nil {
		t.Fatalf("CreateBank(%q): %v", name, err)
	}
	return b
}

func mustQuestion(t *testing.T, db *DB, bankID int64, q Question) *Question {
	t.Helper()
	created, err := db.CreateQuestion(context.Background(), bankID, &q)
	if err != nil {
		t.Fatalf("CreateQuestion: %v", err)
	}
	return created
}

func TestBankCRUD(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if _, err := db.CreateBank(ctx, "  ", ""); err == nil {
		t.Fatal("blank bank name should be rejected")
	}

	math := mustBank(t, db, "  数学 ")
	if math.Name != "数学" || math.QuestionCount != 0 {
		t.Errorf("created bank = %+v", math)
	}
	history := mustBank(t, db, "历史")

	banks, err := db.ListBanks(ctx)
	if err != nil {
		t.Fatalf("ListBanks: %v", err)
	}
	if len(banks) != 2 || banks[0].ID != history.ID {
		t.Errorf("ListBanks = %+v, want most recently updated first", banks)
	}

	// Adding a question touches the bank, moving it to the front.
	mustQuestion(t, db, math.ID, Question{Type: TypeShort, Content: "1+1"})
	banks, _ = db.ListBanks(ctx)
	if banks[0].ID != math.ID || banks[0].QuestionCount != 1 {
		t.Errorf("after insert ListBanks = %+v", banks)
	}

	updated, err := db.UpdateBank(ctx, math.ID, "高数", "微积分")
	if err != nil {
		t.Fatalf("UpdateBank: %v", err)
	}
	if updated.Name != "高数" || updated.Description != "微积分" {
		t.Errorf("updated bank = %+v", updated)
	}
	if _, err := db.UpdateBank(ctx, 999, "x", ""); !errors.Is(err, ErrBankNotFound) {
		t.Errorf("UpdateBank(missing) = %v", err)
	}
	if _, err := db.GetBank(ctx, 999); !errors.Is(err, ErrBankNotFound) {
		t.Errorf("GetBank(missing) = %v", err)
	}
}

func TestDeleteBankCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := mustBank(t, db, "待删")
	other := mustBank(t, db, "保留")
	q := mustQuestion(t, db, bank.ID, Question{Type: TypeBoolean, Content: "x", Answer: AnswerTrue})
	kept := mustQuestion(t, db, other.ID, Question{Type: TypeBoolean, Content: "y", Answer: AnswerTrue})

	for _, r := range []PracticeResult{{QuestionID: q.ID, BankID: bank.ID}, {QuestionID: kept.ID, BankID: other.ID}} {
		if err := db.ApplyPracticeResult(ctx, r, 3); err != nil {
			t.Fatalf("ApplyPracticeResult: %v", err)
		}
	}
	if _, err := db.SavePracticeRecord(ctx, Summarize(bank.ID, []PracticeResult{{}})); err != nil {
		t.Fatalf("SavePracticeRecord: %v", err)
	}

	if err := db.DeleteBank(ctx, bank.ID); err != nil {
		t.Fatalf("DeleteBank: %v", err)
	}
	if _, err := db.GetQuestion(ctx, q.ID); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("question survived bank deletion: %v", err)
	}
	if e, _ := db.GetWrongBookEntry(ctx, q.ID); e != nil {
		t.Errorf("wrong book entry survived: %+v", e)
	}
	if e, _ := db.GetWrongBookEntry(ctx, kept.ID); e == nil {
		t.Error("other bank's wrong book entry was removed")
	}
	if records, _ := db.PracticeRecords(ctx, bank.ID, 0); len(records) != 0 {
		t.Errorf("practice records survived: %+v", records)
	}
	if err := db.DeleteBank(ctx, bank.ID); !errors.Is(err, ErrBankNotFound) {
		t.Errorf("second DeleteBank = %v", err)
	}
}

func TestQuestionCRUD(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := mustBank(t, db, "题库")

	if _, err := db.CreateQuestion(ctx, 999, &Question{Type: TypeShort, Content: "x"}); !errors.Is(err, ErrBankNotFound) {
		t.Errorf("CreateQuestion(missing bank) = %v", err)
	}
	var verr *ValidationError
	if _, err := db.CreateQuestion(ctx, bank.ID, &Question{Type: TypeSingle, Content: "x"}); !errors.As(err, &verr) {
		t.Errorf("CreateQuestion(invalid) = %v, want *ValidationError", err)
	}

	analysis := "解析"
	q := mustQuestion(t, db, bank.ID, Question{
		Type:     TypeSingle,
		Content:  "  首都？ ",
		Options:  []Option{{ID: "A", Text: "北京"}, {ID: "B", Text: "上海"}},
		Answer:   "A",
		Analysis: &analysis,
	})
	if q.ID == 0 || q.BankID != bank.ID || q.Content != "首都？" {
		t.Errorf("created = %+v", q)
	}
	if len(q.Options) != 2 || q.Options[1].Text != "上海" {
		t.Errorf("options = %+v", q.Options)
	}
	if q.Analysis == nil || *q.Analysis != "解析" {
		t.Errorf("analysis = %v", q.Analysis)
	}

	blank := " "
	updated, err := db.UpdateQuestion(ctx, q.ID, &Question{Type: TypeShort, Content: "改成简答", Options: q.Options, Analysis: &blank})
	if err != nil {
		t.Fatalf("UpdateQuestion: %v", err)
	}
	if updated.Type != TypeShort || updated.Options != nil || updated.Analysis != nil {
		t.Errorf("updated = %+v, want options and blank analysis dropped", updated)
	}
	if !updated.UpdatedAt.After(q.UpdatedAt) {
		t.Errorf("UpdatedAt did not advance: %v -> %v", q.UpdatedAt, updated.UpdatedAt)
	}
	if _, err := db.UpdateQuestion(ctx, 999, &Question{Type: TypeShort, Content: "x"}); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("UpdateQuestion(missing) = %v", err)
	}

	n, err := db.DeleteQuestions(ctx, []int64{q.ID, 999})
	if err != nil || n != 1 {
		t.Errorf("DeleteQuestions = %d, %v", n, err)
	}
	if n, err := db.DeleteQuestions(ctx, nil); err != nil || n != 0 {
		t.Errorf("DeleteQuestions(nil) = %d, %v", n, err)
	}
}

func TestSearchQuestions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := mustBank(t, db, "搜索")
	other := mustBank(t, db, "其他")

	mustQuestion(t, db, bank.ID, Question{Type: TypeShort, Content: "闭包是什么"})
	mustQuestion(t, db, bank.ID, Question{Type: TypeBoolean, Content: "闭包会泄漏内存", Answer: AnswerFalse})
	mustQuestion(t, db, bank.ID, Question{Type: TypeShort, Content: "100% 覆盖率"})
	mustQuestion(t, db, bank.ID, Question{Type: TypeFill, Content: "snake__case 有 __ 个", Answer: "x|y"})
	mustQuestion(t, db, other.ID, Question{Type: TypeShort, Content: "闭包在别的题库"})

	tests := []struct {
		name   string
		filter QuestionFilter
		want   int
	}{
		{"whole bank", QuestionFilter{BankID: bank.ID}, 4},
		{"keyword", QuestionFilter{BankID: bank.ID, Keyword: "闭包"}, 2},
		{"keyword and type", QuestionFilter{BankID: bank.ID, Keyword: "闭包", Type: TypeBoolean}, 1},
		{"percent is literal", QuestionFilter{BankID: bank.ID, Keyword: "%"}, 1},
		{"underscore is literal", QuestionFilter{BankID: bank.ID, Keyword: "e_"}, 1},
		{"limit", QuestionFilter{BankID: bank.ID, Limit: 3}, 3},
		{"offset past end", QuestionFilter{BankID: bank.ID, Limit: 3, Offset: 3}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := db.SearchQuestions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("SearchQuestions: %v", err)
			}
			if len(qs) != tt.want {
				t.Errorf("got %d questions, want %d", len(qs), tt.want)
			}
		})
	}

	qs, _ := db.SearchQuestions(ctx, QuestionFilter{BankID: bank.ID})
	if qs[0].Type != TypeFill {
		t.Errorf("newest question should come first, got %+v", qs[0])
	}

	page, err := db.SearchQuestionPage(ctx, QuestionFilter{BankID: bank.ID}, 2, 3)
	if err != nil {
		t.Fatalf("SearchQuestionPage: %v", err)
	}
	if page.Total != 4 || page.TotalPages != 2 || page.Page != 2 || len(page.Data) != 1 {
		t.Errorf("page = %+v", page)
	}

	counts, err := db.QuestionTypeCounts(ctx, &bank.ID)
	if err != nil {
		t.Fatalf("QuestionTypeCounts: %v", err)
	}
	want := []TypeCount{{TypeBoolean, 1}, {TypeFill, 1}, {TypeShort, 2}}
	if len(counts) != len(want) {
		t.Fatalf("counts = %+v", counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}
	if all, _ := db.QuestionTypeCounts(ctx, nil); len(all) != 3 || all[2].Count != 3 {
		t.Errorf("overall counts = %+v", all)
	}
}

func TestNewPage(t *testing.T) {
	p := NewPage[int](nil, 0, 1, 20)
	if p.Data == nil || p.TotalPages != 0 {
		t.Errorf("empty page = %+v", p)
	}
	if p := NewPage([]int{1}, 41, 3, 20); p.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", p.TotalPages)
	}
}
