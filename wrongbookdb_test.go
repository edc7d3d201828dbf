package questionbank

import (
	"context"
	"testing"
)

func TestApplyPracticeResults(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := mustBank(t, db, "错题")
	q := mustQuestion(t, db, bank.ID, Question{Type: TypeBoolean, Content: "x", Answer: AnswerTrue})

	wrong := PracticeResult{QuestionID: q.ID, BankID: bank.ID}
	right := PracticeResult{QuestionID: q.ID, BankID: bank.ID, IsCorrect: true}

	if err := db.ApplyPracticeResults(ctx, []PracticeResult{wrong, wrong, right}, 2); err != nil {
		t.Fatalf("ApplyPracticeResults: %v", err)
	}
	e, err := db.GetWrongBookEntry(ctx, q.ID)
	if err != nil || e == nil {
		t.Fatalf("GetWrongBookEntry = %+v, %v", e, err)
	}
	if e.WrongCount != 2 || e.CorrectCount != 1 || e.BankID != bank.ID {
		t.Errorf("entry = %+v", e)
	}
	if !e.LastWrongAt.After(e.AddedAt) {
		t.Errorf("LastWrongAt %v should follow AddedAt %v", e.LastWrongAt, e.AddedAt)
	}

	if err := db.ApplyPracticeResult(ctx, right, 2); err != nil {
		t.Fatalf("ApplyPracticeResult: %v", err)
	}
	if e, _ := db.GetWrongBookEntry(ctx, q.ID); e != nil {
		t.Errorf("entry should be removed at the threshold, got %+v", e)
	}

	// A correct answer for a question outside the wrong book stores nothing.
	if err := db.ApplyPracticeResult(ctx, right, 2); err != nil {
		t.Fatalf("ApplyPracticeResult: %v", err)
	}
	if n, _ := db.CountWrongBook(ctx, nil); n != 0 {
		t.Errorf("CountWrongBook = %d, want 0", n)
	}

	if err := db.ApplyPracticeResult(ctx, PracticeResult{QuestionID: 0, BankID: bank.ID}, 2); err != nil {
		t.Errorf("invalid ids should be ignored, got %v", err)
	}
}

func TestWrongBookQueries(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := mustBank(t, db, "A")
	b := mustBank(t, db, "B")

	var ids []int64
	for i, bank := range []*Bank{a, a, b} {
		q := mustQuestion(t, db, bank.ID, Question{Type: TypeShort, Content: string(rune('甲' + i))})
		ids = append(ids, q.ID)
		if err := db.ApplyPracticeResult(ctx, PracticeResult{QuestionID: q.ID, BankID: bank.ID}, 3); err != nil {
			t.Fatalf("ApplyPracticeResult: %v", err)
		}
	}

	counts, err := db.WrongBookCountsByBank(ctx)
	if err != nil {
		t.Fatalf("WrongBookCountsByBank: %v", err)
	}
	if len(counts) != 2 || counts[0] != (BankCount{a.ID, 2}) || counts[1] != (BankCount{b.ID, 1}) {
		t.Errorf("counts = %+v", counts)
	}

	items, err := db.ListWrongBook(ctx, &a.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListWrongBook: %v", err)
	}
	if len(items) != 2 || items[0].QuestionID != ids[1] || items[0].Question.ID != ids[1] {
		t.Errorf("items = %+v, want most recently missed first", items)
	}

	page, err := db.WrongBookPage(ctx, nil, 1, 2)
	if err != nil {
		t.Fatalf("WrongBookPage: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Data) != 2 {
		t.Errorf("page = %+v", page)
	}

	random, err := db.RandomWrongQuestions(ctx, &b.ID, 10)
	if err != nil || len(random) != 1 || random[0].ID != ids[2] {
		t.Errorf("RandomWrongQuestions = %+v, %v", random, err)
	}

	// Deleting a question leaves an orphan that every read sweeps.
	if _, err := db.DeleteQuestions(ctx, []int64{ids[0]}); err != nil {
		t.Fatalf("DeleteQuestions: %v", err)
	}
	if n, _ := db.CountWrongBook(ctx, &a.ID); n != 1 {
		t.Errorf("CountWrongBook after delete = %d, want 1", n)
	}
	if e, _ := db.GetWrongBookEntry(ctx, ids[0]); e != nil {
		t.Errorf("orphan entry survived: %+v", e)
	}

	if err := db.RemoveWrongBookItem(ctx, ids[1]); err != nil {
		t.Fatalf("RemoveWrongBookItem: %v", err)
	}
	n, err := db.ClearWrongBook(ctx, nil)
	if err != nil || n != 1 {
		t.Errorf("ClearWrongBook = %d, %v", n, err)
	}
}
