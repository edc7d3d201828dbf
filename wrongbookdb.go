package questionbank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const joinedQuestionColumns = "q.id, q.bank_id, q.type, q.content, q.options, q.answer, q.analysis, q.created_at, q.updated_at"

// prefixScanner scans leading columns into prefix before handing the rest
// of the row to the caller's destinations
type prefixScanner struct {
	row    interface{ Scan(...interface{}) error }
	prefix []interface{}
}

func (p prefixScanner) Scan(dest ...interface{}) error {
	return p.row.Scan(append(p.prefix, dest...)...)
}

func bankScope(bankID *int64, column string) (string, []interface{}) {
	if bankID == nil {
		return "", nil
	}
	return " WHERE " + column + " = ?", []interface{}{*bankID}
}

func getWrongBookEntry(ctx context.Context, q querier, questionID int64) (*WrongBookEntry, error) {
	var e WrongBookEntry
	err := q.QueryRowContext(ctx,
		"SELECT question_id, bank_id, wrong_count, correct_count, added_at, last_wrong_at FROM wrong_book WHERE question_id = ?",
		questionID,
	).Scan(&e.QuestionID, &e.BankID, &e.WrongCount, &e.CorrectCount, &e.AddedAt, &e.LastWrongAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wrong book entry: %w", err)
	}
	return &e, nil
}

// GetWrongBookEntry returns the wrong book entry of a question, or nil when
// the question is not in the wrong book
func (db *DB) GetWrongBookEntry(ctx context.Context, questionID int64) (*WrongBookEntry, error) {
	return getWrongBookEntry(ctx, db.db, questionID)
}

// ApplyPracticeResult records one practice result in the wrong book. The
// read, transition and write happen in one transaction.
func (db *DB) ApplyPracticeResult(ctx context.Context, r PracticeResult, threshold int) error {
	if r.QuestionID <= 0 || r.BankID <= 0 {
		return nil
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := getWrongBookEntry(ctx, tx, r.QuestionID)
		if err != nil {
			return err
		}

		next, removed := ApplyResultToEntry(entry, r, threshold, db.now())
		switch {
		case removed:
			if _, err := tx.ExecContext(ctx, "DELETE FROM wrong_book WHERE question_id = ?", r.QuestionID); err != nil {
				return fmt.Errorf("failed to remove wrong book entry: %w", err)
			}
			VerboseLog("question %d left the wrong book", r.QuestionID)
		case next != nil:
			_, err := tx.ExecContext(ctx,
				`INSERT INTO wrong_book (question_id, bank_id, wrong_count, correct_count, added_at, last_wrong_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(question_id) DO UPDATE SET
					bank_id = excluded.bank_id,
					wrong_count = excluded.wrong_count,
					correct_count = excluded.correct_count,
					last_wrong_at = excluded.last_wrong_at`,
				next.QuestionID, next.BankID, next.WrongCount, next.CorrectCount, next.AddedAt, next.LastWrongAt,
			)
			if err != nil {
				return fmt.Errorf("failed to save wrong book entry: %w", err)
			}
		}
		return nil
	})
}

// ApplyPracticeResults records a practice session. Orphans are swept first,
// then each result is applied in submission order in its own transaction,
// so a failure leaves the earlier results applied.
func (db *DB) ApplyPracticeResults(ctx context.Context, results []PracticeResult, threshold int) error {
	if err := db.CleanupWrongBookOrphans(ctx); err != nil {
		return err
	}
	for i, r := range results {
		if err := db.ApplyPracticeResult(ctx, r, threshold); err != nil {
			return fmt.Errorf("failed to apply result %d: %w", i, err)
		}
	}
	return nil
}

// CleanupWrongBookOrphans deletes entries whose question no longer exists
func (db *DB) CleanupWrongBookOrphans(ctx context.Context) error {
	res, err := db.db.ExecContext(ctx, "DELETE FROM wrong_book WHERE question_id NOT IN (SELECT id FROM questions)")
	if err != nil {
		return fmt.Errorf("failed to clean up wrong book: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		VerboseLog("swept %d orphaned wrong book entries", n)
	}
	return nil
}

// WrongBookCountsByBank counts wrong book entries per bank
func (db *DB) WrongBookCountsByBank(ctx context.Context) ([]BankCount, error) {
	if err := db.CleanupWrongBookOrphans(ctx); err != nil {
		return nil, err
	}
	rows, err := db.db.QueryContext(ctx, "SELECT bank_id, COUNT(*) FROM wrong_book GROUP BY bank_id ORDER BY bank_id")
	if err != nil {
		return nil, fmt.Errorf("failed to count wrong book: %w", err)
	}
	defer rows.Close()

	counts := []BankCount{}
	for rows.Next() {
		var c BankCount
		if err := rows.Scan(&c.BankID, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan wrong book count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wrong book counts: %w", err)
	}
	return counts, nil
}

// CountWrongBook counts wrong book entries, in one bank or overall
func (db *DB) CountWrongBook(ctx context.Context, bankID *int64) (int, error) {
	if err := db.CleanupWrongBookOrphans(ctx); err != nil {
		return 0, err
	}
	where, args := bankScope(bankID, "bank_id")
	var count int
	if err := db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM wrong_book"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count wrong book: %w", err)
	}
	return count, nil
}

// ListWrongBook returns wrong book entries joined with their questions, most
// recently missed first
func (db *DB) ListWrongBook(ctx context.Context, bankID *int64, offset, limit int) ([]WrongBookItem, error) {
	if err := db.CleanupWrongBookOrphans(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	where, args := bankScope(bankID, "wb.bank_id")
	args = append(args, limit, offset)

	rows, err := db.db.QueryContext(ctx,
		`SELECT wb.question_id, wb.bank_id, wb.wrong_count, wb.correct_count, wb.added_at, wb.last_wrong_at, `+joinedQuestionColumns+`
		FROM wrong_book wb JOIN questions q ON wb.question_id = q.id`+where+`
		ORDER BY wb.last_wrong_at DESC, wb.question_id DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list wrong book: %w", err)
	}
	defer rows.Close()

	items := []WrongBookItem{}
	for rows.Next() {
		var item WrongBookItem
		e := &item.WrongBookEntry
		q, err := scanQuestion(prefixScanner{row: rows, prefix: []interface{}{
			&e.QuestionID, &e.BankID, &e.WrongCount, &e.CorrectCount, &e.AddedAt, &e.LastWrongAt,
		}})
		if err != nil {
			return nil, fmt.Errorf("failed to scan wrong book item: %w", err)
		}
		item.Question = *q
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wrong book: %w", err)
	}
	return items, nil
}

// WrongBookPage lists the wrong book as a 1-based page
func (db *DB) WrongBookPage(ctx context.Context, bankID *int64, page, pageSize int) (Page[WrongBookItem], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	items, err := db.ListWrongBook(ctx, bankID, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page[WrongBookItem]{}, err
	}
	total, err := db.CountWrongBook(ctx, bankID)
	if err != nil {
		return Page[WrongBookItem]{}, err
	}
	return NewPage(items, total, page, pageSize), nil
}

// RandomWrongQuestions picks up to limit wrong book questions at random
func (db *DB) RandomWrongQuestions(ctx context.Context, bankID *int64, limit int) ([]Question, error) {
	if err := db.CleanupWrongBookOrphans(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	where, args := bankScope(bankID, "wb.bank_id")
	args = append(args, limit)

	rows, err := db.db.QueryContext(ctx,
		"SELECT "+joinedQuestionColumns+" FROM wrong_book wb JOIN questions q ON wb.question_id = q.id"+where+" ORDER BY RANDOM() LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pick wrong questions: %w", err)
	}
	return collectQuestions(rows)
}

// RemoveWrongBookItem removes one question from the wrong book
func (db *DB) RemoveWrongBookItem(ctx context.Context, questionID int64) error {
	if _, err := db.db.ExecContext(ctx, "DELETE FROM wrong_book WHERE question_id = ?", questionID); err != nil {
		return fmt.Errorf("failed to remove wrong book item: %w", err)
	}
	return nil
}

// ClearWrongBook empties the wrong book of one bank, or entirely when bankID
// is nil, and returns the number of entries removed
func (db *DB) ClearWrongBook(ctx context.Context, bankID *int64) (int, error) {
	where, args := bankScope(bankID, "bank_id")
	res, err := db.db.ExecContext(ctx, "DELETE FROM wrong_book"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear wrong book: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
