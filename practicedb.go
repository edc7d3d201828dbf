package questionbank

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SavePracticeRecord stores a session summary
func (db *DB) SavePracticeRecord(ctx context.Context, s PracticeSummary) (*PracticeRecord, error) {
	now := db.now()
	res, err := db.db.ExecContext(ctx,
		"INSERT INTO practice_records (bank_id, total, correct, wrong, accuracy, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		s.BankID, s.Total, s.Correct, s.Wrong, s.Accuracy, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save practice record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read practice record id: %w", err)
	}
	return &PracticeRecord{ID: id, PracticeSummary: s, CreatedAt: now}, nil
}

// PracticeRecords returns the newest practice records of a bank
func (db *DB) PracticeRecords(ctx context.Context, bankID int64, limit int) ([]PracticeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.db.QueryContext(ctx,
		"SELECT id, bank_id, total, correct, wrong, accuracy, created_at FROM practice_records WHERE bank_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		bankID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get practice records: %w", err)
	}
	defer rows.Close()

	records := []PracticeRecord{}
	for rows.Next() {
		var r PracticeRecord
		if err := rows.Scan(&r.ID, &r.BankID, &r.Total, &r.Correct, &r.Wrong, &r.Accuracy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan practice record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating practice records: %w", err)
	}
	return records, nil
}

// PracticeStats aggregates practice records per bank, most recently
// practiced first
func (db *DB) PracticeStats(ctx context.Context) ([]PracticeStat, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT pr.bank_id, qb.name, COUNT(*), AVG(pr.accuracy), MAX(pr.created_at)
		FROM practice_records pr
		JOIN question_banks qb ON pr.bank_id = qb.id
		GROUP BY pr.bank_id, qb.name
		ORDER BY MAX(pr.created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get practice stats: %w", err)
	}
	defer rows.Close()

	stats := []PracticeStat{}
	for rows.Next() {
		var s PracticeStat
		var avg sql.NullFloat64
		var last sql.NullString
		if err := rows.Scan(&s.BankID, &s.BankName, &s.PracticeCount, &avg, &last); err != nil {
			return nil, fmt.Errorf("failed to scan practice stat: %w", err)
		}
		s.AvgAccuracy = int(math.Round(avg.Float64))
		if last.Valid {
			s.LastPractice = parseSQLiteTime(last.String)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating practice stats: %w", err)
	}
	return stats, nil
}

// parseSQLiteTime parses a timestamp returned by an aggregate, which the
// driver hands back as text rather than time.Time
func parseSQLiteTime(s string) time.Time {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
