package questionbank

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents a question bank database connection
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// QuestionFilter selects questions of one bank
type QuestionFilter struct {
	BankID  int64
	Keyword string
	Type    QuestionType
	Offset  int
	Limit   int
}

// OpenDB opens a database and creates the schema if needed. Use ":memory:"
// for a throwaway database.
func OpenDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single-user store; one connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &DB{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.CreateTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.db.Close()
}

// CreateTables creates the necessary tables if they don't exist
func (db *DB) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS question_banks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bank_id INTEGER NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('single', 'multiple', 'boolean', 'fill', 'short')),
			content TEXT NOT NULL,
			options TEXT,
			answer TEXT NOT NULL,
			analysis TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (bank_id) REFERENCES question_banks(id)
		)`,
		`CREATE TABLE IF NOT EXISTS wrong_book (
			question_id INTEGER PRIMARY KEY,
			bank_id INTEGER NOT NULL,
			wrong_count INTEGER NOT NULL DEFAULT 0,
			correct_count INTEGER NOT NULL DEFAULT 0,
			added_at DATETIME NOT NULL,
			last_wrong_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS operation_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS practice_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bank_id INTEGER NOT NULL,
			total INTEGER NOT NULL,
			correct INTEGER NOT NULL,
			wrong INTEGER NOT NULL,
			accuracy INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_bank_id ON questions(bank_id)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_type ON questions(type)`,
		`CREATE INDEX IF NOT EXISTS idx_wrong_book_bank_id ON wrong_book(bank_id)`,
		`CREATE INDEX IF NOT EXISTS idx_wrong_book_last_wrong_at ON wrong_book(last_wrong_at)`,
		`CREATE INDEX IF NOT EXISTS idx_practice_bank_id ON practice_records(bank_id)`,
	}

	for _, query := range queries {
		if _, err := db.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing when it returns nil
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// banks

// CreateBank validates the name and creates a bank
func (db *DB) CreateBank(ctx context.Context, name, description string) (*Bank, error) {
	if err := ValidateBankName(name).Err(); err != nil {
		return nil, err
	}
	now := db.now()
	res, err := db.db.ExecContext(ctx,
		"INSERT INTO question_banks (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)",
		strings.TrimSpace(name), description, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bank: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read bank id: %w", err)
	}
	return db.GetBank(ctx, id)
}

const bankColumns = `qb.id, qb.name, COALESCE(qb.description, ''), qb.created_at, qb.updated_at,
	(SELECT COUNT(*) FROM questions q WHERE q.bank_id = qb.id)`

func scanBank(row interface{ Scan(...interface{}) error }) (*Bank, error) {
	var b Bank
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &b.CreatedAt, &b.UpdatedAt, &b.QuestionCount); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBank retrieves a bank with its question count
func (db *DB) GetBank(ctx context.Context, id int64) (*Bank, error) {
	b, err := scanBank(db.db.QueryRowContext(ctx,
		"SELECT "+bankColumns+" FROM question_banks qb WHERE qb.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBankNotFound
		}
		return nil, fmt.Errorf("failed to get bank: %w", err)
	}
	return b, nil
}

// ListBanks retrieves all banks, most recently updated first
func (db *DB) ListBanks(ctx context.Context) ([]Bank, error) {
	rows, err := db.db.QueryContext(ctx,
		"SELECT "+bankColumns+" FROM question_banks qb ORDER BY qb.updated_at DESC, qb.id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to get banks: %w", err)
	}
	defer rows.Close()

	banks := []Bank{}
	for rows.Next() {
		b, err := scanBank(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank: %w", err)
		}
		banks = append(banks, *b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating banks: %w", err)
	}
	return banks, nil
}

// UpdateBank validates the name and updates a bank
func (db *DB) UpdateBank(ctx context.Context, id int64, name, description string) (*Bank, error) {
	if err := ValidateBankName(name).Err(); err != nil {
		return nil, err
	}
	res, err := db.db.ExecContext(ctx,
		"UPDATE question_banks SET name = ?, description = ?, updated_at = ? WHERE id = ?",
		strings.TrimSpace(name), description, db.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update bank: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrBankNotFound
	}
	return db.GetBank(ctx, id)
}

// DeleteBank deletes a bank together with its questions, their wrong book
// entries and the bank's practice records
func (db *DB) DeleteBank(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		statements := []string{
			"DELETE FROM wrong_book WHERE bank_id = ? OR question_id IN (SELECT id FROM questions WHERE bank_id = ?)",
			"DELETE FROM questions WHERE bank_id = ?",
			"DELETE FROM practice_records WHERE bank_id = ?",
		}
		for i, stmt := range statements {
			args := []interface{}{id}
			if i == 0 {
				args = append(args, id)
			}
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("failed to delete bank contents: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM question_banks WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete bank: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrBankNotFound
		}
		return nil
	})
}

func touchBank(ctx context.Context, q querier, bankID int64, now time.Time) error {
	if _, err := q.ExecContext(ctx, "UPDATE question_banks SET updated_at = ? WHERE id = ?", now, bankID); err != nil {
		return fmt.Errorf("failed to touch bank: %w", err)
	}
	return nil
}

// questions

const questionColumns = "id, bank_id, type, content, options, answer, analysis, created_at, updated_at"

func scanQuestion(row interface{ Scan(...interface{}) error }) (*Question, error) {
	var q Question
	var options, analysis sql.NullString
	if err := row.Scan(&q.ID, &q.BankID, &q.Type, &q.Content, &options, &q.Answer, &analysis, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	if options.Valid && options.String != "" {
		opts, err := JSONToOptions(options.String)
		if err != nil {
			return nil, err
		}
		q.Options = opts
	}
	if analysis.Valid {
		q.Analysis = stringPtr(analysis.String)
	}
	return &q, nil
}

func collectQuestions(rows *sql.Rows) ([]Question, error) {
	defer rows.Close()
	questions := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

// questionArgs renders the stored columns of q. Options are kept only for
// choice types and a blank analysis is stored as NULL.
func questionArgs(q *Question) (options, analysis interface{}, err error) {
	if q.Type.IsChoice() && len(q.Options) > 0 {
		s, err := OptionsToJSON(q.Options)
		if err != nil {
			return nil, nil, err
		}
		options = s
	}
	if q.Analysis != nil && strings.TrimSpace(*q.Analysis) != "" {
		analysis = *q.Analysis
	}
	return options, analysis, nil
}

// CreateQuestion validates q and stores it in bank bankID
func (db *DB) CreateQuestion(ctx context.Context, bankID int64, q *Question) (*Question, error) {
	if err := ValidateQuestion(q).Err(); err != nil {
		return nil, err
	}
	options, analysis, err := questionArgs(q)
	if err != nil {
		return nil, err
	}

	var id int64
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM question_banks WHERE id = ?)", bankID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check bank: %w", err)
		}
		if !exists {
			return ErrBankNotFound
		}

		now := db.now()
		res, err := tx.ExecContext(ctx,
			"INSERT INTO questions (bank_id, type, content, options, answer, analysis, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			bankID, string(q.Type), strings.TrimSpace(q.Content), options, q.Answer, analysis, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to create question: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read question id: %w", err)
		}
		return touchBank(ctx, tx, bankID, now)
	})
	if err != nil {
		return nil, err
	}
	return db.GetQuestion(ctx, id)
}

// GetQuestion retrieves a question by ID
func (db *DB) GetQuestion(ctx context.Context, id int64) (*Question, error) {
	q, err := scanQuestion(db.db.QueryRowContext(ctx, "SELECT "+questionColumns+" FROM questions WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

// UpdateQuestion validates q and replaces the stored question id. The bank
// of a question is not changed by an update.
func (db *DB) UpdateQuestion(ctx context.Context, id int64, q *Question) (*Question, error) {
	if err := ValidateQuestion(q).Err(); err != nil {
		return nil, err
	}
	options, analysis, err := questionArgs(q)
	if err != nil {
		return nil, err
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var bankID int64
		if err := tx.QueryRowContext(ctx, "SELECT bank_id FROM questions WHERE id = ?", id).Scan(&bankID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrQuestionNotFound
			}
			return fmt.Errorf("failed to get question: %w", err)
		}

		now := db.now()
		if _, err := tx.ExecContext(ctx,
			"UPDATE questions SET type = ?, content = ?, options = ?, answer = ?, analysis = ?, updated_at = ? WHERE id = ?",
			string(q.Type), strings.TrimSpace(q.Content), options, q.Answer, analysis, now, id,
		); err != nil {
			return fmt.Errorf("failed to update question: %w", err)
		}
		return touchBank(ctx, tx, bankID, now)
	})
	if err != nil {
		return nil, err
	}
	return db.GetQuestion(ctx, id)
}

// DeleteQuestions deletes questions by ID and returns how many were removed.
// Their wrong book entries are swept on the next wrong book read.
func (db *DB) DeleteQuestions(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var deleted int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT DISTINCT bank_id FROM questions WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return fmt.Errorf("failed to get question banks: %w", err)
		}
		var bankIDs []int64
		for rows.Next() {
			var bankID int64
			if err := rows.Scan(&bankID); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan bank id: %w", err)
			}
			bankIDs = append(bankIDs, bankID)
		}
		rows.Close()

		res, err := tx.ExecContext(ctx, "DELETE FROM questions WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return fmt.Errorf("failed to delete questions: %w", err)
		}
		deleted, _ = res.RowsAffected()

		now := db.now()
		for _, bankID := range bankIDs {
			if err := touchBank(ctx, tx, bankID, now); err != nil {
				return err
			}
		}
		return nil
	})
	return int(deleted), err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (f QuestionFilter) where() (string, []interface{}) {
	clause := "WHERE bank_id = ?"
	args := []interface{}{f.BankID}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		clause += ` AND content LIKE ? ESCAPE '\'`
		args = append(args, "%"+likeEscaper.Replace(kw)+"%")
	}
	if f.Type != "" {
		clause += " AND type = ?"
		args = append(args, string(f.Type))
	}
	return clause, args
}

// SearchQuestions retrieves the questions matching filter, newest first. A
// non-positive Limit returns every match.
func (db *DB) SearchQuestions(ctx context.Context, f QuestionFilter) ([]Question, error) {
	where, args := f.where()
	query := "SELECT " + questionColumns + " FROM questions " + where + " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search questions: %w", err)
	}
	return collectQuestions(rows)
}

// CountQuestions counts the questions matching filter, ignoring paging
func (db *DB) CountQuestions(ctx context.Context, f QuestionFilter) (int, error) {
	where, args := f.where()
	var count int
	if err := db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM questions "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return count, nil
}

// SearchQuestionPage runs a filtered search as a 1-based page
func (db *DB) SearchQuestionPage(ctx context.Context, f QuestionFilter, page, pageSize int) (Page[Question], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	f.Offset, f.Limit = (page-1)*pageSize, pageSize

	questions, err := db.SearchQuestions(ctx, f)
	if err != nil {
		return Page[Question]{}, err
	}
	total, err := db.CountQuestions(ctx, f)
	if err != nil {
		return Page[Question]{}, err
	}
	return NewPage(questions, total, page, pageSize), nil
}

// QuestionTypeCounts counts questions per type, in one bank or overall
func (db *DB) QuestionTypeCounts(ctx context.Context, bankID *int64) ([]TypeCount, error) {
	query := "SELECT type, COUNT(*) FROM questions"
	var args []interface{}
	if bankID != nil {
		query += " WHERE bank_id = ?"
		args = append(args, *bankID)
	}
	query += " GROUP BY type ORDER BY type"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count question types: %w", err)
	}
	defer rows.Close()

	counts := []TypeCount{}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		counts = append(counts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating type counts: %w", err)
	}
	return counts, nil
}

// OptionsToJSON converts options to their stored JSON form
func OptionsToJSON(options []Option) (string, error) {
	data, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("failed to marshal options: %w", err)
	}
	return string(data), nil
}

// JSONToOptions converts stored JSON back to options
func JSONToOptions(optionsJSON string) ([]Option, error) {
	var options []Option
	if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return options, nil
}
