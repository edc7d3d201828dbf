package questionbank

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ImportResult reports a batch import. Errors are keyed by the position of
// the item in the submitted batch.
type ImportResult struct {
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Errors  []ItemError `json:"errors"`
	Created []Question  `json:"created,omitempty"`
}

// Importer validates parsed questions and stores them in a bank
type Importer struct {
	db *DB
	ai *AIClient

	// SkipDuplicates drops questions already present in the target bank or
	// repeated within the batch
	SkipDuplicates bool
	// LLMLogDir, when set, receives one log file per AI-assisted import
	LLMLogDir string
}

// NewImporter creates an importer. ai may be nil when AI import is not
// configured.
func NewImporter(db *DB, ai *AIClient) *Importer {
	return &Importer{db: db, ai: ai}
}

// Import stores every valid question of qs in the bank. Invalid items are
// reported in the result and never abort the batch.
func (im *Importer) Import(ctx context.Context, bankID int64, qs []Question) (ImportResult, error) {
	return im.importIndexed(ctx, bankID, qs, sequence(len(qs)), "导入题目")
}

func (im *Importer) importIndexed(ctx context.Context, bankID int64, qs []Question, indexes []int, action string) (ImportResult, error) {
	result := ImportResult{Errors: []ItemError{}}
	if len(qs) == 0 {
		return result, ErrEmptyImport
	}
	if _, err := im.db.GetBank(ctx, bankID); err != nil {
		return result, err
	}

	var dedup *Deduper
	if im.SkipDuplicates {
		existing, err := im.db.SearchQuestions(ctx, QuestionFilter{BankID: bankID})
		if err != nil {
			return result, err
		}
		dedup = NewDeduper(existing)
	}

	Log.Info("importing questions", zap.Int64("bankId", bankID), zap.Int("count", len(qs)))

	for i := range qs {
		q := qs[i]
		index := indexes[i]

		if v := ValidateQuestion(&q); !v.Valid {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Index: index, Message: v.Errors[0]})
			continue
		}
		if dedup != nil {
			if d := dedup.Check(q); d.IsDuplicate {
				result.Skipped++
				VerboseLog("skipping duplicate question %d: %s", index, d.Reason)
				continue
			}
		}

		created, err := im.db.CreateQuestion(ctx, bankID, &q)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				Log.Warn("failed to store imported question", zap.Int("index", index), zap.Error(err))
			}
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Index: index, Message: err.Error()})
			continue
		}
		result.Success++
		result.Created = append(result.Created, *created)
	}

	if result.Success > 0 {
		if err := im.db.AddOperationLog(ctx, action, fmt.Sprintf("导入 %d 道题目", result.Success)); err != nil {
			return result, err
		}
	}
	Log.Info("import finished",
		zap.Int64("bankId", bankID),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// ImportCSV parses a CSV file and imports its valid rows. Row errors are
// reported with their 1-based row number as the index.
func (im *Importer) ImportCSV(ctx context.Context, bankID int64, r io.Reader) (ImportResult, error) {
	parsed := ParseCSV(r)

	rowErrors := make([]ItemError, 0, len(parsed.Errors))
	for _, e := range parsed.Errors {
		rowErrors = append(rowErrors, ItemError{Index: e.Row, Message: e.Message})
	}
	if len(parsed.Valid) == 0 {
		return ImportResult{Failed: len(rowErrors), Errors: rowErrors}, ErrEmptyImport
	}

	result, err := im.importIndexed(ctx, bankID, parsed.Valid, parsed.ValidRows, "导入题目")
	result.Failed += len(rowErrors)
	result.Errors = append(rowErrors, result.Errors...)
	return result, err
}

// ImportJSON imports a JSON array of questions, reporting errors by the
// position of the item in the array
func (im *Importer) ImportJSON(ctx context.Context, bankID int64, data []byte) (ImportResult, error) {
	qs, itemErrs, err := ParseJSONImport(data)
	if err != nil {
		return ImportResult{Errors: []ItemError{}}, err
	}

	rejected := make(map[int]bool, len(itemErrs))
	for _, e := range itemErrs {
		rejected[e.Index] = true
	}
	indexes := make([]int, 0, len(qs))
	for i := 0; len(indexes) < len(qs); i++ {
		if !rejected[i] {
			indexes = append(indexes, i)
		}
	}

	if len(qs) == 0 {
		return ImportResult{Failed: len(itemErrs), Errors: itemErrs}, ErrEmptyImport
	}
	result, err := im.importIndexed(ctx, bankID, qs, indexes, "导入题目")
	result.Failed += len(itemErrs)
	result.Errors = append(itemErrs, result.Errors...)
	return result, err
}

// ParseAIText asks the model to structure text into questions without
// storing anything
func (im *Importer) ParseAIText(ctx context.Context, text string) (AIResponse, error) {
	if im.ai == nil {
		return AIResponse{}, ErrNoAPIKey
	}
	client := im.ai
	if im.LLMLogDir != "" {
		logger, err := NewLLMLogger(im.LLMLogDir, "AI 解析题目", client.cfg)
		if err != nil {
			Log.Warn("failed to create llm log", zap.Error(err))
		} else {
			defer logger.Close()
			scoped := *client
			scoped.SetLogger(logger)
			client = &scoped
		}
	}

	resp, err := client.ParseQuestionsWithAI(ctx, text)
	if err != nil {
		return AIResponse{}, err
	}
	if err := im.db.AddOperationLog(ctx, "AI解析", fmt.Sprintf("AI 解析了 %d 道题目", len(resp.Questions))); err != nil {
		return resp, err
	}
	return resp, nil
}

// ImportAIText parses text with the model and imports the resulting
// questions. A conversational reply instead of question data is
// ErrNoQuestionsParsed.
func (im *Importer) ImportAIText(ctx context.Context, bankID int64, text string) (ImportResult, error) {
	resp, err := im.ParseAIText(ctx, text)
	if err != nil {
		return ImportResult{Errors: []ItemError{}}, err
	}
	if !resp.Structured || len(resp.Questions) == 0 {
		return ImportResult{Errors: []ItemError{}}, ErrNoQuestionsParsed
	}
	return im.importIndexed(ctx, bankID, resp.Questions, sequence(len(resp.Questions)), "AI导入")
}

func sequence(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}
