package questionbank

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxBankNameLength is the longest bank name accepted, in characters
const MaxBankNameLength = 50

var (
	blankPattern = regexp.MustCompile(`_{2,}`)
	validate     = validator.New()
)

// ValidationResult is the outcome of validating a question or bank name
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Err returns nil for a valid result and a *ValidationError otherwise
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}

func valid() ValidationResult {
	return ValidationResult{Valid: true, Errors: []string{}}
}

func invalid(format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf(format, args...)}}
}

// CountBlanks returns the number of fill-in blanks in content. A run of two or
// more underscores is one blank; a single underscore is not a blank.
func CountBlanks(content string) int {
	return len(blankPattern.FindAllStringIndex(content, -1))
}

type bankNameInput struct {
	Name string `validate:"required,max=50"`
}

// ValidateBankName checks a bank name is present, not blank and at most 50 characters
func ValidateBankName(name string) ValidationResult {
	if err := validate.Struct(bankNameInput{Name: name}); err != nil {
		var tag string
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			tag = verrs[0].Tag()
		}
		switch tag {
		case "required":
			return invalid("题库名称不能为空")
		case "max":
			if strings.TrimSpace(name) == "" {
				return invalid("题库名称不能仅包含空白字符")
			}
			return invalid("题库名称长度不能超过%d字符", MaxBankNameLength)
		default:
			return invalid("题库名称无效")
		}
	}
	if strings.TrimSpace(name) == "" {
		return invalid("题库名称不能仅包含空白字符")
	}
	return valid()
}

// ValidateQuestion checks q against the structural rules of its type.
// It stops at the first failing rule.
func ValidateQuestion(q *Question) ValidationResult {
	if q == nil {
		return invalid("题目数据无效")
	}

	if r := validateContent(q.Content); !r.Valid {
		return r
	}

	switch q.Type {
	case TypeSingle:
		return validateChoice(q, "单选题")
	case TypeMultiple:
		return validateChoice(q, "多选题")
	case TypeBoolean:
		return validateBoolean(q)
	case TypeFill:
		return validateFill(q)
	case TypeShort:
		return valid()
	default:
		return invalid("无效的题型")
	}
}

func validateContent(content string) ValidationResult {
	if content == "" {
		return invalid("题干内容不能为空")
	}
	if strings.TrimSpace(content) == "" {
		return invalid("题干内容不能仅包含空白字符")
	}
	return valid()
}

func validateChoice(q *Question, label string) ValidationResult {
	if len(q.Options) < 2 {
		return invalid("%s至少需要2个选项", label)
	}

	ids := make(map[string]bool, len(q.Options))
	for i, opt := range q.Options {
		if opt.ID == "" || opt.Text == "" {
			return invalid("选项 %d 格式无效", i+1)
		}
		if strings.TrimSpace(opt.Text) == "" {
			return invalid("选项 %s 内容不能为空", opt.ID)
		}
		if ids[opt.ID] {
			return invalid("选项 %s 重复", opt.ID)
		}
		ids[opt.ID] = true
	}

	answer := strings.TrimSpace(q.Answer)
	if answer == "" {
		return invalid("%s必须设置正确答案", label)
	}

	answerIDs := splitAnswerIDs(answer)
	if len(answerIDs) < 1 {
		return invalid("%s必须至少选择一个正确答案", label)
	}

	if q.Type == TypeSingle {
		if len(answerIDs) > 1 {
			return invalid("单选题只能有一个答案")
		}
		if !ids[answerIDs[0]] {
			return invalid("答案必须是有效的选项")
		}
		return valid()
	}

	seen := make(map[string]bool, len(answerIDs))
	for _, id := range answerIDs {
		if !ids[id] {
			return invalid("答案 \"%s\" 不是有效的选项", id)
		}
		if seen[id] {
			return invalid("答案 \"%s\" 重复", id)
		}
		seen[id] = true
	}
	return valid()
}

func validateBoolean(q *Question) ValidationResult {
	if strings.TrimSpace(q.Answer) == "" {
		return invalid("判断题必须设置正确答案")
	}
	if q.Answer != AnswerTrue && q.Answer != AnswerFalse {
		return invalid("判断题答案必须是\"%s\"或\"%s\"", AnswerTrue, AnswerFalse)
	}
	return valid()
}

func validateFill(q *Question) ValidationResult {
	blanks := CountBlanks(q.Content)
	if blanks == 0 {
		return invalid("填空题题干中必须包含至少一个空栏标记（__或更多下划线）")
	}

	if strings.TrimSpace(q.Answer) == "" {
		return invalid("填空题必须设置答案")
	}

	segments := strings.Split(q.Answer, "|")
	if len(segments) != blanks {
		return invalid("答案数量(%d)与空栏数量(%d)不匹配", len(segments), blanks)
	}
	for i, s := range segments {
		if strings.TrimSpace(s) == "" {
			return invalid("第 %d 个空的答案不能为空", i+1)
		}
	}
	return valid()
}

// splitAnswerIDs splits a pipe-joined choice answer, dropping empty segments
func splitAnswerIDs(answer string) []string {
	parts := strings.Split(answer, "|")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
