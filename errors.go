package questionbank

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBankNotFound     = errors.New("题库不存在")
	ErrQuestionNotFound = errors.New("题目不存在")
	ErrNoAPIKey         = errors.New("请先在设置中配置 API Key")
	ErrEmptyImport      = errors.New("没有可导入的题目")
	ErrEmptyContent     = errors.New("请输入要解析的题目内容")

	ErrNoQuestionsParsed = errors.New("AI 未能识别出题目")
)

// ValidationError is returned by store operations when a record fails validation
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation failed"
	}
	return strings.Join(e.Errors, "; ")
}

// ConfigurationError reports a setting outside its allowed range
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Key, e.Message)
}
