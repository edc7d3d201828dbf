package questionbank

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// typeSynonyms maps accepted type tokens to canonical types. Read-only.
var typeSynonyms = map[string]QuestionType{
	"single":   TypeSingle,
	"单选题":      TypeSingle,
	"单选":       TypeSingle,
	"multiple": TypeMultiple,
	"多选题":      TypeMultiple,
	"多选":       TypeMultiple,
	"boolean":  TypeBoolean,
	"判断题":      TypeBoolean,
	"判断":       TypeBoolean,
	"fill":     TypeFill,
	"填空题":      TypeFill,
	"填空":       TypeFill,
	"short":    TypeShort,
	"简答题":      TypeShort,
	"简答":       TypeShort,
}

// typeLabels is the on-the-wire CSV vocabulary. Read-only.
var typeLabels = map[QuestionType]string{
	TypeSingle:   "单选题",
	TypeMultiple: "多选题",
	TypeBoolean:  "判断题",
	TypeFill:     "填空题",
	TypeShort:    "简答题",
}

// Boolean synonym tables, keyed by lowercased token. Read-only.
var (
	truthyAnswers = map[string]bool{
		AnswerTrue: true, "对": true, "true": true, "是": true, "yes": true, "√": true, "1": true,
	}
	falsyAnswers = map[string]bool{
		AnswerFalse: true, "错": true, "false": true, "否": true, "no": true, "×": true, "0": true,
	}
)

var (
	multipleSeparators = regexp.MustCompile(`[，,、\s]+`)
	fillSeparators     = regexp.MustCompile(`[,，、;；]+`)
	letterRun          = regexp.MustCompile(`^[A-Z]+$`)
	optionMarker       = regexp.MustCompile(`^([A-Z])[.、．]\s*(.+)$`)
)

// NormalizeType resolves a type token, canonical or localized, to a
// QuestionType. Unknown tokens are returned trimmed but otherwise unchanged.
func NormalizeType(token string) QuestionType {
	token = strings.TrimSpace(token)
	if t, ok := typeSynonyms[token]; ok {
		return t
	}
	return QuestionType(token)
}

type answerKind int

const (
	answerNone answerKind = iota
	answerText
	answerList
	answerFlag
)

// AnswerValue holds an answer as it arrived from a loosely typed source:
// a string, a list of strings, a boolean or nothing at all.
type AnswerValue struct {
	kind answerKind
	text string
	list []string
	flag bool
}

// TextAnswer wraps a string answer
func TextAnswer(s string) AnswerValue {
	return AnswerValue{kind: answerText, text: s}
}

// ListAnswer wraps an answer given as separate tokens
func ListAnswer(items ...string) AnswerValue {
	return AnswerValue{kind: answerList, list: items}
}

// FlagAnswer wraps a JSON boolean answer
func FlagAnswer(b bool) AnswerValue {
	return AnswerValue{kind: answerFlag, flag: b}
}

// IsZero reports whether no answer was given
func (a AnswerValue) IsZero() bool {
	return a.kind == answerNone
}

// String renders the answer as text; lists are joined with "|"
func (a AnswerValue) String() string {
	switch a.kind {
	case answerText:
		return a.text
	case answerList:
		return strings.Join(a.list, "|")
	case answerFlag:
		return strconv.FormatBool(a.flag)
	}
	return ""
}

// UnmarshalJSON accepts strings, numbers, booleans, arrays and null
func (a *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = AnswerValue{}
		return nil
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		list := make([]string, 0, len(items))
		for _, item := range items {
			list = append(list, rawText(item))
		}
		*a = ListAnswer(list...)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*a = FlagAnswer(b)
	default:
		*a = TextAnswer(rawText(data))
	}
	return nil
}

// rawText renders a JSON scalar as plain text: strings are unquoted,
// null is empty and anything else keeps its literal form.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// NormalizeAnswer converts an answer into the canonical grammar of type t.
// blanks is the number of blanks in the question content and only matters
// for fill questions. Normalizing an already normalized answer is a no-op.
func NormalizeAnswer(t QuestionType, v AnswerValue, blanks int) string {
	switch t {
	case TypeSingle:
		return strings.ToUpper(strings.TrimSpace(v.String()))
	case TypeMultiple:
		return normalizeMultipleAnswer(v)
	case TypeBoolean:
		return normalizeBooleanAnswer(v)
	case TypeFill:
		return normalizeFillAnswer(v, blanks)
	default:
		return v.String()
	}
}

func normalizeMultipleAnswer(v AnswerValue) string {
	s := strings.ToUpper(strings.TrimSpace(v.String()))
	if s == "" {
		return ""
	}
	s = multipleSeparators.ReplaceAllString(s, "|")

	seen := make(map[string]bool)
	tokens := make([]string, 0, 4)
	add := func(tok string) {
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// "ABC" means A, B and C
		if len(part) > 1 && letterRun.MatchString(part) {
			for _, r := range part {
				add(string(r))
			}
			continue
		}
		add(part)
	}
	return strings.Join(tokens, "|")
}

func normalizeBooleanAnswer(v AnswerValue) string {
	if v.kind == answerFlag {
		if v.flag {
			return AnswerTrue
		}
		return AnswerFalse
	}

	s := strings.TrimSpace(v.String())
	key := strings.ToLower(s)
	switch {
	case truthyAnswers[key]:
		return AnswerTrue
	case falsyAnswers[key]:
		return AnswerFalse
	}
	return s
}

func normalizeFillAnswer(v AnswerValue, blanks int) string {
	if v.kind == answerList {
		return strings.Join(v.list, "|")
	}
	s := v.String()
	// A single blank's answer may itself contain commas, so it is never split.
	if blanks > 1 && !strings.Contains(s, "|") {
		return fillSeparators.ReplaceAllString(s, "|")
	}
	return s
}

// NormalizeOptions converts loosely typed option items into options. Items
// may be {"id", "text"} objects or strings like "A. text"; other items are
// dropped. Missing ids default to the item's positional letter.
func NormalizeOptions(raw []json.RawMessage) []Option {
	options := make([]Option, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		switch item[0] {
		case '{':
			var obj struct {
				ID   json.RawMessage `json:"id"`
				Text json.RawMessage `json:"text"`
			}
			if err := json.Unmarshal(item, &obj); err != nil {
				continue
			}
			id := strings.ToUpper(strings.TrimSpace(rawText(obj.ID)))
			if id == "" {
				id = OptionLetter(i)
			}
			options = append(options, Option{ID: id, Text: rawText(obj.Text)})
		case '"':
			options = append(options, optionFromText(rawText(item), i))
		}
	}
	return options
}

// NormalizeOptionTexts converts bare option strings into options
func NormalizeOptionTexts(texts []string) []Option {
	options := make([]Option, 0, len(texts))
	for i, text := range texts {
		options = append(options, optionFromText(text, i))
	}
	return options
}

func optionFromText(text string, index int) Option {
	text = strings.TrimSpace(text)
	if m := optionMarker.FindStringSubmatch(text); m != nil {
		return Option{ID: m[1], Text: strings.TrimSpace(m[2])}
	}
	return Option{ID: OptionLetter(index), Text: text}
}
