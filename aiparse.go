package questionbank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("```(?i:json)?\\s*([\\s\\S]*?)```")

// AIResponse is a model reply classified as structured question data or as
// a conversational reply
type AIResponse struct {
	Structured bool       `json:"structured"`
	Questions  []Question `json:"questions"`
	Reply      string     `json:"reply,omitempty"`
}

// ItemError describes why one item of a JSON import was rejected. Index is
// the 0-based position of the item in the submitted array.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

func (e ItemError) Error() string {
	return e.Message
}

// ExtractJSON returns the body of the first fenced code block in raw, or raw
// itself when there is none
func ExtractJSON(raw string) string {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// ParseAIResponse classifies a raw model reply. A reply that is (or fences)
// a JSON object is structured and its questions are normalized; anything
// else is returned as a plain reply.
func ParseAIResponse(raw string) AIResponse {
	body := ExtractJSON(raw)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return AIResponse{Questions: []Question{}, Reply: raw}
	}
	return AIResponse{Structured: true, Questions: NormalizeAIPayload([]byte(body))}
}

// NormalizeAIPayload reads a {"questions": [...]} payload into questions.
// Candidates that are not objects or whose type does not resolve are
// dropped. The result is normalized but not validated.
func NormalizeAIPayload(payload []byte) []Question {
	var envelope struct {
		Questions []json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		VerboseLog("ai payload has no question array: %v", err)
		return []Question{}
	}

	questions := make([]Question, 0, len(envelope.Questions))
	for _, raw := range envelope.Questions {
		c, ok := decodeCandidate(raw)
		if !ok {
			continue
		}
		t := NormalizeType(c.typeToken)
		if !t.Valid() {
			VerboseLog("dropping ai candidate with type %q", c.typeToken)
			continue
		}
		questions = append(questions, c.question(t))
	}
	return questions
}

// ParseJSONImport reads a JSON array (or a single object) of loosely typed
// questions with English or Chinese keys. Items without a type are short
// answer questions. Rejected items are reported by index and the rest are
// returned normalized.
func ParseJSONImport(data []byte) ([]Question, []ItemError, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("请输入 JSON 格式的题目数据")
	}

	var items []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, nil, fmt.Errorf("failed to parse json import: %w", err)
		}
	} else {
		if !json.Valid(data) {
			return nil, nil, fmt.Errorf("failed to parse json import: invalid JSON")
		}
		items = []json.RawMessage{data}
	}

	questions := make([]Question, 0, len(items))
	var itemErrs []ItemError
	reject := func(i int, format string, args ...interface{}) {
		itemErrs = append(itemErrs, ItemError{Index: i, Message: fmt.Sprintf(format, args...)})
	}

	for i, raw := range items {
		c, ok := decodeCandidate(raw)
		if !ok {
			reject(i, "第 %d 道题目格式无效", i+1)
			continue
		}

		t := TypeShort
		if c.typeToken != "" {
			t = NormalizeType(c.typeToken)
			if !t.Valid() {
				reject(i, "第 %d 道题目题型无效: %s", i+1, c.typeToken)
				continue
			}
		}

		if strings.TrimSpace(c.content) == "" {
			reject(i, "第 %d 道题目缺少题目内容", i+1)
			continue
		}

		q := c.question(t)
		if t == TypeFill {
			blanks := CountBlanks(q.Content)
			if blanks == 0 {
				reject(i, "第 %d 道填空题题干必须包含空栏标记（__或更多下划线）", i+1)
				continue
			}
			if n := len(strings.Split(q.Answer, "|")); n != blanks {
				reject(i, "第 %d 道填空题答案数量(%d)与空栏数量(%d)不匹配", i+1, n, blanks)
				continue
			}
		}
		questions = append(questions, q)
	}
	return questions, itemErrs, nil
}

// candidate is a question as a model or a user wrote it, before normalization
type candidate struct {
	typeToken string
	content   string
	options   []json.RawMessage
	answer    AnswerValue
	analysis  string
}

var (
	typeKeys     = []string{"type", "题型"}
	contentKeys  = []string{"content", "题目", "question", "题干"}
	optionsKeys  = []string{"options", "选项"}
	answerKeys   = []string{"answer", "答案"}
	analysisKeys = []string{"analysis", "解析"}
)

func decodeCandidate(raw json.RawMessage) (*candidate, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}

	c := &candidate{
		typeToken: strings.TrimSpace(rawText(pickField(fields, typeKeys))),
		content:   rawText(pickField(fields, contentKeys)),
		analysis:  rawText(pickField(fields, analysisKeys)),
	}
	if opts := pickField(fields, optionsKeys); len(opts) > 0 && opts[0] == '[' {
		json.Unmarshal(opts, &c.options)
	}
	// An explicit false or empty answer is still an answer, so the fallback
	// key is consulted only when the first one is absent.
	for _, key := range answerKeys {
		if v, ok := fields[key]; ok && !isNull(v) {
			if err := json.Unmarshal(v, &c.answer); err != nil {
				c.answer = TextAnswer(string(v))
			}
			break
		}
	}
	return c, true
}

// pickField returns the first of keys holding a non-empty value
func pickField(fields map[string]json.RawMessage, keys []string) json.RawMessage {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok || isNull(v) {
			continue
		}
		if rawText(v) == "" {
			continue
		}
		return v
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func (c *candidate) question(t QuestionType) Question {
	q := Question{
		Type:    t,
		Content: strings.TrimSpace(c.content),
		Answer:  NormalizeAnswer(t, c.answer, CountBlanks(c.content)),
	}
	if t.IsChoice() {
		q.Options = NormalizeOptions(c.options)
	}
	if a := strings.TrimSpace(c.analysis); a != "" {
		q.Analysis = stringPtr(a)
	}
	return q
}
