package questionbank

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CSVHeaders is the fixed column order of question CSV files
var CSVHeaders = []string{"题型", "题干", "选项A", "选项B", "选项C", "选项D", "选项E", "选项F", "答案", "解析"}

const (
	colType     = 0
	colContent  = 1
	colOptionA  = 2
	colAnswer   = 8
	colAnalysis = 9
	csvColumns  = 10
)

const utf8BOM = "\uFEFF"

// RowError describes why one CSV row was rejected. Row is the 1-based
// position of the row in the grid, header included.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CSVParseResult holds the accepted questions and the per-row errors of a
// CSV batch
type CSVParseResult struct {
	Valid     []Question `json:"valid"`
	Errors    []RowError `json:"errors"`
	TotalRows int        `json:"totalRows"`

	// ValidRows holds the grid row number of each accepted question
	ValidRows []int `json:"-"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("第 %d 行: %s", e.Row, e.Message)
}

// ParseCSV reads CSV text and parses its rows. A leading UTF-8 BOM is
// ignored. Framing errors are reported as row errors with an empty field.
func ParseCSV(r io.Reader) CSVParseResult {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && string(head) == utf8BOM {
		br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	var framing []RowError
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				framing = append(framing, RowError{Row: len(rows) + 1, Message: fmt.Sprintf("CSV解析错误: %v", perr.Err)})
				continue
			}
			framing = append(framing, RowError{Row: len(rows) + 1, Message: fmt.Sprintf("CSV解析错误: %v", err)})
			break
		}
		rows = append(rows, record)
	}

	result := ParseRows(rows)
	result.Errors = append(framing, result.Errors...)
	return result
}

// ParseRows maps a grid of cells to questions. A first row whose first cell
// is the 题型 header is skipped, blank rows are skipped and not counted, and
// every malformed row contributes one error without stopping the batch.
func ParseRows(rows [][]string) CSVParseResult {
	result := CSVParseResult{Valid: []Question{}, Errors: []RowError{}}
	if len(rows) == 0 {
		return result
	}

	start := 0
	if len(rows[0]) > 0 && strings.TrimSpace(strings.TrimPrefix(rows[0][0], utf8BOM)) == CSVHeaders[colType] {
		start = 1
	}

	for i := start; i < len(rows); i++ {
		if blankRow(rows[i]) {
			continue
		}
		result.TotalRows++

		q, rowErr := parseRow(rows[i], i+1)
		if rowErr != nil {
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		result.Valid = append(result.Valid, *q)
		result.ValidRows = append(result.ValidRows, i+1)
	}
	return result
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseRow(row []string, rowNum int) (*Question, *RowError) {
	cells := make([]string, csvColumns)
	for i := 0; i < csvColumns && i < len(row); i++ {
		cells[i] = strings.TrimSpace(row[i])
	}
	fail := func(field, format string, args ...interface{}) (*Question, *RowError) {
		return nil, &RowError{Row: rowNum, Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if cells[colType] == "" {
		return fail("题型", "题型不能为空")
	}
	qtype := NormalizeType(cells[colType])
	if !qtype.Valid() {
		return fail("题型", "无效的题型: %s", cells[colType])
	}

	content := cells[colContent]
	if content == "" {
		return fail("题干", "题干不能为空")
	}

	blanks := CountBlanks(content)
	answer := cells[colAnswer]
	if qtype != TypeShort {
		answer = NormalizeAnswer(qtype, TextAnswer(answer), blanks)
	}

	q := &Question{Type: qtype, Content: content, Answer: answer}
	if cells[colAnalysis] != "" {
		q.Analysis = stringPtr(cells[colAnalysis])
	}

	switch qtype {
	case TypeSingle, TypeMultiple:
		for i := 0; i < 6; i++ {
			if text := cells[colOptionA+i]; text != "" {
				q.Options = append(q.Options, Option{ID: OptionLetter(i), Text: text})
			}
		}
		if len(q.Options) < MinOptions {
			return fail("选项", "选择题至少需要%d个选项", MinOptions)
		}
		if answer == "" {
			return fail("答案", "选择题必须设置答案")
		}

		valid := make(map[string]bool, len(q.Options))
		for _, opt := range q.Options {
			valid[opt.ID] = true
		}
		ids := strings.Split(answer, "|")
		for _, id := range ids {
			if id = strings.TrimSpace(id); !valid[id] {
				return fail("答案", "答案 \"%s\" 不是有效的选项", id)
			}
		}
		if qtype == TypeSingle && len(ids) > 1 {
			return fail("答案", "单选题只能有一个答案")
		}

	case TypeBoolean:
		if answer == "" {
			return fail("答案", "判断题必须设置答案")
		}
		if answer != AnswerTrue && answer != AnswerFalse {
			return fail("答案", "判断题答案必须是\"%s\"或\"%s\"", AnswerTrue, AnswerFalse)
		}

	case TypeFill:
		if blanks == 0 {
			return fail("题干", "填空题题干必须包含空栏标记（__或更多下划线）")
		}
		if answer == "" {
			return fail("答案", "填空题必须设置答案")
		}
		segments := strings.Split(answer, "|")
		if len(segments) != blanks {
			return fail("答案", "答案数量(%d)与空栏数量(%d)不匹配", len(segments), blanks)
		}
		for i, seg := range segments {
			if strings.TrimSpace(seg) == "" {
				return fail("答案", "第 %d 个空的答案不能为空", i+1)
			}
		}
	}

	return q, nil
}

var templateRows = [][]string{
	{"单选题", "以下哪个是JavaScript的基本数据类型？", "String", "Array", "Object", "Function", "", "", "A", "字符串是JavaScript的基本数据类型"},
	{"多选题", "以下哪些是前端框架？", "React", "Vue", "Node.js", "Angular", "", "", "A|B|D", "React、Vue和Angular都是前端框架"},
	{"判断题", "JavaScript是一种强类型语言。", "", "", "", "", "", "", "错误", "JavaScript是弱类型语言"},
	{"填空题", "HTML的全称是___，CSS的全称是___。", "", "", "", "", "", "", "HyperText Markup Language|Cascading Style Sheets", ""},
	{"简答题", "请简述什么是闭包？", "", "", "", "", "", "", "闭包是指有权访问另一个函数作用域中变量的函数", ""},
}

// WriteTemplate writes the example import template
func WriteTemplate(w io.Writer) error {
	return writeQuotedCSV(w, templateRows)
}

// ExportCSV writes questions in the import column layout
func ExportCSV(w io.Writer, questions []Question) error {
	rows := make([][]string, 0, len(questions))
	for _, q := range questions {
		rows = append(rows, QuestionToRow(q))
	}
	return writeQuotedCSV(w, rows)
}

// QuestionToRow renders a question as one CSV row
func QuestionToRow(q Question) []string {
	row := make([]string, csvColumns)
	if label, ok := typeLabels[q.Type]; ok {
		row[colType] = label
	} else {
		row[colType] = string(q.Type)
	}
	row[colContent] = q.Content
	for _, opt := range q.Options {
		if len(opt.ID) == 1 && opt.ID[0] >= 'A' && opt.ID[0] <= 'F' {
			row[colOptionA+int(opt.ID[0]-'A')] = opt.Text
		}
	}
	row[colAnswer] = q.Answer
	if q.Analysis != nil {
		row[colAnalysis] = *q.Analysis
	}
	return row
}

// writeQuotedCSV writes a BOM, the header and rows with every field quoted,
// matching the legacy template files byte for byte.
func writeQuotedCSV(w io.Writer, rows [][]string) error {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	writeQuotedRecord(&buf, CSVHeaders)
	for _, row := range rows {
		buf.WriteString("\r\n")
		writeQuotedRecord(&buf, row)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func writeQuotedRecord(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
}
