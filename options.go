package questionbank

import (
	"fmt"
	"sort"
	"strings"
)

const (
	MinOptions = 2
	MaxOptions = 8
)

// OptionLetter returns the positional option id for index i (0 -> "A")
func OptionLetter(i int) string {
	return string(rune('A' + i))
}

// ReletterOptions assigns contiguous positional ids to options in order.
// It returns a map from the old ids to the new ones.
func ReletterOptions(options []Option) ([]Option, map[string]string) {
	out := make([]Option, len(options))
	mapping := make(map[string]string, len(options))
	for i, opt := range options {
		newID := OptionLetter(i)
		mapping[opt.ID] = newID
		out[i] = Option{ID: newID, Text: opt.Text}
	}
	return out, mapping
}

// AddOption appends an option lettered after the existing ones
func (q *Question) AddOption(text string) error {
	if !q.Type.IsChoice() {
		return fmt.Errorf("%s没有选项", q.Type.Label())
	}
	if len(q.Options) >= MaxOptions {
		return fmt.Errorf("最多%d个选项", MaxOptions)
	}
	q.Options = append(q.Options, Option{ID: OptionLetter(len(q.Options)), Text: text})
	return nil
}

// RemoveOption deletes the option at index, re-letters the remainder and
// remaps the answer: the removed id disappears and later ids shift down.
func (q *Question) RemoveOption(index int) error {
	if !q.Type.IsChoice() {
		return fmt.Errorf("%s没有选项", q.Type.Label())
	}
	if index < 0 || index >= len(q.Options) {
		return fmt.Errorf("选项索引 %d 超出范围", index)
	}
	if len(q.Options) <= MinOptions {
		return fmt.Errorf("至少需要%d个选项", MinOptions)
	}

	removedID := q.Options[index].ID
	remaining := make([]Option, 0, len(q.Options)-1)
	remaining = append(remaining, q.Options[:index]...)
	remaining = append(remaining, q.Options[index+1:]...)

	relettered, mapping := ReletterOptions(remaining)
	q.Options = relettered
	q.Answer = remapAnswer(q.Type, q.Answer, mapping, removedID, false)
	return nil
}

// remapAnswer rewrites the option ids of a choice answer through mapping.
// Ids equal to removedID are dropped; unknown ids are kept as they are.
func remapAnswer(t QuestionType, answer string, mapping map[string]string, removedID string, sorted bool) string {
	ids := splitAnswerIDs(answer)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if removedID != "" && id == removedID {
			continue
		}
		if newID, ok := mapping[id]; ok {
			out = append(out, newID)
			continue
		}
		out = append(out, id)
	}
	if t == TypeMultiple && sorted {
		sort.Strings(out)
	}
	if t == TypeSingle && len(out) > 1 {
		out = out[:1]
	}
	return strings.Join(out, "|")
}
