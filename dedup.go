package questionbank

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Deduper detects questions already present in a bank or earlier in the
// same import batch
type Deduper struct {
	cache map[string]int64 // duplicate key -> id of the question holding it
}

// DedupResult represents the result of deduplication
type DedupResult struct {
	IsDuplicate bool   `json:"isDuplicate"`
	Reason      string `json:"reason"`
	DuplicateID int64  `json:"duplicateId,omitempty"`
}

// NewDeduper creates a deduper seeded with existing questions
func NewDeduper(existing []Question) *Deduper {
	d := &Deduper{cache: make(map[string]int64, len(existing))}
	for _, q := range existing {
		d.cache[DuplicateKey(q)] = q.ID
	}
	return d
}

// DuplicateKey identifies a question by type and content, ignoring case,
// whitespace, punctuation and full-width forms. Choice questions also
// include their option texts, so a shared stem with different options is
// not a duplicate.
func DuplicateKey(q Question) string {
	var b strings.Builder
	b.WriteString(string(q.Type))
	b.WriteByte(':')
	writeFolded(&b, q.Content)
	if q.Type.IsChoice() {
		for _, o := range q.Options {
			b.WriteByte('|')
			writeFolded(&b, o.Text)
		}
	}
	return b.String()
}

func writeFolded(b *strings.Builder, s string) {
	for _, r := range norm.NFKC.String(s) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
}

// Check reports whether q duplicates a known question. A question that is
// not a duplicate becomes known.
func (d *Deduper) Check(q Question) DedupResult {
	key := DuplicateKey(q)
	if id, ok := d.cache[key]; ok {
		if id == 0 {
			return DedupResult{IsDuplicate: true, Reason: "与本次导入的题目重复"}
		}
		return DedupResult{IsDuplicate: true, Reason: "题库中已存在相同题目", DuplicateID: id}
	}
	d.cache[key] = q.ID

	VerboseLog("question %q is new", truncate(q.Content, 40))
	return DedupResult{}
}
