package questionbank

import "testing"

func TestDuplicateKey(t *testing.T) {
	base := Question{Type: TypeSingle, Content: "以下哪个是质数？", Options: []Option{{ID: "A", Text: "4"}, {ID: "B", Text: "7"}}}

	same := []Question{
		{Type: TypeSingle, Content: "以下哪个是质数?", Options: base.Options},
		{Type: TypeSingle, Content: " 以下 哪个是质数？ ", Options: base.Options},
		{Type: TypeSingle, Content: "以下哪个是质数？", Options: []Option{{ID: "A", Text: "４"}, {ID: "B", Text: "7"}}},
	}
	for _, q := range same {
		if DuplicateKey(q) != DuplicateKey(base) {
			t.Errorf("%q should share a key with %q", q.Content, base.Content)
		}
	}

	different := []Question{
		{Type: TypeMultiple, Content: base.Content, Options: base.Options},
		{Type: TypeSingle, Content: base.Content, Options: []Option{{ID: "A", Text: "4"}, {ID: "B", Text: "9"}}},
		{Type: TypeSingle, Content: "以下哪个是偶数？", Options: base.Options},
	}
	for _, q := range different {
		if DuplicateKey(q) == DuplicateKey(base) {
			t.Errorf("%+v should not share a key with the base question", q)
		}
	}

	a := Question{Type: TypeShort, Content: "What is a Closure"}
	b := Question{Type: TypeShort, Content: "what is a closure?"}
	if DuplicateKey(a) != DuplicateKey(b) {
		t.Error("case and punctuation should not matter")
	}
}

func TestDeduperCheck(t *testing.T) {
	existing := []Question{{ID: 9, Type: TypeBoolean, Content: "地球是圆的"}}
	d := NewDeduper(existing)

	r := d.Check(Question{Type: TypeBoolean, Content: "地球是圆的。"})
	if !r.IsDuplicate || r.DuplicateID != 9 || r.Reason != "题库中已存在相同题目" {
		t.Errorf("stored duplicate = %+v", r)
	}

	fresh := Question{Type: TypeBoolean, Content: "月亮是方的"}
	if r := d.Check(fresh); r.IsDuplicate {
		t.Errorf("new question flagged: %+v", r)
	}
	r = d.Check(fresh)
	if !r.IsDuplicate || r.DuplicateID != 0 || r.Reason != "与本次导入的题目重复" {
		t.Errorf("batch duplicate = %+v", r)
	}
}
