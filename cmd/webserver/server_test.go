package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"questionbank"

	"golang.org/x/time/rate"
)

func newTestServer(t *testing.T, limiter *rate.Limiter) (*httptest.Server, *http.Client) {
	t.Helper()
	db, err := questionbank.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	s := &Server{
		cfg:       &questionbank.Config{},
		db:        db,
		store:     newSessionStore([]byte("0123456789abcdef0123456789abcdef")),
		drafts:    questionbank.NewDraftPool(5),
		aiLimiter: limiter,
	}
	srv := httptest.NewServer(observe(s.routes()))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return srv, &http.Client{Jar: jar}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// call sends body (JSON encoded unless it is a string) and decodes the
// response data into out
func call(t *testing.T, c *http.Client, method, url string, body interface{}, out interface{}) (int, envelope) {
	t.Helper()
	var r io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
		contentType = "text/csv"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode: %v", method, url, err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("%s %s: decode data: %v", method, url, err)
		}
	}
	return resp.StatusCode, env
}

func TestPracticeFlow(t *testing.T) {
	srv, c := newTestServer(t, nil)
	base := srv.URL + "/api"

	var bank questionbank.Bank
	if status, env := call(t, c, "POST", base+"/banks", map[string]string{"name": "练习"}, &bank); status != http.StatusCreated {
		t.Fatalf("create bank: %d %s", status, env.Error)
	}
	bankURL := base + "/banks/" + itoa(bank.ID)

	csv := "题型,题干,选项A,选项B,选项C,选项D,选项E,选项F,答案,解析\n" +
		"单选题,首都,北京,上海,,,,,A,\n" +
		"判断题,地球是圆的,,,,,,,对,\n" +
		"未知,坏行,,,,,,,,\n"
	var result questionbank.ImportResult
	if status, env := call(t, c, "POST", bankURL+"/import/csv", csv, &result); status != http.StatusOK {
		t.Fatalf("import: %d %s", status, env.Error)
	}
	if result.Success != 2 || result.Failed != 1 || result.Errors[0].Index != 4 {
		t.Errorf("import result = %+v", result)
	}

	var page questionbank.Page[questionbank.Question]
	call(t, c, "GET", bankURL+"/questions?pageSize=1", nil, &page)
	if page.Total != 2 || len(page.Data) != 1 || page.TotalPages != 2 {
		t.Errorf("questions page = %+v", page)
	}

	var view questionView
	status, env := call(t, c, "POST", base+"/practice", map[string]interface{}{"bankId": bank.ID}, &view)
	if status != http.StatusOK {
		t.Fatalf("start practice: %d %s", status, env.Error)
	}
	if view.Index != 1 || view.Total != 2 {
		t.Errorf("first view = %+v", view)
	}
	if bytes.Contains(env.Data, []byte(`"answer"`)) {
		t.Errorf("practice view leaks the answer: %s", env.Data)
	}

	var current questionView
	call(t, c, "GET", base+"/practice/current", nil, &current)
	if current.ID != view.ID {
		t.Errorf("current question %d, want %d", current.ID, view.ID)
	}

	var answer answerResult
	for i := 0; i < 2; i++ {
		if status, env := call(t, c, "POST", base+"/practice/answer", map[string]string{"answer": "不知道"}, &answer); status != http.StatusOK {
			t.Fatalf("answer %d: %d %s", i, status, env.Error)
		}
		if answer.Correct {
			t.Errorf("answer %d graded correct", i)
		}
	}
	if !answer.Finished || answer.Summary == nil || answer.Summary.Total != 2 || answer.Summary.Wrong != 2 {
		t.Errorf("final answer = %+v", answer)
	}

	if status, _ := call(t, c, "GET", base+"/practice/current", nil, nil); status != http.StatusNotFound {
		t.Errorf("finished practice still current: %d", status)
	}

	var wrong questionbank.Page[questionbank.WrongBookItem]
	call(t, c, "GET", base+"/wrongbook?bankId="+itoa(bank.ID), nil, &wrong)
	if wrong.Total != 2 {
		t.Errorf("wrong book = %+v", wrong)
	}

	var records []questionbank.PracticeRecord
	call(t, c, "GET", base+"/practice/records?bankId="+itoa(bank.ID), nil, &records)
	if len(records) != 1 || records[0].Accuracy != 0 {
		t.Errorf("records = %+v", records)
	}
}

func TestErrorStatuses(t *testing.T) {
	srv, c := newTestServer(t, nil)
	base := srv.URL + "/api"

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing bank", "GET", "/banks/999", nil, http.StatusNotFound},
		{"bad id", "GET", "/banks/abc", nil, http.StatusBadRequest},
		{"blank bank name", "POST", "/banks", map[string]string{"name": " "}, http.StatusBadRequest},
		{"threshold out of range", "PUT", "/settings/threshold", map[string]int{"threshold": 0}, http.StatusBadRequest},
		{"ai without key", "POST", "/ai/parse", map[string]string{"content": "x"}, http.StatusBadRequest},
		{"missing draft", "GET", "/drafts/nope", nil, http.StatusNotFound},
		{"no practice", "POST", "/practice/answer", map[string]string{"answer": "A"}, http.StatusNotFound},
		{"missing question", "GET", "/questions/5", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call(t, c, tt.method, base+tt.path, tt.body, nil)
			if status != tt.want {
				t.Errorf("status = %d, want %d (%s)", status, tt.want, env.Error)
			}
			if env.Success || env.Error == "" {
				t.Errorf("envelope = %+v", env)
			}
		})
	}
}

func TestThresholdRoundTrip(t *testing.T) {
	srv, c := newTestServer(t, nil)
	url := srv.URL + "/api/settings/threshold"

	call(t, c, "PUT", url, map[string]int{"threshold": 7}, nil)
	var got map[string]int
	call(t, c, "GET", url, nil, &got)
	if got["threshold"] != 7 {
		t.Errorf("threshold = %v", got)
	}
}

func TestAIRateLimit(t *testing.T) {
	srv, c := newTestServer(t, rate.NewLimiter(0, 1))
	url := srv.URL + "/api/ai/test"

	if status, _ := call(t, c, "POST", url, nil, nil); status != http.StatusBadRequest {
		t.Errorf("first call = %d, want 400 for the missing key", status)
	}
	status, env := call(t, c, "POST", url, nil, nil)
	if status != http.StatusTooManyRequests || env.Error != "请求过于频繁，请稍后再试" {
		t.Errorf("second call = %d %q", status, env.Error)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, c := newTestServer(t, nil)
	call(t, c, "GET", srv.URL+"/api/banks", nil, nil)

	resp, err := c.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `qbank_http_requests_total{endpoint="GET /api/banks",method="GET",status="200"}`) {
		t.Errorf("metrics missing the request counter:\n%s", body)
	}
}

func TestCSVTemplateDownload(t *testing.T) {
	srv, c := newTestServer(t, nil)
	resp, err := c.Get(srv.URL + "/api/csv/template")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment; filename*=UTF-8''") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestSessionCookieOptions(t *testing.T) {
	srv, c := newTestServer(t, nil)
	base := srv.URL + "/api"

	var bank questionbank.Bank
	call(t, c, "POST", base+"/banks", map[string]string{"name": "cookie"}, &bank)
	call(t, c, "POST", base+"/banks/"+itoa(bank.ID)+"/questions",
		map[string]interface{}{"type": "boolean", "content": "对吗", "answer": "对"}, nil)

	req, err := http.NewRequest("POST", base+"/practice", strings.NewReader(`{"bankId": `+itoa(bank.ID)+`}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cookie := resp.Header.Get("Set-Cookie")
	if !strings.HasPrefix(cookie, "practice-session=") || strings.Contains(cookie, "Secure") || !strings.Contains(cookie, "SameSite=Lax") {
		t.Errorf("Set-Cookie = %q", cookie)
	}
	u, _ := url.Parse(srv.URL)
	if len(c.Jar.Cookies(u)) != 1 {
		t.Errorf("cookie jar holds %v", c.Jar.Cookies(u))
	}
}
