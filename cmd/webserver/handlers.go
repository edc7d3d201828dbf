package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"questionbank"
)

type bankRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleListBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := s.db.ListBanks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, banks)
}

func (s *Server) handleCreateBank(w http.ResponseWriter, r *http.Request) {
	var req bankRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bank, err := s.db.CreateBank(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bank)
}

func (s *Server) handleGetBank(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bank, err := s.db.GetBank(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, bank)
}

func (s *Server) handleUpdateBank(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req bankRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bank, err := s.db.UpdateBank(r.Context(), id, req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, bank)
}

func (s *Server) handleDeleteBank(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.db.DeleteBank(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleBankStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	counts, err := s.db.QuestionTypeCounts(r.Context(), &id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, counts)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bank, err := s.db.GetBank(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	questions, err := s.db.SearchQuestions(r.Context(), questionbank.QuestionFilter{BankID: id})
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := questionbank.ExportCSV(&buf, questions); err != nil {
		writeError(w, err)
		return
	}
	writeCSV(w, bank.Name+"_题目导出.csv", buf.Bytes())
}

func (s *Server) handleCSVTemplate(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := questionbank.WriteTemplate(&buf); err != nil {
		writeError(w, err)
		return
	}
	writeCSV(w, "题目导入模板.csv", buf.Bytes())
}

func writeCSV(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))
	w.Write(data)
}

// questions

func (s *Server) handleSearchQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	f := questionbank.QuestionFilter{BankID: id, Keyword: r.URL.Query().Get("keyword")}
	if t := r.URL.Query().Get("type"); t != "" {
		f.Type = questionbank.NormalizeType(t)
	}
	page, err := s.db.SearchQuestionPage(r.Context(), f, queryInt(r, "page", 1), queryInt(r, "pageSize", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, page)
}

func (s *Server) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	bankID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var q questionbank.Question
	if !decodeBody(w, r, &q) {
		return
	}
	created, err := s.db.CreateQuestion(r.Context(), bankID, &q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	q, err := s.db.GetQuestion(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, q)
}

func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var q questionbank.Question
	if !decodeBody(w, r, &q) {
		return
	}
	updated, err := s.db.UpdateQuestion(r.Context(), id, &q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, updated)
}

func (s *Server) handleDeleteQuestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := s.db.DeleteQuestions(r.Context(), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]int{"deleted": n})
}

func (s *Server) handleValidateQuestion(w http.ResponseWriter, r *http.Request) {
	var q questionbank.Question
	if !decodeBody(w, r, &q) {
		return
	}
	writeOK(w, questionbank.ValidateQuestion(&q))
}

// import

// readUpload returns the "file" part of a multipart form, or the raw body
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	if err := r.ParseMultipartForm(10 << 20); err == nil {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeFail(w, http.StatusBadRequest, "missing file")
			return nil, false
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeFail(w, http.StatusBadRequest, "failed to read file")
			return nil, false
		}
		return data, true
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	return data, true
}

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	bankID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	data, ok := readUpload(w, r)
	if !ok {
		return
	}
	im, err := s.importer(r.Context(), false, r.URL.Query().Get("skipDuplicates") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := im.ImportCSV(r.Context(), bankID, bytes.NewReader(data))
	if err != nil && result.Failed == 0 {
		writeError(w, err)
		return
	}
	recordImport("csv", result)
	writeOK(w, result)
}

func (s *Server) handleImportJSON(w http.ResponseWriter, r *http.Request) {
	bankID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	data, ok := readUpload(w, r)
	if !ok {
		return
	}
	im, err := s.importer(r.Context(), false, r.URL.Query().Get("skipDuplicates") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := im.ImportJSON(r.Context(), bankID, data)
	if err != nil && result.Failed == 0 {
		writeError(w, err)
		return
	}
	recordImport("json", result)
	writeOK(w, result)
}

// handleAIParse parses text into a draft the client reviews before commit.
// A conversational reply comes back as a draft without questions.
func (s *Server) handleAIParse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankID  int64  `json:"bankId"`
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	im, err := s.importer(r.Context(), true, false)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := im.ParseAIText(r.Context(), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}

	draft := &questionbank.Draft{BankID: req.BankID, Source: "ai", Questions: resp.Questions}
	if !resp.Structured {
		draft.Reply = resp.Reply
	}
	s.drafts.Add(draft)
	writeOK(w, draft)
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.drafts.List())
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.drafts.Get(r.PathValue("id"))
	if !ok {
		writeFail(w, http.StatusNotFound, "draft not found")
		return
	}
	writeOK(w, draft)
}

// handleCommitDraft imports a draft. The client may send edited questions
// and a different target bank.
func (s *Server) handleCommitDraft(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.drafts.Get(r.PathValue("id"))
	if !ok {
		writeFail(w, http.StatusNotFound, "draft not found")
		return
	}
	var req struct {
		BankID         int64                   `json:"bankId"`
		Questions      []questionbank.Question `json:"questions"`
		SkipDuplicates bool                    `json:"skipDuplicates"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	bankID := draft.BankID
	if req.BankID > 0 {
		bankID = req.BankID
	}
	questions := draft.Questions
	if req.Questions != nil {
		questions = req.Questions
	}

	im, err := s.importer(r.Context(), false, req.SkipDuplicates)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := im.Import(r.Context(), bankID, questions)
	if err != nil {
		writeError(w, err)
		return
	}
	recordImport(draft.Source, result)
	s.drafts.Remove(draft.ID)
	writeOK(w, result)
}

func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	s.drafts.Remove(r.PathValue("id"))
	writeOK(w, nil)
}

// ai

func (s *Server) handleAIChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages     []questionbank.ChatMessage `json:"messages"`
		SystemPrompt string                     `json:"systemPrompt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	client, err := s.aiClient(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	reply, err := client.Chat(r.Context(), req.Messages, req.SystemPrompt)
	if err != nil {
		writeFail(w, http.StatusBadGateway, err.Error())
		return
	}
	writeOK(w, questionbank.ChatMessage{Role: "assistant", Content: reply})
}

func (s *Server) handleAITest(w http.ResponseWriter, r *http.Request) {
	var cfg questionbank.AIConfig
	if r.ContentLength != 0 && !decodeBody(w, r, &cfg) {
		return
	}
	var client *questionbank.AIClient
	var err error
	if cfg.APIKey != "" {
		client, err = questionbank.NewAIClient(cfg)
	} else {
		client, err = s.aiClient(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if err := client.TestConnection(r.Context()); err != nil {
		writeFail(w, http.StatusBadGateway, err.Error())
		return
	}
	writeOK(w, map[string]string{"message": "连接成功"})
}

// settings

func (s *Server) handleGetAIConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.db.GetAIConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, cfg)
}

func (s *Server) handleSetAIConfig(w http.ResponseWriter, r *http.Request) {
	var cfg questionbank.AIConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := s.db.SetAIConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	n, err := s.db.GetWrongBookThreshold(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]int{"threshold": n})
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold int `json:"threshold"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.db.SetWrongBookThreshold(r.Context(), req.Threshold); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]int{"threshold": req.Threshold})
}

func (s *Server) handleOperationLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.db.OperationLogs(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, logs)
}

// wrong book

func (s *Server) handleListWrongBook(w http.ResponseWriter, r *http.Request) {
	page, err := s.db.WrongBookPage(r.Context(), queryBank(r), queryInt(r, "page", 1), queryInt(r, "pageSize", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, page)
}

func (s *Server) handleWrongBookCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.WrongBookCountsByBank(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, counts)
}

func (s *Server) handleRandomWrong(w http.ResponseWriter, r *http.Request) {
	questions, err := s.db.RandomWrongQuestions(r.Context(), queryBank(r), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, questions)
}

// handleApplyResults feeds practice results graded by the client into the
// wrong book
func (s *Server) handleApplyResults(w http.ResponseWriter, r *http.Request) {
	var results []questionbank.PracticeResult
	if !decodeBody(w, r, &results) {
		return
	}
	threshold, err := s.db.GetWrongBookThreshold(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.db.ApplyPracticeResults(r.Context(), results, threshold); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleRemoveWrong(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "questionId")
	if !ok {
		return
	}
	if err := s.db.RemoveWrongBookItem(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleClearWrongBook(w http.ResponseWriter, r *http.Request) {
	n, err := s.db.ClearWrongBook(r.Context(), queryBank(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]int{"removed": n})
}
