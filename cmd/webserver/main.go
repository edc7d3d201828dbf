package main

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"questionbank"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const sessionName = "practice-session"

type Server struct {
	cfg       *questionbank.Config
	db        *questionbank.DB
	store     *sessions.CookieStore
	drafts    *questionbank.DraftPool
	aiLimiter *rate.Limiter
}

func init() {
	gob.Register(PracticeSession{})
	gob.Register(questionbank.PracticeResult{})
}

func main() {
	var (
		configDir = flag.String("config", ".", "Directory holding config.yaml")
		verbose   = flag.Bool("verbose", false, "Enable verbose debugging output")
	)
	flag.Parse()

	cfg, err := questionbank.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := questionbank.InitLogger(cfg.Log); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer questionbank.Log.Sync()
	questionbank.SetVerbose(*verbose)
	logger := questionbank.Log

	db, err := questionbank.OpenDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.SeedWrongBookThreshold(context.Background(), cfg.WrongBook.Threshold); err != nil {
		logger.Fatal("failed to seed settings", zap.Error(err))
	}

	secret := []byte(cfg.Server.SessionSecret)
	if len(secret) == 0 {
		// sessions do not survive a restart without a configured secret
		secret = securecookie.GenerateRandomKey(32)
		logger.Warn("no session secret configured, using a random key")
	}

	server := &Server{
		cfg:       cfg,
		db:        db,
		store:     newSessionStore(secret),
		drafts:    questionbank.NewDraftPool(20),
		aiLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.Server.AIRequestsPerMinute)), cfg.Server.AIRequestsPerMinute),
	}

	jobs := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := jobs.AddFunc(cfg.Server.CleanupSchedule, server.sweepWrongBook); err != nil {
		logger.Fatal("failed to schedule wrong book sweep", zap.Error(err))
	}
	jobs.Start()
	defer jobs.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           observe(server.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newSessionStore returns the practice cookie store. Cookies are not marked
// Secure since the server listens on plain HTTP.
func newSessionStore(secret []byte) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((12 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// banks
	mux.HandleFunc("GET /api/banks", s.handleListBanks)
	mux.HandleFunc("POST /api/banks", s.handleCreateBank)
	mux.HandleFunc("GET /api/banks/{id}", s.handleGetBank)
	mux.HandleFunc("PUT /api/banks/{id}", s.handleUpdateBank)
	mux.HandleFunc("DELETE /api/banks/{id}", s.handleDeleteBank)
	mux.HandleFunc("GET /api/banks/{id}/stats", s.handleBankStats)
	mux.HandleFunc("GET /api/banks/{id}/export", s.handleExportCSV)

	// questions
	mux.HandleFunc("GET /api/banks/{id}/questions", s.handleSearchQuestions)
	mux.HandleFunc("POST /api/banks/{id}/questions", s.handleCreateQuestion)
	mux.HandleFunc("GET /api/questions/{id}", s.handleGetQuestion)
	mux.HandleFunc("PUT /api/questions/{id}", s.handleUpdateQuestion)
	mux.HandleFunc("POST /api/questions/delete", s.handleDeleteQuestions)
	mux.HandleFunc("POST /api/questions/validate", s.handleValidateQuestion)

	// import
	mux.HandleFunc("GET /api/csv/template", s.handleCSVTemplate)
	mux.HandleFunc("POST /api/banks/{id}/import/csv", s.handleImportCSV)
	mux.HandleFunc("POST /api/banks/{id}/import/json", s.handleImportJSON)
	mux.HandleFunc("POST /api/ai/parse", limitAI(s.aiLimiter, s.handleAIParse))
	mux.HandleFunc("GET /api/drafts", s.handleListDrafts)
	mux.HandleFunc("GET /api/drafts/{id}", s.handleGetDraft)
	mux.HandleFunc("POST /api/drafts/{id}/commit", s.handleCommitDraft)
	mux.HandleFunc("DELETE /api/drafts/{id}", s.handleDiscardDraft)

	// ai
	mux.HandleFunc("POST /api/ai/chat", limitAI(s.aiLimiter, s.handleAIChat))
	mux.HandleFunc("POST /api/ai/test", limitAI(s.aiLimiter, s.handleAITest))

	// settings and logs
	mux.HandleFunc("GET /api/settings/ai", s.handleGetAIConfig)
	mux.HandleFunc("PUT /api/settings/ai", s.handleSetAIConfig)
	mux.HandleFunc("GET /api/settings/threshold", s.handleGetThreshold)
	mux.HandleFunc("PUT /api/settings/threshold", s.handleSetThreshold)
	mux.HandleFunc("GET /api/logs", s.handleOperationLogs)

	// wrong book
	mux.HandleFunc("GET /api/wrongbook", s.handleListWrongBook)
	mux.HandleFunc("GET /api/wrongbook/counts", s.handleWrongBookCounts)
	mux.HandleFunc("GET /api/wrongbook/random", s.handleRandomWrong)
	mux.HandleFunc("POST /api/wrongbook/results", s.handleApplyResults)
	mux.HandleFunc("DELETE /api/wrongbook/{questionId}", s.handleRemoveWrong)
	mux.HandleFunc("POST /api/wrongbook/clear", s.handleClearWrongBook)

	// practice
	mux.HandleFunc("POST /api/practice", s.handleStartPractice)
	mux.HandleFunc("GET /api/practice/current", s.handleCurrentQuestion)
	mux.HandleFunc("POST /api/practice/answer", s.handleAnswer)
	mux.HandleFunc("DELETE /api/practice", s.handleAbandonPractice)
	mux.HandleFunc("GET /api/practice/records", s.handlePracticeRecords)
	mux.HandleFunc("GET /api/practice/stats", s.handlePracticeStats)

	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// sweepWrongBook drops wrong book rows whose question is gone
func (s *Server) sweepWrongBook() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.db.CleanupWrongBookOrphans(ctx); err != nil {
		questionbank.Log.Warn("wrong book sweep failed", zap.Error(err))
	}
}

type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Success: status < 400, Data: data}); err != nil {
		questionbank.Log.Warn("failed to encode response", zap.Error(err))
	}
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

// writeError maps store and domain errors to HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var verr *questionbank.ValidationError
	var cerr *questionbank.ConfigurationError
	switch {
	case errors.Is(err, questionbank.ErrBankNotFound), errors.Is(err, questionbank.ErrQuestionNotFound):
		status = http.StatusNotFound
	case errors.As(err, &verr), errors.As(err, &cerr),
		errors.Is(err, questionbank.ErrNoAPIKey),
		errors.Is(err, questionbank.ErrEmptyImport),
		errors.Is(err, questionbank.ErrEmptyContent),
		errors.Is(err, questionbank.ErrNoQuestionsParsed):
		status = http.StatusBadRequest
	default:
		questionbank.Log.Error("request failed", zap.Error(err))
	}
	writeFail(w, status, err.Error())
}

func writeFail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Success: false, Error: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFail(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeFail(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return v
	}
	return def
}

// queryBank reads an optional bankId query parameter
func queryBank(r *http.Request) *int64 {
	id, err := strconv.ParseInt(r.URL.Query().Get("bankId"), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

// aiClient builds a client from the stored settings, falling back to the
// config file when no key has been saved
func (s *Server) aiClient(ctx context.Context) (*questionbank.AIClient, error) {
	cfg, err := s.db.GetAIConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		cfg = s.cfg.AI
	}
	return questionbank.NewAIClient(cfg)
}

func (s *Server) importer(ctx context.Context, withAI, skipDuplicates bool) (*questionbank.Importer, error) {
	var client *questionbank.AIClient
	if withAI {
		var err error
		if client, err = s.aiClient(ctx); err != nil {
			return nil, err
		}
	}
	im := questionbank.NewImporter(s.db, client)
	im.SkipDuplicates = skipDuplicates
	im.LLMLogDir = s.cfg.Server.LLMLogDir
	return im, nil
}
