package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"questionbank"
)

const usage = `Usage: qbank [global flags] <command> [flags]

Commands:
  banks                      list banks
  create-bank -name -desc    create a bank
  delete-bank -bank          delete a bank with its questions
  questions -bank            list questions (-keyword, -type, -page, -size)
  template -output           write the CSV import template
  import-csv -bank -file     import a CSV file
  import-json -bank -file    import a JSON array of questions
  import-ai -bank -file      parse free text with the AI endpoint and import it
  export -bank -output       export a bank as CSV
  practice -bank -n          practice interactively
  wrongbook [-bank]          list the wrong book
  wrongbook-clear [-bank]    clear the wrong book
  threshold [-set n]         show or set the wrong book removal threshold
  ai-config                  show or set the AI endpoint (-key, -url, -model, -provider)
  ai-test                    test the AI endpoint
  logs [-n]                  show the operation log
`

type app struct {
	cfg     *questionbank.Config
	db      *questionbank.DB
	jsonOut bool
}

func main() {
	var (
		configDir = flag.String("config", ".", "Directory holding config.yaml")
		dbPath    = flag.String("db", "", "SQLite database path (overrides config)")
		verbose   = flag.Bool("verbose", false, "Enable verbose debugging output")
		jsonOut   = flag.Bool("json", false, "Print listings as JSON")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := questionbank.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	cfg.Log.Console = false
	if err := questionbank.InitLogger(cfg.Log); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer questionbank.Log.Sync()
	questionbank.SetVerbose(*verbose)

	db, err := questionbank.OpenDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := db.SeedWrongBookThreshold(ctx, cfg.WrongBook.Threshold); err != nil {
		log.Fatalf("Failed to seed settings: %v", err)
	}

	a := &app{cfg: cfg, db: db, jsonOut: *jsonOut}
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	bankID := fs.Int64("bank", 0, "Bank ID")

	switch cmd {
	case "banks":
		fs.Parse(args)
		return a.listBanks(ctx)

	case "create-bank":
		name := fs.String("name", "", "Bank name (required)")
		desc := fs.String("desc", "", "Bank description")
		fs.Parse(args)
		bank, err := a.db.CreateBank(ctx, *name, *desc)
		if err != nil {
			return err
		}
		fmt.Printf("Created bank %d: %s\n", bank.ID, bank.Name)
		return nil

	case "delete-bank":
		fs.Parse(args)
		if err := a.db.DeleteBank(ctx, *bankID); err != nil {
			return err
		}
		fmt.Printf("Deleted bank %d\n", *bankID)
		return nil

	case "questions":
		keyword := fs.String("keyword", "", "Filter by keyword")
		qtype := fs.String("type", "", "Filter by question type")
		page := fs.Int("page", 1, "Page number")
		size := fs.Int("size", 20, "Page size")
		fs.Parse(args)
		return a.listQuestions(ctx, *bankID, *keyword, *qtype, *page, *size)

	case "template":
		output := fs.String("output", "questions_template.csv", "Output CSV file")
		fs.Parse(args)
		return writeFile(*output, questionbank.WriteTemplate)

	case "import-csv", "import-json", "import-ai":
		file := fs.String("file", "", "Input file (required)")
		skipDup := fs.Bool("skip-duplicates", false, "Skip questions already in the bank")
		fs.Parse(args)
		return a.importFile(ctx, cmd, *bankID, *file, *skipDup)

	case "export":
		output := fs.String("output", "", "Output CSV file (required)")
		fs.Parse(args)
		if _, err := a.db.GetBank(ctx, *bankID); err != nil {
			return err
		}
		questions, err := a.db.SearchQuestions(ctx, questionbank.QuestionFilter{BankID: *bankID})
		if err != nil {
			return err
		}
		if err := writeFile(*output, func(w io.Writer) error { return questionbank.ExportCSV(w, questions) }); err != nil {
			return err
		}
		fmt.Printf("Exported %d questions to: %s\n", len(questions), *output)
		return nil

	case "practice":
		n := fs.Int("n", 10, "Number of questions")
		wrongOnly := fs.Bool("wrong", false, "Practice questions from the wrong book")
		fs.Parse(args)
		return a.practice(ctx, *bankID, *n, *wrongOnly)

	case "wrongbook":
		page := fs.Int("page", 1, "Page number")
		fs.Parse(args)
		return a.listWrongBook(ctx, bankFlag(*bankID), *page)

	case "wrongbook-clear":
		fs.Parse(args)
		n, err := a.db.ClearWrongBook(ctx, bankFlag(*bankID))
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d wrong book entries\n", n)
		return nil

	case "threshold":
		set := fs.Int("set", 0, "New threshold (1-999)")
		fs.Parse(args)
		if *set != 0 {
			if err := a.db.SetWrongBookThreshold(ctx, *set); err != nil {
				return err
			}
		}
		n, err := a.db.GetWrongBookThreshold(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Wrong book removal threshold: %d\n", n)
		return nil

	case "ai-config":
		key := fs.String("key", "", "API key")
		url := fs.String("url", "", "API base URL")
		model := fs.String("model", "", "Model ID")
		provider := fs.String("provider", "", "Provider (openai, anthropic, gemini, custom)")
		fs.Parse(args)
		return a.aiConfig(ctx, *key, *url, *model, *provider)

	case "ai-test":
		fs.Parse(args)
		client, err := a.aiClient(ctx)
		if err != nil {
			return err
		}
		if err := client.TestConnection(ctx); err != nil {
			return err
		}
		fmt.Println("✅ AI endpoint reachable")
		return nil

	case "logs":
		n := fs.Int("n", 10, "Number of entries")
		fs.Parse(args)
		logs, err := a.db.OperationLogs(ctx, *n)
		if err != nil {
			return err
		}
		for _, l := range logs {
			fmt.Printf("%s  %-8s %s\n", l.CreatedAt.Local().Format("2006-01-02 15:04:05"), l.Action, l.Detail)
		}
		return nil
	}

	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func bankFlag(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func writeFile(path string, write func(w io.Writer) error) error {
	if path == "" {
		return errors.New("output file is required. Use -output flag")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (a *app) listBanks(ctx context.Context) error {
	banks, err := a.db.ListBanks(ctx)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return printJSON(banks)
	}
	if len(banks) == 0 {
		fmt.Println("No banks yet. Create one with: qbank create-bank -name <name>")
		return nil
	}
	for _, b := range banks {
		fmt.Printf("%4d  %-30s %4d questions  %s\n", b.ID, b.Name, b.QuestionCount, b.Description)
	}
	return nil
}

func (a *app) listQuestions(ctx context.Context, bankID int64, keyword, qtype string, page, size int) error {
	f := questionbank.QuestionFilter{BankID: bankID, Keyword: keyword}
	if qtype != "" {
		f.Type = questionbank.NormalizeType(qtype)
	}
	result, err := a.db.SearchQuestionPage(ctx, f, page, size)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return printJSON(result)
	}
	for _, q := range result.Data {
		fmt.Printf("#%d [%s] %s\n", q.ID, q.Type.Label(), q.Content)
	}
	fmt.Printf("Page %d/%d, %d questions\n", result.Page, result.TotalPages, result.Total)
	return nil
}

func (a *app) aiClient(ctx context.Context) (*questionbank.AIClient, error) {
	stored, err := a.db.GetAIConfig(ctx)
	if err != nil {
		return nil, err
	}
	// config file and environment fill in what the settings table lacks
	if stored.APIKey == "" {
		stored.APIKey = a.cfg.AI.APIKey
		stored.BaseURL = a.cfg.AI.BaseURL
		stored.Model = a.cfg.AI.Model
		stored.Provider = a.cfg.AI.Provider
	}
	return questionbank.NewAIClient(stored)
}

func (a *app) aiConfig(ctx context.Context, key, url, model, provider string) error {
	cfg, err := a.db.GetAIConfig(ctx)
	if err != nil {
		return err
	}
	if key != "" || url != "" || model != "" || provider != "" {
		if key != "" {
			cfg.APIKey = key
		}
		if url != "" {
			cfg.BaseURL = url
		}
		if model != "" {
			cfg.Model = model
		}
		if provider != "" {
			cfg.Provider = provider
		}
		if err := a.db.SetAIConfig(ctx, cfg); err != nil {
			return err
		}
	}

	masked := "(not set)"
	if cfg.APIKey != "" {
		masked = strings.Repeat("*", 8) + cfg.APIKey[max(0, len(cfg.APIKey)-4):]
	}
	fmt.Printf("API key:  %s\nBase URL: %s\nModel:    %s\nProvider: %s (%s)\n",
		masked, cfg.BaseURL, cfg.Model, cfg.Provider, cfg.ResolvedProvider())
	return nil
}

func (a *app) importFile(ctx context.Context, cmd string, bankID int64, file string, skipDup bool) error {
	if file == "" {
		return errors.New("input file is required. Use -file flag")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	var importer *questionbank.Importer
	if cmd == "import-ai" {
		client, err := a.aiClient(ctx)
		if err != nil {
			return err
		}
		importer = questionbank.NewImporter(a.db, client)
		importer.LLMLogDir = a.cfg.Server.LLMLogDir
	} else {
		importer = questionbank.NewImporter(a.db, nil)
	}
	importer.SkipDuplicates = skipDup

	var result questionbank.ImportResult
	switch cmd {
	case "import-csv":
		result, err = importer.ImportCSV(ctx, bankID, bytes.NewReader(data))
	case "import-json":
		result, err = importer.ImportJSON(ctx, bankID, data)
	default:
		fmt.Println("⏳ Parsing with AI... (this may take a moment)")
		result, err = importer.ImportAIText(ctx, bankID, string(data))
	}

	for _, e := range result.Errors {
		fmt.Printf("  ❌ %d: %s\n", e.Index, e.Message)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d questions, %d failed, %d duplicates skipped\n", result.Success, result.Failed, result.Skipped)
	return nil
}

func (a *app) listWrongBook(ctx context.Context, bankID *int64, page int) error {
	result, err := a.db.WrongBookPage(ctx, bankID, page, 20)
	if err != nil {
		return err
	}
	threshold, err := a.db.GetWrongBookThreshold(ctx)
	if err != nil {
		return err
	}
	for _, item := range result.Data {
		fmt.Printf("#%d [%s] %s\n    wrong %d, correct %d/%d, last wrong %s\n",
			item.QuestionID, item.Question.Type.Label(), item.Question.Content,
			item.WrongCount, item.CorrectCount, threshold,
			item.LastWrongAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Printf("Page %d/%d, %d entries\n", result.Page, result.TotalPages, result.Total)
	return nil
}

func (a *app) practice(ctx context.Context, bankID int64, n int, wrongOnly bool) error {
	var questions []questionbank.Question
	var err error
	if wrongOnly {
		questions, err = a.db.RandomWrongQuestions(ctx, bankFlag(bankID), n)
	} else {
		if _, err := a.db.GetBank(ctx, bankID); err != nil {
			return err
		}
		questions, err = a.db.SearchQuestions(ctx, questionbank.QuestionFilter{BankID: bankID})
	}
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return errors.New("no questions to practice")
	}

	questions = questionbank.PreparePractice(questions, time.Now().UnixNano())
	if n > 0 && len(questions) > n {
		questions = questions[:n]
	}

	fmt.Printf("🎯 Practice: %d questions\n\n", len(questions))
	scanner := bufio.NewScanner(os.Stdin)
	results := make([]questionbank.PracticeResult, 0, len(questions))

	for i, q := range questions {
		fmt.Printf("Question %d/%d [%s]:\n%s\n\n", i+1, len(questions), q.Type.Label(), q.Content)
		for _, o := range q.Options {
			fmt.Printf("%s) %s\n", o.ID, o.Text)
		}
		fmt.Print(answerPrompt(q.Type))
		scanner.Scan()

		correct := questionbank.Grade(q, questionbank.TextAnswer(scanner.Text()))
		if correct {
			fmt.Println("✅ Correct!")
		} else {
			fmt.Printf("❌ Incorrect. The correct answer is %s\n", q.Answer)
		}
		if q.Analysis != nil {
			fmt.Printf("💡 Analysis: %s\n", *q.Analysis)
		}
		fmt.Println()
		fmt.Println(strings.Repeat("─", 50))
		fmt.Println()

		results = append(results, questionbank.PracticeResult{QuestionID: q.ID, BankID: q.BankID, IsCorrect: correct})
	}

	summary := questionbank.Summarize(bankID, results)
	fmt.Printf("🎉 Practice completed! %d/%d correct (%d%%)\n", summary.Correct, summary.Total, summary.Accuracy)

	if bankID > 0 {
		if _, err := a.db.SavePracticeRecord(ctx, summary); err != nil {
			return err
		}
	}
	threshold, err := a.db.GetWrongBookThreshold(ctx)
	if err != nil {
		return err
	}
	return a.db.ApplyPracticeResults(ctx, results, threshold)
}

func answerPrompt(t questionbank.QuestionType) string {
	switch t {
	case questionbank.TypeSingle:
		return "Your answer (letter): "
	case questionbank.TypeMultiple:
		return "Your answer (letters, e.g. AC): "
	case questionbank.TypeBoolean:
		return "Your answer (正确/错误): "
	case questionbank.TypeFill:
		return "Your answer (blanks separated by |): "
	}
	return "Your answer: "
}

// printJSON is used by commands that emit machine readable output
func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
