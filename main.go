package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"course-rag/config"
	"course-rag/logger"
	"course-rag/rag"
)

const usage = `Usage: course-rag [-config rag.yaml] <command> [args]

Commands:
  merge              merge transcript chunks into passages (transcript_dir -> merged_dir)
  ingest             merge, embed and save the embeddings table
  ask [question]     answer one question from the table (reads stdin when no question is given)
  serve              serve /health, /query, /ask and /reload over HTTP
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one command and returns the process exit code. Deferred
// cleanup, including flushing the logger, runs before main exits.
func run(args []string) int {
	flags := flag.NewFlagSet("course-rag", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	skipFailed := flags.Bool("skip-failed", false, "ingest: leave out recordings the provider fails to embed")
	flags.Usage = func() { fmt.Fprint(flags.Output(), usage) }
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(cfg, log)

	switch cmd := flags.Arg(0); cmd {
	case "merge":
		n, err := app.Merge(ctx)
		if err != nil {
			log.Error("merge failed", "error", err)
			return 1
		}
		log.Info("merge done", "documents", n, "dir", cfg.MergedDir)
	case "ingest":
		start := time.Now()
		if _, err := app.Ingest(ctx, *skipFailed); err != nil {
			log.Error("ingest failed", "error", err)
			return 1
		}
		log.Info("ingest done", "took", time.Since(start))
	case "ask":
		question := strings.TrimSpace(strings.Join(flags.Args()[1:], " "))
		if question == "" {
			question = readQuestion()
		}
		if err := runAsk(ctx, app, question); err != nil {
			log.Error("ask failed", "error", err)
			return 1
		}
	case "serve":
		if err := runServer(ctx, app); err != nil {
			log.Error("server failed", "error", err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flags.Usage()
		return 2
	}
	return 0
}

func readQuestion() string {
	fmt.Print("Ask a question: ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line)
}

// runAsk saves the prompt before calling the model so it can be inspected
// even when generation fails.
func runAsk(ctx context.Context, app *App, question string) error {
	if question == "" {
		fmt.Println("No question provided. Exiting.")
		return nil
	}

	table, err := app.LoadTable()
	if err != nil {
		return err
	}
	ans, err := app.Ask(ctx, rag.NewInMemoryStore(table), question, app.cfg.TopK, false)
	if err != nil {
		return err
	}
	if err := os.WriteFile(app.cfg.PromptPath, []byte(ans.Prompt), 0o644); err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	app.log.Debug("prompt saved", "path", app.cfg.PromptPath, "results", len(ans.Results))

	text, err := app.generator.Generate(ctx, ans.Prompt)
	if err != nil {
		return fmt.Errorf("generate answer: %w", err)
	}

	fmt.Println("\n--- Model Response ---")
	fmt.Println(text)

	if err := os.WriteFile(app.cfg.ResponsePath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("save response: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, app *App) error {
	table, err := app.LoadTable()
	if err != nil {
		return err
	}
	if app.cfg.LogMode == "prod" || app.cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:    app.cfg.Addr,
		Handler: NewServer(app, rag.NewInMemoryStore(table)).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		app.log.Info("server running", "addr", app.cfg.Addr, "rows", table.Len())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		app.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
