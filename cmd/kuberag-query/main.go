// Command kuberag-query answers a single Kubernetes question from the
// command line: it runs the question through the full pipeline and prints
// the answer with its relevance verdict, token usage, and cost.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/kuberag/kuberag/internal/commands"
	"github.com/kuberag/kuberag/internal/config"
	"github.com/kuberag/kuberag/internal/domain"
	"github.com/kuberag/kuberag/internal/ports"
	"github.com/kuberag/kuberag/internal/store"
)

type CLI struct {
	Question  string `arg:"" help:"The Kubernetes question to answer."`
	SessionID string `help:"Session identifier for conversation history. A random one is generated when empty."`
	NoPersist bool   `help:"Skip saving the conversation to the local database." default:"false"`
	JSON      bool   `help:"Print the full result as JSON instead of formatted text." default:"false"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"warn" env:"LOG_LEVEL"`
}

func (c *CLI) Run() error {
	logger, err := commands.NewLogger(c.LogLevel)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	orchestrator, err := commands.BuildOrchestrator(cfg, logger, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := orchestrator.Query(ctx, c.Question)
	if err != nil {
		var perr *domain.PipelineError
		if errors.As(err, &perr) && perr.Remedy != "" {
			return fmt.Errorf("%w\nhint: %s", err, perr.Remedy)
		}
		return err
	}

	if !c.NoPersist {
		if err := c.persist(ctx, cfg, result); err != nil {
			// Persistence is best-effort; the answer was produced.
			logger.Warn("failed to save conversation", "err", err)
		}
	}

	if c.JSON {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	c.printResult(result)
	return nil
}

func (c *CLI) persist(ctx context.Context, cfg *config.Config, result *domain.QueryResult) error {
	sessionID := c.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	db, err := store.New(cfg.DataDir, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.SaveConversation(ctx, ports.ConversationRecord{
		SessionID: sessionID,
		Question:  c.Question,
		Result:    result,
		Timestamp: time.Now(),
	})
}

func (c *CLI) printResult(result *domain.QueryResult) {
	fmt.Println(result.Answer)
	fmt.Println()
	fmt.Printf("relevance:     %s (%s)\n", result.Relevance, result.RelevanceExplanation)
	fmt.Printf("response time: %.2fs\n", result.ResponseTime)
	fmt.Printf("tokens:        %d prompt / %d completion / %d eval",
		result.PromptTokens, result.CompletionTokens, result.EvalTotalTokens)
	if result.RewriteTokens > 0 {
		fmt.Printf(" / %d rewrite", result.RewriteTokens)
	}
	fmt.Println()
	fmt.Printf("cost:          $%s\n", result.Cost.StringFixed(6))
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("kuberag-query"),
		kong.Description("Ask a Kubernetes question against the indexed documentation corpus."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(cli.Run())
}
