// Command kuberag-index builds the search index: it loads the documentation
// corpus from a JSON file, embeds each document's title, text, and combined
// title+text, then creates the index and bulk-loads the documents.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kuberag/kuberag/infrastructure/search"
	"github.com/kuberag/kuberag/internal/commands"
	"github.com/kuberag/kuberag/internal/config"
	"github.com/kuberag/kuberag/internal/domain"
	"github.com/kuberag/kuberag/internal/ports"
)

type CLI struct {
	DocsFile    string `help:"Path to the documents JSON file." default:"data/docs-ids.json" env:"DOCS_PATH"`
	Concurrency int    `help:"Number of documents embedded concurrently." default:"8"`
	BatchSize   int    `help:"Documents per bulk indexing request." default:"200"`
	NoProgress  bool   `help:"Disable the progress bar." default:"false"`
	LogLevel    string `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	docs, err := loadDocuments(c.DocsFile)
	if err != nil {
		return err
	}
	logger.Info("loaded documents", "count", len(docs), "file", c.DocsFile)

	searchClient, err := commands.BuildSearchClient(cfg)
	if err != nil {
		return err
	}
	if err := waitForElasticsearch(ctx, searchClient, logger); err != nil {
		return err
	}

	embedder, err := commands.BuildEmbedder(cfg, logger)
	if err != nil {
		return err
	}

	if err := c.embedDocuments(ctx, embedder, docs, logger); err != nil {
		return err
	}

	if err := searchClient.CreateIndex(ctx, cfg.ElasticsearchIndex); err != nil {
		return err
	}
	logger.Info("index created", "index", cfg.ElasticsearchIndex)

	for start := 0; start < len(docs); start += c.BatchSize {
		end := min(start+c.BatchSize, len(docs))
		if err := searchClient.BulkIndex(ctx, cfg.ElasticsearchIndex, docs[start:end]); err != nil {
			return fmt.Errorf("indexing batch %d-%d: %w", start, end, err)
		}
	}

	count, err := searchClient.CountDocuments(ctx, cfg.ElasticsearchIndex)
	if err != nil {
		logger.Warn("could not verify document count", "err", err)
	} else {
		logger.Info("indexing complete", "indexed", count)
	}
	return nil
}

// loadDocuments reads the corpus file. Each entry must carry id, title,
// text, and source_file; vectors are filled in by embedDocuments.
func loadDocuments(path string) ([]domain.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading documents file: %w", err)
	}
	var docs []domain.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parsing documents file: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("documents file %q contains no documents", path)
	}
	return docs, nil
}

// waitForElasticsearch pings the cluster until it answers, matching the
// startup order of a compose stack where Elasticsearch may still be booting.
func waitForElasticsearch(ctx context.Context, client *search.Client, logger *log.Logger) error {
	return retry.Do(
		func() error { return client.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("waiting for elasticsearch", "attempt", n+1, "err", err)
		}),
	)
}

// embedDocuments computes the three vectors for every document, bounded by
// the configured concurrency.
func (c *CLI) embedDocuments(ctx context.Context, embedder ports.Embedder, docs []domain.Document, logger *log.Logger) error {
	logger.Info("embedding documents", "model", embedder.ModelName(), "concurrency", c.Concurrency)

	var bar *progressbar.ProgressBar
	if !c.NoProgress {
		bar = progressbar.Default(int64(len(docs)), "embedding")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency)
	for i := range docs {
		g.Go(func() error {
			doc := &docs[i]

			titleVec, err := embedder.Embed(gctx, doc.Title)
			if err != nil {
				return fmt.Errorf("embedding title of %q: %w", doc.ID, err)
			}
			textVec, err := embedder.Embed(gctx, doc.Text)
			if err != nil {
				return fmt.Errorf("embedding text of %q: %w", doc.ID, err)
			}
			combinedVec, err := embedder.Embed(gctx, doc.Title+" "+doc.Text)
			if err != nil {
				return fmt.Errorf("embedding title+text of %q: %w", doc.ID, err)
			}

			doc.TitleVector = titleVec
			doc.TextVector = textVec
			doc.TitleTextVector = combinedVec

			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	return g.Wait()
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("kuberag-index"),
		kong.Description("Embed the documentation corpus and load it into Elasticsearch."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(cli.Run())
}
