// Command kuberag-server exposes the pipeline over HTTP: POST /query runs a
// question through the pipeline, POST /feedback records user judgements, and
// GET /metrics serves Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kuberag/kuberag/infrastructure/metrics"
	"github.com/kuberag/kuberag/infrastructure/search"
	"github.com/kuberag/kuberag/internal/commands"
	"github.com/kuberag/kuberag/internal/config"
	"github.com/kuberag/kuberag/internal/domain"
	"github.com/kuberag/kuberag/internal/ports"
	"github.com/kuberag/kuberag/internal/rag"
	"github.com/kuberag/kuberag/internal/store"
)

type CLI struct {
	Addr     string `help:"Listen address." default:":8000" env:"KUBERAG_ADDR"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
}

type server struct {
	orchestrator *rag.Orchestrator
	search       *search.Client
	store        *store.Store
	index        string
	logger       *log.Logger
}

type queryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type queryResponse struct {
	SessionID string `json:"session_id"`
	*domain.QueryResult
}

type feedbackRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Feedback  int    `json:"feedback"`
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewPrometheusMetrics(registry)

	orchestrator, err := commands.BuildOrchestrator(cfg, logger, collector)
	if err != nil {
		return err
	}
	searchClient, err := commands.BuildSearchClient(cfg)
	if err != nil {
		return err
	}
	db, err := store.New(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := &server{
		orchestrator: orchestrator,
		search:       searchClient,
		store:        db,
		index:        cfg.ElasticsearchIndex,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", srv.handleQuery)
	mux.HandleFunc("POST /feedback", srv.handleFeedback)
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              c.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", c.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	result, err := s.orchestrator.Query(r.Context(), req.Question)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}

	if err := s.store.SaveConversation(r.Context(), ports.ConversationRecord{
		SessionID: req.SessionID,
		Question:  req.Question,
		Result:    result,
		Timestamp: time.Now(),
	}); err != nil {
		// The answer was produced; losing the record is not worth a 500.
		s.logger.Warn("failed to save conversation", "err", err)
	}

	respondJSON(w, http.StatusOK, queryResponse{SessionID: req.SessionID, QueryResult: result})
}

func (s *server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Feedback != 1 && req.Feedback != -1 {
		respondError(w, http.StatusBadRequest, "feedback must be +1 or -1")
		return
	}

	err := s.store.SaveFeedback(r.Context(), ports.FeedbackRecord{
		SessionID: req.SessionID,
		Question:  req.Question,
		Answer:    req.Answer,
		Value:     req.Feedback,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Error("failed to save feedback", "err", err)
		respondError(w, http.StatusInternalServerError, "could not save feedback")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}

	if err := s.search.Ping(r.Context()); err != nil {
		health["status"] = "degraded"
		health["elasticsearch"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, health)
		return
	}

	exists, err := s.search.IndexExists(r.Context(), s.index)
	if err != nil {
		health["status"] = "degraded"
		health["index"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	health["index_exists"] = exists

	respondJSON(w, http.StatusOK, health)
}

// respondPipelineError maps pipeline failures onto HTTP statuses: a missing
// index is 424 with its remedy, everything else a 502 naming the stage.
func (s *server) respondPipelineError(w http.ResponseWriter, err error) {
	s.logger.Error("query failed", "err", err)

	var perr *domain.PipelineError
	if errors.As(err, &perr) {
		body := map[string]string{
			"error": perr.Err.Error(),
			"stage": string(perr.Stage),
		}
		if perr.Remedy != "" {
			body["remedy"] = perr.Remedy
		}
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrIndexNotFound) {
			status = http.StatusFailedDependency
		}
		respondJSON(w, status, body)
		return
	}

	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(os.Stderr, "encoding response: %v\n", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("kuberag-server"),
		kong.Description("Serve the Kubernetes documentation assistant over HTTP."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(cli.Run())
}
