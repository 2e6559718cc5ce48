// Package store persists conversations and user feedback in a local SQLite
// database. The pipeline core never touches it; commands and the HTTP
// surface record results after a query completes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kuberag/kuberag/internal/ports"
)

// Store is a SQLite-backed ports.ConversationStore.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Conversation is one persisted query, as read back from the database.
type Conversation struct {
	ID           string
	SessionID    string
	Question     string
	Answer       string
	Relevance    string
	ResponseTime float64
	TotalTokens  int
	Cost         decimal.Decimal
	CreatedAt    time.Time
}

// FeedbackStats aggregates explicit user feedback.
type FeedbackStats struct {
	ThumbsUp   int
	ThumbsDown int
}

// New opens (creating if necessary) the conversation database under dataDir
// and applies pending migrations.
func New(dataDir string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "conversations.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if logger == nil {
		logger = log.Default()
	}
	if err := applyMigrations(context.Background(), db, func(msg string, args ...any) {
		logger.Debug(fmt.Sprintf(msg, args...))
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// SaveConversation records one completed query. The result's token counts
// and cost are stored verbatim; cost keeps its decimal representation as
// TEXT so nothing is lost to float rounding.
func (s *Store) SaveConversation(ctx context.Context, rec ports.ConversationRecord) error {
	if rec.Result == nil {
		return fmt.Errorf("conversation record has no result")
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	r := rec.Result
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			id, session_id, question, answer, response_time,
			relevance, relevance_explanation,
			prompt_tokens, completion_tokens, total_tokens, rewrite_tokens,
			eval_prompt_tokens, eval_completion_tokens, eval_total_tokens,
			cost, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(), rec.SessionID, rec.Question, r.Answer, r.ResponseTime,
		string(r.Relevance), r.RelevanceExplanation,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.RewriteTokens,
		r.EvalPromptTokens, r.EvalCompletionTokens, r.EvalTotalTokens,
		r.Cost.String(), ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

// SaveFeedback records one user judgement. Value must be +1 or -1; the
// schema enforces the same constraint.
func (s *Store) SaveFeedback(ctx context.Context, rec ports.FeedbackRecord) error {
	if rec.Value != 1 && rec.Value != -1 {
		return fmt.Errorf("feedback value must be +1 or -1, got %d", rec.Value)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, session_id, question, answer, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), rec.SessionID, rec.Question, rec.Answer, rec.Value, ts.UTC())
	if err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}
	return nil
}

// RecentConversations returns the latest conversations, newest first.
func (s *Store) RecentConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, question, answer, relevance, response_time, total_tokens, cost, created_at
		FROM conversations
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var cost string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Question, &c.Answer,
			&c.Relevance, &c.ResponseTime, &c.TotalTokens, &cost, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		c.Cost, err = decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("parsing stored cost %q: %w", cost, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// Stats returns the feedback tallies.
func (s *Store) Stats(ctx context.Context) (FeedbackStats, error) {
	var stats FeedbackStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN feedback = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN feedback = -1 THEN 1 ELSE 0 END), 0)
		FROM feedback
	`).Scan(&stats.ThumbsUp, &stats.ThumbsDown)
	if err != nil {
		return FeedbackStats{}, fmt.Errorf("querying feedback stats: %w", err)
	}
	return stats, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }
