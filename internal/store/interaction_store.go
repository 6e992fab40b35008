package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// InteractionStore persists finalized interaction records.
type InteractionStore struct {
	db *DB
}

// NewInteractionStore creates an interaction store using the given database.
func NewInteractionStore(db *DB) *InteractionStore {
	return &InteractionStore{db: db}
}

// Save writes a finalized record and reports whether a row was written.
// Finalized records are immutable: saving an id that already exists is a
// no-op that reports false. The one exception is an aborted record, which
// the retried run replaces.
func (s *InteractionStore) Save(ctx context.Context, rec *domain.InteractionRecord) (bool, error) {
	calls := rec.ToolCalls
	if calls == nil {
		calls = []domain.ToolCall{}
	}
	toolCalls, err := json.Marshal(calls)
	if err != nil {
		return false, fmt.Errorf("encoding tool calls: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO interactions (
			id, message_id, channel_id, sender_email, sender_name, subject, body, received_at,
			intent, confidence, tier, tier_used, model_used, tool_calls, response, outcome,
			escalation_reason, tokens_input, tokens_output, cost_usd, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   intent = excluded.intent,
		   confidence = excluded.confidence,
		   tier = excluded.tier,
		   tier_used = excluded.tier_used,
		   model_used = excluded.model_used,
		   tool_calls = excluded.tool_calls,
		   response = excluded.response,
		   outcome = excluded.outcome,
		   escalation_reason = excluded.escalation_reason,
		   tokens_input = excluded.tokens_input,
		   tokens_output = excluded.tokens_output,
		   cost_usd = excluded.cost_usd,
		   latency_ms = excluded.latency_ms,
		   created_at = excluded.created_at
		 WHERE interactions.outcome = 'aborted'`,
		rec.ID, rec.MessageID, rec.ChannelID, rec.SenderEmail, rec.SenderName, rec.Subject, rec.Body,
		formatTime(rec.ReceivedAt), string(rec.Intent), rec.Confidence, string(rec.Tier), string(rec.TierUsed),
		rec.ModelUsed, string(toolCalls), rec.Response, string(rec.Outcome), string(rec.EscalationReason),
		rec.TokensInput, rec.TokensOutput, rec.CostUSD, rec.Latency.Milliseconds(), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("inserting interaction %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const interactionColumns = `id, message_id, channel_id, sender_email, sender_name, subject, body, received_at,
	intent, confidence, tier, tier_used, model_used, tool_calls, response, outcome,
	escalation_reason, tokens_input, tokens_output, cost_usd, latency_ms, created_at`

// Get returns a record by id, or domain.ErrNotFound.
func (s *InteractionStore) Get(ctx context.Context, id string) (*domain.InteractionRecord, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	rec, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

// InteractionFilter narrows List results. Zero values match everything.
type InteractionFilter struct {
	Intent  domain.Intent
	Outcome domain.Outcome
	Sender  string
	Since   time.Time
	Limit   int
	Offset  int
}

// List returns records newest first.
func (s *InteractionStore) List(ctx context.Context, f InteractionFilter) ([]domain.InteractionRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Intent != "" {
		where = append(where, "intent = ?")
		args = append(args, string(f.Intent))
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if f.Sender != "" {
		where = append(where, "sender_email = ?")
		args = append(args, strings.ToLower(f.Sender))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}

	q := `SELECT ` + interactionColumns + ` FROM interactions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InteractionRecord
	for rows.Next() {
		rec, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Stats aggregates counters over all stored interactions.
type Stats struct {
	Total        int                    `json:"total"`
	ByOutcome    map[domain.Outcome]int `json:"byOutcome"`
	ByTier       map[domain.Tier]int    `json:"byTier"`
	TokensInput  int64                  `json:"tokensInput"`
	TokensOutput int64                  `json:"tokensOutput"`
	CostUSD      float64                `json:"costUsd"`
	AvgLatencyMs float64                `json:"avgLatencyMs"`
}

// Stats computes aggregate counters for the operator dashboard.
func (s *InteractionStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByOutcome: map[domain.Outcome]int{}, ByTier: map[domain.Tier]int{}}

	err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens_input), 0), COALESCE(SUM(tokens_output), 0),
		        COALESCE(SUM(cost_usd), 0), COALESCE(AVG(latency_ms), 0)
		 FROM interactions`,
	).Scan(&st.Total, &st.TokensInput, &st.TokensOutput, &st.CostUSD, &st.AvgLatencyMs)
	if err != nil {
		return nil, err
	}

	if err := groupCount(ctx, s.db.sql, "outcome", func(k string, n int) { st.ByOutcome[domain.Outcome(k)] = n }); err != nil {
		return nil, err
	}
	if err := groupCount(ctx, s.db.sql, "tier_used", func(k string, n int) { st.ByTier[domain.Tier(k)] = n }); err != nil {
		return nil, err
	}
	return st, nil
}

func groupCount(ctx context.Context, db *sql.DB, column string, set func(string, int)) error {
	rows, err := db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM interactions GROUP BY `+column)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			n int
		)
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		set(k, n)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row scanner) (*domain.InteractionRecord, error) {
	var (
		rec                                  domain.InteractionRecord
		receivedAt, createdAt, toolCalls     string
		intent, tier, tierUsed, outcome, why string
		latencyMs                            int64
	)
	err := row.Scan(
		&rec.ID, &rec.MessageID, &rec.ChannelID, &rec.SenderEmail, &rec.SenderName, &rec.Subject, &rec.Body,
		&receivedAt, &intent, &rec.Confidence, &tier, &tierUsed, &rec.ModelUsed, &toolCalls, &rec.Response,
		&outcome, &why, &rec.TokensInput, &rec.TokensOutput, &rec.CostUSD, &latencyMs, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ReceivedAt = parseTime(receivedAt)
	rec.CreatedAt = parseTime(createdAt)
	rec.Intent = domain.Intent(intent)
	rec.Tier = domain.Tier(tier)
	rec.TierUsed = domain.Tier(tierUsed)
	rec.Outcome = domain.Outcome(outcome)
	rec.EscalationReason = domain.EscalationReason(why)
	rec.Latency = time.Duration(latencyMs) * time.Millisecond
	if err := json.Unmarshal([]byte(toolCalls), &rec.ToolCalls); err != nil {
		return nil, fmt.Errorf("decoding tool calls for %s: %w", rec.ID, err)
	}
	return &rec, nil
}
