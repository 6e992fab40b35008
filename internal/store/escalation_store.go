package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// EscalationStore persists human-review items, at most one per interaction.
type EscalationStore struct {
	db *DB
}

// NewEscalationStore creates an escalation store using the given database.
func NewEscalationStore(db *DB) *EscalationStore {
	return &EscalationStore{db: db}
}

// Upsert creates the escalation for rec.InteractionID, or refreshes the reason,
// priority and context of the existing one. Review fields (status, assignee,
// notes) are never touched here. The unique interaction index makes
// concurrent or repeated calls converge on a single row.
func (s *EscalationStore) Upsert(ctx context.Context, rec domain.EscalationRecord) (*domain.EscalationRecord, error) {
	if rec.InteractionID == "" {
		return nil, errors.New("escalation requires an interaction id")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Priority == "" {
		rec.Priority = domain.PriorityMedium
	}
	snapshot, err := json.Marshal(rec.Context)
	if err != nil {
		return nil, fmt.Errorf("encoding escalation context: %w", err)
	}
	now := formatTime(time.Now())

	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO escalations (id, interaction_id, reason, priority, context, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(interaction_id) DO UPDATE SET
		   reason = excluded.reason,
		   priority = excluded.priority,
		   context = excluded.context,
		   updated_at = excluded.updated_at`,
		rec.ID, rec.InteractionID, string(rec.Reason), string(rec.Priority), string(snapshot),
		string(domain.EscalationPending), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting escalation for %s: %w", rec.InteractionID, err)
	}
	return s.GetByInteraction(ctx, rec.InteractionID)
}

const escalationColumns = `id, interaction_id, reason, priority, context, status, assigned_to,
	resolution_notes, resolved_at, created_at, updated_at`

// Get returns an escalation by id, or domain.ErrNotFound.
func (s *EscalationStore) Get(ctx context.Context, id string) (*domain.EscalationRecord, error) {
	return s.getOne(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id)
}

// GetByInteraction returns the escalation for an interaction, or domain.ErrNotFound.
func (s *EscalationStore) GetByInteraction(ctx context.Context, interactionID string) (*domain.EscalationRecord, error) {
	return s.getOne(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE interaction_id = ?`, interactionID)
}

func (s *EscalationStore) getOne(ctx context.Context, q string, arg string) (*domain.EscalationRecord, error) {
	rec, err := scanEscalation(s.db.sql.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

// List returns escalations oldest first so the review queue is FIFO.
// An empty status lists all.
func (s *EscalationStore) List(ctx context.Context, status domain.EscalationStatus, limit int) ([]domain.EscalationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + escalationColumns + ` FROM escalations`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EscalationRecord
	for rows.Next() {
		rec, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Update applies a review-workflow change. Moving to resolved or dismissed
// stamps resolved_at; moving back to an open status clears it.
func (s *EscalationStore) Update(ctx context.Context, id string, upd domain.EscalationUpdate) (*domain.EscalationRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if upd.AssignedTo != nil {
		rec.AssignedTo = *upd.AssignedTo
		if upd.Status == nil && rec.Status == domain.EscalationPending && rec.AssignedTo != "" {
			rec.Status = domain.EscalationAssigned
		}
	}
	if upd.ResolutionNotes != nil {
		rec.ResolutionNotes = *upd.ResolutionNotes
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	switch rec.Status {
	case domain.EscalationResolved, domain.EscalationDismissed:
		if rec.ResolvedAt == nil {
			rec.ResolvedAt = &now
		}
	default:
		rec.ResolvedAt = nil
	}

	_, err = s.db.sql.ExecContext(ctx,
		`UPDATE escalations
		 SET status = ?, assigned_to = ?, resolution_notes = ?, resolved_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(rec.Status), rec.AssignedTo, rec.ResolutionNotes, nullTime(rec.ResolvedAt), formatTime(now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating escalation %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// CountByStatus returns open/closed counts for the dashboard.
func (s *EscalationStore) CountByStatus(ctx context.Context) (map[domain.EscalationStatus]int, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT status, COUNT(*) FROM escalations GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.EscalationStatus]int{}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[domain.EscalationStatus(st)] = n
	}
	return out, rows.Err()
}

func scanEscalation(row scanner) (*domain.EscalationRecord, error) {
	var (
		rec                               domain.EscalationRecord
		reason, priority, ctxJSON, status string
		resolvedAt                        sql.NullString
		createdAt, updatedAt              string
	)
	err := row.Scan(&rec.ID, &rec.InteractionID, &reason, &priority, &ctxJSON, &status,
		&rec.AssignedTo, &rec.ResolutionNotes, &resolvedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Reason = domain.EscalationReason(reason)
	rec.Priority = domain.Priority(priority)
	rec.Status = domain.EscalationStatus(status)
	rec.ResolvedAt = timePtr(resolvedAt)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(ctxJSON), &rec.Context); err != nil {
		return nil, fmt.Errorf("decoding escalation context for %s: %w", rec.ID, err)
	}
	return &rec, nil
}
