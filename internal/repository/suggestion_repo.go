package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"inboxflow/internal/model"
)

type SuggestionRepository struct {
	db *pgxpool.Pool
}

func NewSuggestionRepository(db *pgxpool.Pool) *SuggestionRepository {
	return &SuggestionRepository{db: db}
}

// Insert stores a pending suggestion together with the raw extraction that
// produced it, so approval can later reconstruct the full task payload.
func (r *SuggestionRepository) Insert(ctx context.Context, s *model.Suggestion) (int, error) {
	raw, err := json.Marshal(s.Extraction)
	if err != nil {
		return 0, fmt.Errorf("failed to encode extraction: %w", err)
	}

	sql := `
        INSERT INTO suggestions
            (user_id, work_item_id, message_id, title, description, status, confidence, extraction)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `

	var id int
	err = r.db.QueryRow(ctx, sql,
		s.UserID, s.WorkItemID, s.MessageID, s.Title, s.Description, s.Status, s.Confidence, raw,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert suggestion: %w", err)
	}
	return id, nil
}

// FindByID loads one suggestion for a user, decoding the stored extraction.
func (r *SuggestionRepository) FindByID(ctx context.Context, userID, id int) (*model.Suggestion, error) {
	sql := `
        SELECT id, user_id, work_item_id, message_id, title, description, status,
               confidence, extraction, task_id, created_at
        FROM suggestions
        WHERE user_id = $1 AND id = $2
    `

	var s model.Suggestion
	var raw []byte
	err := r.db.QueryRow(ctx, sql, userID, id).Scan(
		&s.ID, &s.UserID, &s.WorkItemID, &s.MessageID, &s.Title, &s.Description,
		&s.Status, &s.Confidence, &raw, &s.TaskID, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.Extraction); err != nil {
			return nil, fmt.Errorf("failed to decode extraction for suggestion %d: %w", id, err)
		}
	}
	return &s, nil
}

// MarkConverted records that a suggestion produced a task. The status guard
// keeps approval idempotent: a suggestion converts at most once.
func (r *SuggestionRepository) MarkConverted(ctx context.Context, id, taskID int, status string) (bool, error) {
	sql := `
        UPDATE suggestions
        SET status = $1, task_id = $2
        WHERE id = $3 AND status = 'pending'
    `

	tag, err := r.db.Exec(ctx, sql, status, taskID, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark suggestion %d converted: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRejected dismisses a pending suggestion without creating a task.
func (r *SuggestionRepository) MarkRejected(ctx context.Context, userID, id int) (bool, error) {
	sql := `
        UPDATE suggestions
        SET status = 'rejected'
        WHERE user_id = $1 AND id = $2 AND status = 'pending'
    `

	tag, err := r.db.Exec(ctx, sql, userID, id)
	if err != nil {
		return false, fmt.Errorf("failed to reject suggestion %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPending returns the user's pending suggestions, newest first.
func (r *SuggestionRepository) ListPending(ctx context.Context, userID int, limit int) ([]model.Suggestion, error) {
	sql := `
        SELECT id, user_id, work_item_id, message_id, title, description, status,
               confidence, extraction, task_id, created_at
        FROM suggestions
        WHERE user_id = $1 AND status = 'pending'
        ORDER BY created_at DESC
        LIMIT $2
    `

	rows, err := r.db.Query(ctx, sql, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending suggestions: %w", err)
	}
	defer rows.Close()

	suggestions := []model.Suggestion{}
	for rows.Next() {
		var s model.Suggestion
		var raw []byte
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.WorkItemID, &s.MessageID, &s.Title, &s.Description,
			&s.Status, &s.Confidence, &raw, &s.TaskID, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &s.Extraction); err != nil {
				return nil, fmt.Errorf("failed to decode extraction for suggestion %d: %w", s.ID, err)
			}
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, rows.Err()
}

// CountByStatus aggregates suggestion counts per status for one user.
func (r *SuggestionRepository) CountByStatus(ctx context.Context, userID int) (map[string]int, error) {
	sql := `
        SELECT status, COUNT(*)
        FROM suggestions
        WHERE user_id = $1
        GROUP BY status
    `

	rows, err := r.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count suggestions: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
