package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"inboxflow/internal/model"
)

type TaskRepository struct {
	db *pgxpool.Pool
}

func NewTaskRepository(db *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{db: db}
}

// Insert stores a task and returns its id. Provenance columns (source
// message, source suggestion, ai_generated, confidence) are kept so a task
// can always be traced back to the email that produced it.
func (r *TaskRepository) Insert(ctx context.Context, t *model.Task) (int, error) {
	sql := `
        INSERT INTO tasks
            (user_id, title, description, category, priority, priority_score,
             estimated_duration, due_date, scheduled_start, scheduled_end,
             status, ai_generated, confidence_score, source_message_id,
             source_suggestion_id, tags, notes, energy_level)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
                $11, $12, $13, $14, $15, $16, $17, $18)
        RETURNING id
    `

	var id int
	err := r.db.QueryRow(ctx, sql,
		t.UserID, t.Title, t.Description, t.Category, t.Priority, t.PriorityScore,
		t.EstimatedDuration, t.DueDate, t.ScheduledStart, t.ScheduledEnd,
		t.Status, t.AIGenerated, t.ConfidenceScore, t.SourceMessageID,
		t.SourceSuggestion, t.Tags, t.Notes, t.EnergyLevel,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert task: %w", err)
	}
	return id, nil
}

// FindByID loads one task for a user, or pgx.ErrNoRows when absent.
func (r *TaskRepository) FindByID(ctx context.Context, userID, id int) (*model.Task, error) {
	sql := `
        SELECT id, user_id, title, description, category, priority, priority_score,
               estimated_duration, actual_duration, due_date, scheduled_start,
               scheduled_end, status, ai_generated, confidence_score,
               source_message_id, source_suggestion_id, tags, notes, energy_level,
               created_at, completed_at
        FROM tasks
        WHERE user_id = $1 AND id = $2
    `

	var t model.Task
	err := r.db.QueryRow(ctx, sql, userID, id).Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &t.Category, &t.Priority,
		&t.PriorityScore, &t.EstimatedDuration, &t.ActualDuration, &t.DueDate,
		&t.ScheduledStart, &t.ScheduledEnd, &t.Status, &t.AIGenerated,
		&t.ConfidenceScore, &t.SourceMessageID, &t.SourceSuggestion, &t.Tags,
		&t.Notes, &t.EnergyLevel, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ExistsForMessage reports whether the user already has a task created from
// the given source message. Used to keep reprocessing idempotent.
func (r *TaskRepository) ExistsForMessage(ctx context.Context, userID int, messageID string) (bool, error) {
	sql := `
        SELECT EXISTS (
            SELECT 1 FROM tasks
            WHERE user_id = $1 AND source_message_id = $2
        )
    `

	var exists bool
	if err := r.db.QueryRow(ctx, sql, userID, messageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check task existence for message %s: %w", messageID, err)
	}
	return exists, nil
}

// HasOverlap reports whether any scheduled task for the user intersects the
// candidate [start, end) window.
func (r *TaskRepository) HasOverlap(ctx context.Context, userID int, start, end time.Time) (bool, error) {
	sql := `
        SELECT EXISTS (
            SELECT 1 FROM tasks
            WHERE user_id = $1
              AND status IN ('pending', 'scheduled')
              AND scheduled_start IS NOT NULL
              AND scheduled_end IS NOT NULL
              AND scheduled_start < $3
              AND scheduled_end > $2
        )
    `

	var overlap bool
	if err := r.db.QueryRow(ctx, sql, userID, start, end).Scan(&overlap); err != nil {
		return false, fmt.Errorf("failed to check schedule overlap: %w", err)
	}
	return overlap, nil
}

// CountByStatus aggregates task counts per status for one user.
func (r *TaskRepository) CountByStatus(ctx context.Context, userID int) (map[string]int, error) {
	sql := `
        SELECT status, COUNT(*)
        FROM tasks
        WHERE user_id = $1
        GROUP BY status
    `

	rows, err := r.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
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
