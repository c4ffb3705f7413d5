package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxflow/internal/model"
)

type WorkItemRepository struct {
	db *pgxpool.Pool
}

func NewWorkItemRepository(db *pgxpool.Pool) *WorkItemRepository {
	return &WorkItemRepository{db: db}
}

// Insert creates a pending work item for a message. Returns (nil, false)
// without error when an item for the same message+user already exists, so
// ingestion stays idempotent.
func (r *WorkItemRepository) Insert(ctx context.Context, userID int, messageID string) (*model.WorkItem, bool, error) {
	sql := `
        INSERT INTO work_items (user_id, message_id, status, retry_count)
        VALUES ($1, $2, 'pending', 0)
        ON CONFLICT (user_id, message_id) DO NOTHING
        RETURNING id, user_id, message_id, status, retry_count, created_at
    `

	var item model.WorkItem
	err := r.db.QueryRow(ctx, sql, userID, messageID).Scan(
		&item.ID, &item.UserID, &item.MessageID, &item.Status, &item.RetryCount, &item.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		// 冲突：该消息已经入队（幂等）
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert work item: %w", err)
	}
	return &item, true, nil
}

// ClaimPending atomically claims up to limit pending items for a user,
// strictly in creation order, moving them to processing in the same
// statement. Two concurrent drains can never claim the same item.
func (r *WorkItemRepository) ClaimPending(ctx context.Context, userID, limit int) ([]model.WorkItem, error) {
	sql := `
        UPDATE work_items
        SET status = 'processing'
        WHERE id IN (
            SELECT id FROM work_items
            WHERE user_id = $1 AND status = 'pending'
            ORDER BY created_at ASC
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, user_id, message_id, status, error_message, retry_count, processed_at, created_at
    `

	rows, err := r.db.Query(ctx, sql, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending work items: %w", err)
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		var item model.WorkItem
		var errMsg *string
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.MessageID, &item.Status,
			&errMsg, &item.RetryCount, &item.ProcessedAt, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		if errMsg != nil {
			item.ErrorMessage = *errMsg
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING 的顺序不保证；按创建顺序重排
	sortByCreatedAt(items)
	return items, nil
}

// MarkCompleted transitions a processing item to completed.
func (r *WorkItemRepository) MarkCompleted(ctx context.Context, id int) error {
	sql := `
        UPDATE work_items
        SET status = 'completed', error_message = NULL, processed_at = NOW()
        WHERE id = $1 AND status = 'processing'
    `
	_, err := r.db.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("failed to complete work item %d: %w", id, err)
	}
	return nil
}

// MarkFailed transitions a processing item to failed, always recording the
// error message.
func (r *WorkItemRepository) MarkFailed(ctx context.Context, id int, errMsg string) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	sql := `
        UPDATE work_items
        SET status = 'failed', error_message = $2, processed_at = NOW()
        WHERE id = $1 AND status = 'processing'
    `
	_, err := r.db.Exec(ctx, sql, id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to fail work item %d: %w", id, err)
	}
	return nil
}

// ResetFailed moves failed items below the retry ceiling back to pending and
// bumps their retry count. Items at or above the ceiling stay failed.
func (r *WorkItemRepository) ResetFailed(ctx context.Context, userID, maxRetries int) (int, error) {
	sql := `
        UPDATE work_items
        SET status = 'pending', retry_count = retry_count + 1
        WHERE user_id = $1 AND status = 'failed' AND retry_count < $2
    `
	tag, err := r.db.Exec(ctx, sql, userID, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed work items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Exists reports whether a work item already exists for message+user.
func (r *WorkItemRepository) Exists(ctx context.Context, userID int, messageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM work_items WHERE user_id = $1 AND message_id = $2)`,
		userID, messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check work item existence: %w", err)
	}
	return exists, nil
}

// CountByStatus returns the queue counters used by dashboards.
func (r *WorkItemRepository) CountByStatus(ctx context.Context, userID int) (map[string]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM work_items WHERE user_id = $1 GROUP BY status`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count work items: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// UsersWithPending lists users that currently have pending items, for the
// worker's periodic drain.
func (r *WorkItemRepository) UsersWithPending(ctx context.Context) ([]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT user_id FROM work_items WHERE status = 'pending'`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with pending items: %w", err)
	}
	defer rows.Close()

	var users []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func sortByCreatedAt(items []model.WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
