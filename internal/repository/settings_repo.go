package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxflow/internal/model"
)

// SettingsRepository stores the user's partial automation settings as a
// single jsonb document. Missing rows mean "no overrides".
type SettingsRepository struct {
	db *pgxpool.Pool
}

func NewSettingsRepository(db *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the stored overrides for a user, or (nil, nil) when the user
// has never customized anything.
func (r *SettingsRepository) Get(ctx context.Context, userID int) (*model.AutomationSettings, error) {
	sql := `SELECT settings FROM automation_settings WHERE user_id = $1`

	var raw []byte
	err := r.db.QueryRow(ctx, sql, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for user %d: %w", userID, err)
	}

	var s model.AutomationSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings for user %d: %w", userID, err)
	}
	return &s, nil
}

// Upsert replaces the user's stored overrides with the given document.
func (r *SettingsRepository) Upsert(ctx context.Context, userID int, s *model.AutomationSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	sql := `
        INSERT INTO automation_settings (user_id, settings, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (user_id) DO UPDATE
        SET settings = EXCLUDED.settings, updated_at = NOW()
    `

	if _, err := r.db.Exec(ctx, sql, userID, raw); err != nil {
		return fmt.Errorf("failed to upsert settings for user %d: %w", userID, err)
	}
	return nil
}
