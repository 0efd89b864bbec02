package store

import (
	"context"
	"fmt"

	"github.com/spetr/journalmind/pkg/types"
)

// Setting keys for the owner-scoped AI configuration.
const (
	settingAPIKey         = "ai.api_key"
	settingBaseURL        = "ai.base_url"
	settingChatModel      = "ai.chat_model"
	settingEmbeddingModel = "ai.embedding_model"
	settingEnabled        = "ai.enabled"
)

// AISettings assembles the owner's typed AI configuration from the settings
// rows. Unset keys come back as zero values; completeness is the caller's
// concern.
func (s *Store) AISettings(ctx context.Context, owner string) (types.AISettings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM user_settings WHERE owner = ?`, owner)
	if err != nil {
		return types.AISettings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	var settings types.AISettings
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return types.AISettings{}, err
		}
		switch key {
		case settingAPIKey:
			settings.APIKey = value
		case settingBaseURL:
			settings.BaseURL = value
		case settingChatModel:
			settings.ChatModel = value
		case settingEmbeddingModel:
			settings.EmbeddingModel = value
		case settingEnabled:
			settings.Enabled = value == "true"
		}
	}
	return settings, rows.Err()
}

// SaveAISettings writes all AI settings for an owner in one transaction.
func (s *Store) SaveAISettings(ctx context.Context, owner string, settings types.AISettings) error {
	values := map[string]string{
		settingAPIKey:         settings.APIKey,
		settingBaseURL:        settings.BaseURL,
		settingChatModel:      settings.ChatModel,
		settingEmbeddingModel: settings.EmbeddingModel,
		settingEnabled:        "false",
	}
	if settings.Enabled {
		values[settingEnabled] = "true"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO user_settings (owner, key, value) VALUES (?, ?, ?)
		`, owner, key, value); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}
	return tx.Commit()
}
