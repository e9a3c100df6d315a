package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const settingsKey = "history_retention"

// RetentionSettings contains history retention configuration.
type RetentionSettings struct {
	Enabled       bool `json:"enabled"`
	RetentionDays int  `json:"retentionDays"`
}

// DefaultRetentionSettings returns default retention settings.
func DefaultRetentionSettings() RetentionSettings {
	return RetentionSettings{
		Enabled:       true,
		RetentionDays: 30,
	}
}

// GetRetentionSettings loads retention settings from the database.
func (s *Service) GetRetentionSettings(ctx context.Context) (RetentionSettings, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, settingsKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultRetentionSettings(), nil
	}
	if err != nil {
		return RetentionSettings{}, err
	}

	var settings RetentionSettings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return DefaultRetentionSettings(), nil //nolint:nilerr // Invalid JSON, use defaults
	}
	return settings, nil
}

// SaveRetentionSettings saves retention settings to the database.
func (s *Service) SaveRetentionSettings(ctx context.Context, settings RetentionSettings) error {
	if settings.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative")
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		settingsKey, string(data))
	return err
}

// CleanupOldEntries deletes history entries older than the configured retention period.
func (s *Service) CleanupOldEntries(ctx context.Context) error {
	settings, err := s.GetRetentionSettings(ctx)
	if err != nil {
		return err
	}

	if !settings.Enabled || settings.RetentionDays <= 0 {
		return nil
	}

	removed, err := s.DeleteBefore(ctx, s.now().AddDate(0, 0, -settings.RetentionDays))
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Int("retentionDays", settings.RetentionDays).Msg("Pruned search history")
	}
	return nil
}
