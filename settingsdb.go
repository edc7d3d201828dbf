package questionbank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Setting keys
const (
	SettingWrongBookThreshold = "wrong_book_threshold"
	SettingAIKey              = "ai_api_key"
	SettingAIURL              = "ai_api_url"
	SettingAIModel            = "ai_model_id"
	SettingAIProvider         = "ai_provider"
)

// Defaults for an unconfigured AI endpoint
const (
	DefaultAIURL      = "https://api.openai.com"
	DefaultAIModel    = "gpt-3.5-turbo"
	DefaultAIProvider = "custom"
)

func getSetting(ctx context.Context, q querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

func setSetting(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetSetting returns a stored setting and whether it exists
func (db *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return getSetting(ctx, db.db, key)
}

// SetSetting stores a setting, replacing any previous value
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, db.db, key, value)
}

// GetWrongBookThreshold returns the configured removal threshold, falling
// back to the default when it is unset or not a valid number
func (db *DB) GetWrongBookThreshold(ctx context.Context) (int, error) {
	value, ok, err := db.GetSetting(ctx, SettingWrongBookThreshold)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultWrongBookThreshold, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < MinWrongBookThreshold || n > MaxWrongBookThreshold {
		return DefaultWrongBookThreshold, nil
	}
	return n, nil
}

// SetWrongBookThreshold stores the removal threshold. Values outside 1-999
// are rejected with a *ConfigurationError and nothing is written.
func (db *DB) SetWrongBookThreshold(ctx context.Context, n int) error {
	if n < MinWrongBookThreshold || n > MaxWrongBookThreshold {
		return &ConfigurationError{Key: SettingWrongBookThreshold, Message: "阈值必须是 1-999 的数字"}
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := setSetting(ctx, tx, SettingWrongBookThreshold, strconv.Itoa(n)); err != nil {
			return err
		}
		return addOperationLog(ctx, tx, db.now(), "更改设置", fmt.Sprintf("设置错题本移除阈值为: %d", n))
	})
}

// SeedWrongBookThreshold stores n as the threshold when none is set yet
func (db *DB) SeedWrongBookThreshold(ctx context.Context, n int) error {
	if n < MinWrongBookThreshold || n > MaxWrongBookThreshold {
		return &ConfigurationError{Key: SettingWrongBookThreshold, Message: "阈值必须是 1-999 的数字"}
	}
	_, err := db.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		SettingWrongBookThreshold, strconv.Itoa(n),
	)
	if err != nil {
		return fmt.Errorf("failed to seed wrong book threshold: %w", err)
	}
	return nil
}

// GetAIConfig returns the stored AI endpoint settings with defaults applied
func (db *DB) GetAIConfig(ctx context.Context) (AIConfig, error) {
	var cfg AIConfig
	fields := []struct {
		key  string
		def  string
		dest *string
	}{
		{SettingAIKey, "", &cfg.APIKey},
		{SettingAIURL, DefaultAIURL, &cfg.BaseURL},
		{SettingAIModel, DefaultAIModel, &cfg.Model},
		{SettingAIProvider, DefaultAIProvider, &cfg.Provider},
	}

	for _, f := range fields {
		value, _, err := db.GetSetting(ctx, f.key)
		if err != nil {
			return AIConfig{}, err
		}
		if value == "" {
			value = f.def
		}
		*f.dest = value
	}
	return cfg, nil
}

// SetAIConfig stores the AI endpoint settings; blank fields get defaults
func (db *DB) SetAIConfig(ctx context.Context, cfg AIConfig) error {
	or := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return strings.TrimSpace(v)
	}
	values := [][2]string{
		{SettingAIKey, strings.TrimSpace(cfg.APIKey)},
		{SettingAIURL, or(cfg.BaseURL, DefaultAIURL)},
		{SettingAIModel, or(cfg.Model, DefaultAIModel)},
		{SettingAIProvider, or(cfg.Provider, DefaultAIProvider)},
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, kv := range values {
			if err := setSetting(ctx, tx, kv[0], kv[1]); err != nil {
				return err
			}
		}
		return addOperationLog(ctx, tx, db.now(), "更改设置", "更新 AI API 配置")
	})
}

// operation log

func addOperationLog(ctx context.Context, q querier, now time.Time, action, detail string) error {
	if _, err := q.ExecContext(ctx,
		"INSERT INTO operation_logs (action, detail, created_at) VALUES (?, ?, ?)",
		action, detail, now,
	); err != nil {
		return fmt.Errorf("failed to add operation log: %w", err)
	}
	return nil
}

// AddOperationLog appends an entry to the activity log
func (db *DB) AddOperationLog(ctx context.Context, action, detail string) error {
	return addOperationLog(ctx, db.db, db.now(), action, detail)
}

// OperationLogs returns the newest activity log entries
func (db *DB) OperationLogs(ctx context.Context, limit int) ([]OperationLog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.db.QueryContext(ctx,
		"SELECT id, action, COALESCE(detail, ''), created_at FROM operation_logs ORDER BY created_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation logs: %w", err)
	}
	defer rows.Close()

	logs := []OperationLog{}
	for rows.Next() {
		var l OperationLog
		if err := rows.Scan(&l.ID, &l.Action, &l.Detail, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation logs: %w", err)
	}
	return logs, nil
}
