package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// Well-known secret keys.
const SecretGeminiAPIKey = "gemini.api_key"

// EnvGeminiAPIKey overrides the stored API key when set.
const EnvGeminiAPIKey = "GEMINI_API_KEY"

// SaveSecrets upserts sealed secret entries for the active instance.
func (s *Store) SaveSecrets(ctx context.Context, values map[string]string) error {
	if s.readOnly {
		return fmt.Errorf("config: save secrets: store opened read-only")
	}
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO security_settings (instance_name, key, value, updated_at)
            VALUES (?, ?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(instance_name, key) DO UPDATE SET
                value = excluded.value,
                updated_at = CURRENT_TIMESTAMP
        `)
		if err != nil {
			return fmt.Errorf("config: prepare save secrets: %w", err)
		}
		defer stmt.Close()

		for key, value := range values {
			storedValue := value
			if s.encryptionKey != nil {
				sealed, err := encryptValue(s.encryptionKey, value)
				if err != nil {
					return fmt.Errorf("config: seal secret %q: %w", key, err)
				}
				storedValue = sealed
			}
			if _, err := stmt.ExecContext(ctx, s.instanceName, key, storedValue); err != nil {
				return fmt.Errorf("config: exec save secret %q: %w", key, err)
			}
		}
		return nil
	})
}

// LoadSecrets returns unsealed secrets for the active instance.
func (s *Store) LoadSecrets(ctx context.Context, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM security_settings WHERE instance_name = ?`
	args := []any{s.instanceName}

	if len(keys) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
		query += fmt.Sprintf(" AND key IN (%s)", placeholders)
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("config: load secrets: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("config: scan secret row: %w", err)
		}
		if s.encryptionKey == nil {
			return nil, fmt.Errorf("config: secret %q is sealed but no key is available", key)
		}
		unsealed, err := decryptValue(s.encryptionKey, value)
		if err != nil {
			return nil, fmt.Errorf("config: unseal secret %q: %w", key, err)
		}
		result[key] = unsealed
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate secret rows: %w", err)
	}
	return result, nil
}

// GeminiAPIKey resolves the API key: the environment variable wins over the
// stored secret. Returns empty when neither is set.
func (s *Store) GeminiAPIKey(ctx context.Context) (string, error) {
	if env := strings.TrimSpace(os.Getenv(EnvGeminiAPIKey)); env != "" {
		return env, nil
	}
	secrets, err := s.LoadSecrets(ctx, SecretGeminiAPIKey)
	if err != nil {
		return "", err
	}
	return secrets[SecretGeminiAPIKey], nil
}
