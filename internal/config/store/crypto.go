package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	keySize     = 32 // AES-256
	keyFileName = ".secrets.key"
	// encPrefix marks sealed values in the database. Plaintext values
	// (pre-sealing) lack this prefix.
	encPrefix = "enc:v1:"
)

// loadEncryptionKey reads an existing sealing key from keyPath.
// Returns nil, nil if the file doesn't exist.
func loadEncryptionKey(keyPath string) ([]byte, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read sealing key: %w", err)
	}
	if len(data) != keySize {
		return nil, fmt.Errorf("config: sealing key at %s has invalid size %d (expected %d)", keyPath, len(data), keySize)
	}
	return data, nil
}

// createEncryptionKey generates a new 32-byte AES key and writes it to
// keyPath using a temp-file + hard-link pattern. os.Link fails with EEXIST if
// another process already created the file, so exactly one key wins and the
// file is never partially written at keyPath.
func createEncryptionKey(keyPath string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("config: generate sealing key: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(keyPath), ".secrets.key.tmp.*")
	if err != nil {
		return nil, fmt.Errorf("config: create sealing key temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(key); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("config: write sealing key temp: %w", err)
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("config: chmod sealing key temp: %w", err)
	}
	tmpFile.Close()

	if err := os.Link(tmpPath, keyPath); err != nil {
		os.Remove(tmpPath)
		if os.IsExist(err) {
			// Another process won the race — read the key it created.
			return loadEncryptionKey(keyPath)
		}
		return nil, fmt.Errorf("config: link sealing key: %w", err)
	}
	os.Remove(tmpPath)

	return key, nil
}

// encryptionKeyPath returns the path for the sealing key relative to the DB.
func encryptionKeyPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), keyFileName)
}

// hasEncryptedValues checks whether security_settings contains any sealed
// values. Used to prevent creating a new key when existing sealed data would
// become permanently unreadable.
func hasEncryptedValues(ctx context.Context, db *sql.DB) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_settings WHERE value LIKE ?`,
		encPrefix+"%",
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("config: check sealed values: %w", err)
	}
	return count > 0, nil
}

// migratePlaintextSecrets seals every plaintext row in security_settings.
// Rows already carrying a decryptable enc:v1: value are left alone; a value
// with the prefix that fails to decrypt is treated as plaintext that happens
// to collide with the prefix and is sealed whole. Returns rows migrated.
func migratePlaintextSecrets(ctx context.Context, db *sql.DB, key []byte) (int, error) {
	rows, err := db.QueryContext(ctx, `SELECT rowid, value FROM security_settings`)
	if err != nil {
		return 0, fmt.Errorf("config: query secrets for migration: %w", err)
	}
	defer rows.Close()

	type pendingUpdate struct {
		rowid int64
		enc   string
	}
	var updates []pendingUpdate

	for rows.Next() {
		var rowid int64
		var raw string
		if err := rows.Scan(&rowid, &raw); err != nil {
			return 0, fmt.Errorf("config: scan secret for migration: %w", err)
		}

		if strings.HasPrefix(raw, encPrefix) {
			if _, err := decryptValue(key, raw); err == nil {
				continue
			}
		}

		sealed, err := encryptValue(key, raw)
		if err != nil {
			return 0, fmt.Errorf("config: seal during migration: %w", err)
		}
		updates = append(updates, pendingUpdate{rowid: rowid, enc: sealed})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("config: iterate secrets for migration: %w", err)
	}

	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("config: begin migration tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`UPDATE security_settings SET value = ?, updated_at = CURRENT_TIMESTAMP WHERE rowid = ?`,
	)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("config: prepare migration update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.enc, u.rowid); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("config: update row %d during migration: %w", u.rowid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("config: commit migration tx: %w", err)
	}

	return len(updates), nil
}

// encryptValue seals plaintext with AES-256-GCM into a prefixed base64 string.
func encryptValue(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptValue opens a sealed value. The value must carry the enc:v1: prefix;
// values without it should have been migrated during Open.
func decryptValue(key []byte, stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return "", fmt.Errorf("config: value is not sealed (missing %s prefix)", encPrefix)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("config: decode sealed value: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("config: sealed value too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("config: open sealed value: %w", err)
	}

	return string(plaintext), nil
}
