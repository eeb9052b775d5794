package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brandloom-ai/brandloom/internal/config"
)

const defaultBusyTimeout = 5 * time.Second

// Options describes parameters for opening a configuration store.
type Options struct {
	InstanceName string // Logical instance name (defaults to config.DefaultInstance)
	DBPath       string // Optional override for config.db path (primarily for tests)
	ReadOnly     bool   // Open database in read-only mode
}

// Store provides access to the configuration database: settings, sealed
// secrets, and the archive of completed brand sessions.
type Store struct {
	db            *sql.DB
	instanceName  string
	dbPath        string
	readOnly      bool
	encryptionKey []byte // AES-256 key for sealing secrets
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Open initialises the configuration store for the given instance. When
// DBPath is set explicitly the instance directory layout is not created.
func Open(opts Options) (*Store, error) {
	if opts.InstanceName == "" {
		opts.InstanceName = config.DefaultInstance
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		instancePaths, err := config.EnsureInstanceDirs(opts.InstanceName)
		if err != nil {
			return nil, fmt.Errorf("config: ensure instance directories: %w", err)
		}
		dbPath = instancePaths.ConfigDB
	}

	dsn := dbPath
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
		db.Close()
		return nil, err
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if !opts.ReadOnly {
		if err := seedDefaults(ctx, db, opts.InstanceName); err != nil {
			db.Close()
			return nil, err
		}
	}

	// Load or create the sealing key. A new key is only created when the DB
	// contains no enc:v1: values: if the key file is missing but sealed rows
	// already exist, Open fails fast so old secrets are never orphaned behind
	// a freshly generated key.
	keyPath := encryptionKeyPath(dbPath)
	var encKey []byte
	if !opts.ReadOnly {
		encKey, err = loadEncryptionKey(keyPath)
		if err != nil {
			db.Close()
			return nil, err
		}
		if encKey == nil {
			hasEnc, checkErr := hasEncryptedValues(ctx, db)
			if checkErr != nil {
				db.Close()
				return nil, checkErr
			}
			if hasEnc {
				db.Close()
				return nil, fmt.Errorf("config: sealing key %s is missing but the database already contains sealed values; restore the key file or remove the sealed rows manually", keyPath)
			}
			encKey, err = createEncryptionKey(keyPath)
			if err != nil {
				db.Close()
				return nil, err
			}
		}
	} else {
		var keyErr error
		encKey, keyErr = loadEncryptionKey(keyPath)
		if keyErr != nil {
			log.Printf("[Config] WARNING: failed to load sealing key (read-only): %v", keyErr)
		}
	}

	// Re-seal any plaintext secrets left over from before sealing existed.
	if !opts.ReadOnly && encKey != nil {
		if migrated, err := migratePlaintextSecrets(ctx, db, encKey); err != nil {
			db.Close()
			return nil, fmt.Errorf("config: migrate plaintext secrets: %w", err)
		} else if migrated > 0 {
			log.Printf("[Config] sealed %d plaintext secret(s)", migrated)
		}
	}

	return &Store{
		db:            db,
		instanceName:  opts.InstanceName,
		dbPath:        dbPath,
		readOnly:      opts.ReadOnly,
		encryptionKey: encKey,
	}, nil
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InstanceName returns the logical instance associated with the store.
func (s *Store) InstanceName() string {
	return s.instanceName
}

// Path returns the filesystem path of the backing database.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("config: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
