package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brandloom-ai/brandloom/internal/brand"
)

// SessionRecord is one completed brand session in the archive.
type SessionRecord struct {
	ID        string
	DNA       brand.DNA
	Progress  []brand.ProgressItem
	StartedAt time.Time
	EndedAt   time.Time
}

// ArchiveSession persists the final state of a completed session. Re-archiving
// the same id replaces the record.
func (s *Store) ArchiveSession(ctx context.Context, rec SessionRecord) error {
	if s.readOnly {
		return fmt.Errorf("config: archive session: store opened read-only")
	}
	if rec.ID == "" {
		return fmt.Errorf("config: archive session: missing id")
	}

	dnaJSON, err := json.Marshal(rec.DNA)
	if err != nil {
		return fmt.Errorf("config: marshal session dna: %w", err)
	}
	progressJSON, err := json.Marshal(rec.Progress)
	if err != nil {
		return fmt.Errorf("config: marshal session progress: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO brand_sessions (id, instance_name, dna, progress, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dna = excluded.dna,
			progress = excluded.progress,
			ended_at = excluded.ended_at
	`, rec.ID, s.instanceName, string(dnaJSON), string(progressJSON),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.EndedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("config: archive session %s: %w", rec.ID, err)
	}
	return nil
}

// ArchivedSession loads one archived session by id.
func (s *Store) ArchivedSession(ctx context.Context, id string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, dna, progress, started_at, ended_at
		FROM brand_sessions
		WHERE instance_name = ? AND id = ?
	`, s.instanceName, id)

	rec, err := scanSessionRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, NotFoundError{Entity: "brand session", Key: id}
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("config: load archived session %s: %w", id, err)
	}
	return rec, nil
}

// ListArchivedSessions returns the most recently ended sessions, newest first.
func (s *Store) ListArchivedSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dna, progress, started_at, ended_at
		FROM brand_sessions
		WHERE instance_name = ?
		ORDER BY ended_at DESC
		LIMIT ?
	`, s.instanceName, limit)
	if err != nil {
		return nil, fmt.Errorf("config: list archived sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSessionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("config: scan archived session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate archived sessions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRecord(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var dnaJSON, startedAt, endedAt string
	var progressJSON sql.NullString

	if err := row.Scan(&rec.ID, &dnaJSON, &progressJSON, &startedAt, &endedAt); err != nil {
		return SessionRecord{}, err
	}
	if err := json.Unmarshal([]byte(dnaJSON), &rec.DNA); err != nil {
		return SessionRecord{}, fmt.Errorf("unmarshal dna: %w", err)
	}
	if progressJSON.Valid && progressJSON.String != "" {
		if err := json.Unmarshal([]byte(progressJSON.String), &rec.Progress); err != nil {
			return SessionRecord{}, fmt.Errorf("unmarshal progress: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		rec.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, endedAt); err == nil {
		rec.EndedAt = t
	}
	return rec, nil
}
