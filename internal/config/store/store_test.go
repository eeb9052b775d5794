package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brandloom-ai/brandloom/internal/brand"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(Options{DBPath: filepath.Join(dir, "config.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	ctx := context.Background()

	if err := s.SaveSettings(ctx, map[string]string{
		SettingListenAddr: "127.0.0.1:4820",
		SettingVoice:      "Puck",
	}); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	values, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if values[SettingListenAddr] != "127.0.0.1:4820" || values[SettingVoice] != "Puck" {
		t.Fatalf("unexpected settings: %v", values)
	}

	// Upsert replaces.
	if err := s.SaveSettings(ctx, map[string]string{SettingVoice: "Kore"}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	got, err := s.Setting(ctx, SettingVoice, "")
	if err != nil {
		t.Fatalf("setting: %v", err)
	}
	if got != "Kore" {
		t.Fatalf("expected Kore, got %q", got)
	}

	// Fallback for absent keys.
	got, err = s.Setting(ctx, SettingLiveModel, "models/default")
	if err != nil {
		t.Fatalf("setting: %v", err)
	}
	if got != "models/default" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestSecretsSealedAtRest(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	ctx := context.Background()

	if err := s.SaveSecrets(ctx, map[string]string{SecretGeminiAPIKey: "sk-test-123"}); err != nil {
		t.Fatalf("save secrets: %v", err)
	}

	// The raw database row must not contain the plaintext.
	var raw string
	if err := s.db.QueryRowContext(ctx,
		`SELECT value FROM security_settings WHERE key = ?`, SecretGeminiAPIKey,
	).Scan(&raw); err != nil {
		t.Fatalf("read raw secret: %v", err)
	}
	if !strings.HasPrefix(raw, encPrefix) {
		t.Fatalf("secret stored without sealing prefix: %q", raw)
	}
	if strings.Contains(raw, "sk-test-123") {
		t.Fatal("plaintext secret leaked into database")
	}

	secrets, err := s.LoadSecrets(ctx, SecretGeminiAPIKey)
	if err != nil {
		t.Fatalf("load secrets: %v", err)
	}
	if secrets[SecretGeminiAPIKey] != "sk-test-123" {
		t.Fatalf("unsealed value mismatch: %q", secrets[SecretGeminiAPIKey])
	}
}

func TestSecretsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{DBPath: filepath.Join(dir, "config.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.SaveSecrets(ctx, map[string]string{SecretGeminiAPIKey: "sk-persist"}); err != nil {
		t.Fatalf("save secrets: %v", err)
	}
	s.Close()

	s, err = Open(Options{DBPath: filepath.Join(dir, "config.db")})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s.Close()

	secrets, err := s.LoadSecrets(ctx, SecretGeminiAPIKey)
	if err != nil {
		t.Fatalf("load secrets: %v", err)
	}
	if secrets[SecretGeminiAPIKey] != "sk-persist" {
		t.Fatalf("secret lost across reopen: %q", secrets[SecretGeminiAPIKey])
	}
}

func TestEnvOverridesStoredAPIKey(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	ctx := context.Background()

	if err := s.SaveSecrets(ctx, map[string]string{SecretGeminiAPIKey: "sk-stored"}); err != nil {
		t.Fatalf("save secrets: %v", err)
	}
	t.Setenv(EnvGeminiAPIKey, "sk-env")

	key, err := s.GeminiAPIKey(ctx)
	if err != nil {
		t.Fatalf("resolve api key: %v", err)
	}
	if key != "sk-env" {
		t.Fatalf("environment must win, got %q", key)
	}

	t.Setenv(EnvGeminiAPIKey, "")
	key, err = s.GeminiAPIKey(ctx)
	if err != nil {
		t.Fatalf("resolve api key: %v", err)
	}
	if key != "sk-stored" {
		t.Fatalf("expected stored key, got %q", key)
	}
}

func TestMissingKeyWithSealedValuesFailsOpen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "config.db")
	ctx := context.Background()

	s, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.SaveSecrets(ctx, map[string]string{SecretGeminiAPIKey: "sk-locked"}); err != nil {
		t.Fatalf("save secrets: %v", err)
	}
	s.Close()

	// Losing the key file must not silently generate a new one.
	if err := removeKeyFile(dir); err != nil {
		t.Fatalf("remove key: %v", err)
	}
	if _, err := Open(Options{DBPath: dbPath}); err == nil {
		t.Fatal("open must fail when sealed values exist without their key")
	}
}

func TestPlaintextSecretsMigratedOnOpen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "config.db")
	ctx := context.Background()

	s, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	// Simulate a legacy plaintext row written before sealing existed.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO security_settings (instance_name, key, value) VALUES (?, ?, ?)
	`, s.instanceName, "legacy.token", "plain-secret"); err != nil {
		t.Fatalf("insert plaintext: %v", err)
	}
	s.Close()

	s, err = Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s.Close()

	var raw string
	if err := s.db.QueryRowContext(ctx,
		`SELECT value FROM security_settings WHERE key = 'legacy.token'`,
	).Scan(&raw); err != nil {
		t.Fatalf("read migrated row: %v", err)
	}
	if !strings.HasPrefix(raw, encPrefix) {
		t.Fatalf("legacy secret not sealed on open: %q", raw)
	}

	secrets, err := s.LoadSecrets(ctx, "legacy.token")
	if err != nil {
		t.Fatalf("load secrets: %v", err)
	}
	if secrets["legacy.token"] != "plain-secret" {
		t.Fatalf("migrated value mismatch: %q", secrets["legacy.token"])
	}
}

func TestSessionArchiveRoundTrip(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	ctx := context.Background()

	started := time.Now().Add(-10 * time.Minute)
	ended := time.Now()
	rec := SessionRecord{
		ID: "session-1",
		DNA: brand.DNA{
			Name:       "Loom",
			Mission:    "Weave better brands",
			Voice:      "Playful",
			Colors:     []string{"#FF0000", "#FFA500"},
			Typography: []string{"Inter"},
		},
		Progress: []brand.ProgressItem{
			{Field: brand.FieldName, Value: "Loom", Finalized: true},
			{Field: brand.FieldColors, Value: "#FF0000, #FFA500"},
		},
		StartedAt: started,
		EndedAt:   ended,
	}
	if err := s.ArchiveSession(ctx, rec); err != nil {
		t.Fatalf("archive session: %v", err)
	}

	got, err := s.ArchivedSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("load archived session: %v", err)
	}
	if got.DNA.Name != "Loom" || len(got.DNA.Colors) != 2 {
		t.Fatalf("archived dna mismatch: %+v", got.DNA)
	}
	if len(got.Progress) != 2 || !got.Progress[0].Finalized {
		t.Fatalf("archived progress mismatch: %+v", got.Progress)
	}

	// Re-archiving the same id replaces.
	rec.DNA.Name = "Loom Studio"
	if err := s.ArchiveSession(ctx, rec); err != nil {
		t.Fatalf("re-archive session: %v", err)
	}
	list, err := s.ListArchivedSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list archived sessions: %v", err)
	}
	if len(list) != 1 || list[0].DNA.Name != "Loom Studio" {
		t.Fatalf("unexpected archive list: %+v", list)
	}

	if _, err := s.ArchivedSession(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestReadOnlyStoreRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "config.db")

	s, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Close()

	ro, err := Open(Options{DBPath: dbPath, ReadOnly: true})
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()

	ctx := context.Background()
	if err := ro.SaveSettings(ctx, map[string]string{"k": "v"}); err == nil {
		t.Fatal("read-only store accepted a settings write")
	}
	if err := ro.SaveSecrets(ctx, map[string]string{"k": "v"}); err == nil {
		t.Fatal("read-only store accepted a secret write")
	}
	if err := ro.ArchiveSession(ctx, SessionRecord{ID: "x"}); err == nil {
		t.Fatal("read-only store accepted an archive write")
	}
}

func removeKeyFile(dir string) error {
	return os.Remove(filepath.Join(dir, keyFileName))
}
