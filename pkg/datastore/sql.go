// Package datastore provides the durable ban stores: SQLite (the default)
// and PostgreSQL.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gobans/pkg/model"
)

const (
	dbTimeLayout       = "2006-01-02 15:04:05.000"
	dbTimeLayoutLegacy = "2006-01-02 15:04:05"
)

const banColumns = "id, subject_name, subject_id, reason, created_at, expires_at, issuer_id, evidence"

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	// datetime() is NULL for unset or unparseable values; those rows are
	// never active and always swept.
	expired: func(ph string) string {
		return "(expires_at IS NULL OR datetime(expires_at) IS NULL OR expires_at <= " + ph + ")"
	},
	timeArg: func(m model.BanMatch) any { return formatDBTime(m.ExpiredAt) },
}

// SQLite stores bans in a SQLite database file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database and runs migrations.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}

	// PRAGMAs below are per connection.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" when a command and a
	// connect check hit the same subject.
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS bans (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_name TEXT    NOT NULL DEFAULT '',
		subject_id   TEXT    NOT NULL CHECK(length(subject_id) > 0),
		reason       TEXT    NOT NULL DEFAULT '',
		created_at   TEXT    NOT NULL DEFAULT (datetime('now')),
		expires_at   TEXT    NOT NULL DEFAULT '1970-01-01 00:00:00.000',
		issuer_id    TEXT    NOT NULL CHECK(length(issuer_id) > 0),
		evidence     TEXT    NOT NULL DEFAULT ''
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_bans_subject_expires ON bans(subject_id, expires_at)",
				"CREATE INDEX IF NOT EXISTS idx_bans_expires ON bans(expires_at)",
			},
			ignoreErrors: true,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLite) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLite) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *SQLite) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	t, err := time.ParseInLocation(dbTimeLayout, value, time.UTC)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(dbTimeLayoutLegacy, value, time.UTC)
}

// ---- Bans ----

// CreateBan validates and inserts a ban record.
func (s *SQLite) CreateBan(ctx context.Context, ban *model.Ban) (*model.Ban, error) {
	if err := ban.Validate(); err != nil {
		return nil, fmt.Errorf("datastore: create ban: %w", err)
	}
	stored := *ban
	stored.Normalize(s.now())

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO bans (subject_name, subject_id, reason, created_at, expires_at, issuer_id, evidence) VALUES (?, ?, ?, ?, ?, ?, ?)",
		stored.SubjectName, stored.SubjectID, stored.Reason,
		formatDBTime(stored.CreatedAt), formatDBTime(stored.ExpiresAt),
		stored.IssuerID, stored.Evidence)
	if err != nil {
		return nil, fmt.Errorf("datastore: create ban: %w", err)
	}
	stored.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("datastore: create ban: %w", err)
	}
	stored.CreatedAt = stored.CreatedAt.UTC().Truncate(time.Millisecond)
	stored.ExpiresAt = stored.ExpiresAt.UTC().Truncate(time.Millisecond)
	return &stored, nil
}

// FindActiveBan returns one ban for subjectID that is still in force at now.
func (s *SQLite) FindActiveBan(ctx context.Context, subjectID string, now time.Time) (*model.Ban, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+banColumns+" FROM bans WHERE subject_id = ? AND datetime(expires_at) IS NOT NULL AND expires_at > ? ORDER BY expires_at DESC LIMIT 1",
		subjectID, formatDBTime(now))
	if err != nil {
		return nil, fmt.Errorf("datastore: find active ban: %w", err)
	}
	bans, err := scanBans(rows)
	if err != nil {
		return nil, fmt.Errorf("datastore: find active ban: %w", err)
	}
	if len(bans) == 0 {
		return nil, nil
	}
	return &bans[0], nil
}

// FindBans returns the bans selected by match.
func (s *SQLite) FindBans(ctx context.Context, match model.BanMatch) ([]model.Ban, error) {
	where, args := whereMatch(sqliteDialect, match)
	rows, err := s.db.QueryContext(ctx, "SELECT "+banColumns+" FROM bans WHERE "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: find bans: %w", err)
	}
	bans, err := scanBans(rows)
	if err != nil {
		return nil, fmt.Errorf("datastore: find bans: %w", err)
	}
	return bans, nil
}

// ListBans returns all bans.
func (s *SQLite) ListBans(ctx context.Context) ([]model.Ban, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+banColumns+" FROM bans ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	bans, err := scanBans(rows)
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	return bans, nil
}

// DeleteBans removes the bans selected by match in a single statement.
func (s *SQLite) DeleteBans(ctx context.Context, match model.BanMatch) (int64, error) {
	if match.Empty() {
		return 0, nil
	}
	where, args := whereMatch(sqliteDialect, match)
	res, err := s.db.ExecContext(ctx, "DELETE FROM bans WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("datastore: delete bans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("datastore: delete bans: %w", err)
	}
	return n, nil
}

func scanBans(rows *sql.Rows) ([]model.Ban, error) {
	defer func() { _ = rows.Close() }()

	var bans []model.Ban
	for rows.Next() {
		var (
			b         model.Ban
			createdAt string
			expiresAt sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.SubjectName, &b.SubjectID, &b.Reason, &createdAt, &expiresAt, &b.IssuerID, &b.Evidence); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan ban %d: created_at: %w", b.ID, err)
		}
		b.CreatedAt = parsed
		// An unset or corrupt expiration reads back as the epoch so the
		// ban is reported as expired rather than failing the whole list.
		b.ExpiresAt = model.Epoch
		if expiresAt.Valid {
			if t, err := parseDBTime(expiresAt.String); err == nil {
				b.ExpiresAt = t
			}
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}
