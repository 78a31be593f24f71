package datastore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NicolasHaas/gobans/pkg/model"
)

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	expired:     func(ph string) string { return "expires_at <= " + ph },
	timeArg:     func(m model.BanMatch) any { return m.ExpiredAt.UTC() },
}

// Postgres stores bans in a PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects to the database at url and creates the bans table
// if needed.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("datastore: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("datastore: ping postgres: %w", err)
	}
	p := NewPostgres(pool)
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return p, nil
}

// NewPostgres wraps an existing pool. The caller must have run migrations.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS bans (
		id           BIGSERIAL PRIMARY KEY,
		subject_name TEXT        NOT NULL DEFAULT '',
		subject_id   TEXT        NOT NULL CHECK (length(subject_id) > 0),
		reason       TEXT        NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at   TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
		issuer_id    TEXT        NOT NULL CHECK (length(issuer_id) > 0),
		evidence     TEXT        NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_bans_subject_expires ON bans (subject_id, expires_at);
	CREATE INDEX IF NOT EXISTS idx_bans_expires ON bans (expires_at);
	`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create bans: %w", err)
	}
	return nil
}

// CreateBan validates and inserts a ban record.
func (p *Postgres) CreateBan(ctx context.Context, ban *model.Ban) (*model.Ban, error) {
	if err := ban.Validate(); err != nil {
		return nil, fmt.Errorf("datastore: create ban: %w", err)
	}
	stored := *ban
	stored.Normalize(p.now())

	err := p.pool.QueryRow(ctx,
		`INSERT INTO bans (subject_name, subject_id, reason, created_at, expires_at, issuer_id, evidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		stored.SubjectName, stored.SubjectID, stored.Reason,
		stored.CreatedAt.UTC(), stored.ExpiresAt.UTC(),
		stored.IssuerID, stored.Evidence,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("datastore: create ban: %w", err)
	}
	// TIMESTAMPTZ keeps microseconds.
	stored.CreatedAt = stored.CreatedAt.UTC().Truncate(time.Microsecond)
	stored.ExpiresAt = stored.ExpiresAt.UTC().Truncate(time.Microsecond)
	return &stored, nil
}

// FindActiveBan returns one ban for subjectID that is still in force at now.
func (p *Postgres) FindActiveBan(ctx context.Context, subjectID string, now time.Time) (*model.Ban, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+banColumns+` FROM bans
		 WHERE subject_id = $1 AND expires_at > $2
		 ORDER BY expires_at DESC LIMIT 1`, subjectID, now.UTC())
	b, err := scanPgBan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: find active ban: %w", err)
	}
	return b, nil
}

// FindBans returns the bans selected by match.
func (p *Postgres) FindBans(ctx context.Context, match model.BanMatch) ([]model.Ban, error) {
	where, args := whereMatch(postgresDialect, match)
	bans, err := p.query(ctx, `SELECT `+banColumns+` FROM bans WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: find bans: %w", err)
	}
	return bans, nil
}

// ListBans returns all bans.
func (p *Postgres) ListBans(ctx context.Context) ([]model.Ban, error) {
	bans, err := p.query(ctx, `SELECT `+banColumns+` FROM bans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	return bans, nil
}

// DeleteBans removes the bans selected by match in a single statement.
func (p *Postgres) DeleteBans(ctx context.Context, match model.BanMatch) (int64, error) {
	if match.Empty() {
		return 0, nil
	}
	where, args := whereMatch(postgresDialect, match)
	tag, err := p.pool.Exec(ctx, `DELETE FROM bans WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("datastore: delete bans: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) query(ctx context.Context, sql string, args ...any) ([]model.Ban, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []model.Ban
	for rows.Next() {
		b, err := scanPgBan(rows)
		if err != nil {
			return nil, err
		}
		bans = append(bans, *b)
	}
	return bans, rows.Err()
}

func scanPgBan(row pgx.Row) (*model.Ban, error) {
	var b model.Ban
	if err := row.Scan(&b.ID, &b.SubjectName, &b.SubjectID, &b.Reason, &b.CreatedAt, &b.ExpiresAt, &b.IssuerID, &b.Evidence); err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.ExpiresAt = b.ExpiresAt.UTC()
	return &b, nil
}
