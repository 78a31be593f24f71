package datastore

import (
	"context"
	"time"

	"github.com/NicolasHaas/gobans/pkg/model"
)

// BanStore is the persistence contract for ban records. Implementations
// must make CreateBan and DeleteBans atomic: the engine relies on the
// store, not on its own locking, when chat commands race connect events.
type BanStore interface {
	BanReadProvider
	BanWriteProvider

	// Close releases the underlying connection.
	Close() error
}

type BanReadProvider interface {
	// FindActiveBan returns any ban for subjectID that expires after now,
	// or (nil, nil) if the subject has no active ban.
	FindActiveBan(ctx context.Context, subjectID string, now time.Time) (*model.Ban, error)

	// FindBans returns the bans selected by match, ordered by id.
	FindBans(ctx context.Context, match model.BanMatch) ([]model.Ban, error)

	// ListBans returns every stored ban, ordered by id.
	ListBans(ctx context.Context) ([]model.Ban, error)
}

type BanWriteProvider interface {
	// CreateBan validates and inserts ban, returning the stored record
	// with its assigned id. Nothing is written when validation fails.
	CreateBan(ctx context.Context, ban *model.Ban) (*model.Ban, error)

	// DeleteBans removes the bans selected by match and returns how many
	// were removed.
	DeleteBans(ctx context.Context, match model.BanMatch) (int64, error)
}

// Compile-time checks.
var (
	_ BanStore = (*SQLite)(nil)
	_ BanStore = (*Postgres)(nil)
)
