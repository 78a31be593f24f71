// Package bans implements the ban lifecycle: issuing, removal, enforcement
// when a player connects, and purging of expired records.
package bans

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/gobans/pkg/datastore"
	"github.com/NicolasHaas/gobans/pkg/model"
)

// DefaultKickDelay is how long a banned player stays connected before the
// enforcement kick, so the client has loaded far enough to show the reason.
const DefaultKickDelay = 3 * time.Second

// Kicker disconnects a player with a reason. Kicking an offline player
// must be harmless.
type Kicker interface {
	Kick(subjectID, reason string)
}

// Stopper cancels a scheduled call.
type Stopper interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Options configures an Engine.
type Options struct {
	MessageFormat string
	KickDelay     time.Duration
	Scheduler     Scheduler
	Logger        *slog.Logger
}

// IssueRequest describes a ban to be created.
type IssueRequest struct {
	IssuerID string
	Subject  model.Player
	Days     float64
	Reason   string
	Evidence string
}

// Engine applies ban operations against a store and a host.
type Engine struct {
	store     datastore.BanStore
	kicker    Kicker
	format    string
	kickDelay time.Duration
	sched     Scheduler
	log       *slog.Logger

	mu      sync.Mutex
	nextKey uint64
	pending map[uint64]Stopper
	closed  bool
}

// NewEngine creates an Engine. Zero option values select the defaults.
func NewEngine(st datastore.BanStore, kicker Kicker, opts Options) *Engine {
	if opts.MessageFormat == "" {
		opts.MessageFormat = DefaultMessageFormat
	}
	if opts.KickDelay == 0 {
		opts.KickDelay = DefaultKickDelay
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timerScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:     st,
		kicker:    kicker,
		format:    opts.MessageFormat,
		kickDelay: opts.KickDelay,
		sched:     opts.Scheduler,
		log:       opts.Logger,
		pending:   make(map[uint64]Stopper),
	}
}

// ComputeExpiration returns the expiration of a ban of the given length
// issued at now.
func (e *Engine) ComputeExpiration(days float64, now time.Time) time.Time {
	return ComputeExpiration(days, now)
}

// FormatReason renders the configured kick message for ban.
func (e *Engine) FormatReason(ban *model.Ban, now time.Time) string {
	return FormatReason(e.format, ban, now)
}

// IssueBan stores a new ban for req.Subject and kicks the subject
// immediately. The kick is sent whether or not the subject is online.
func (e *Engine) IssueBan(ctx context.Context, req IssueRequest, now time.Time) (*model.Ban, error) {
	ban, err := e.store.CreateBan(ctx, &model.Ban{
		SubjectName: req.Subject.Name,
		SubjectID:   req.Subject.ID,
		Reason:      req.Reason,
		CreatedAt:   now,
		ExpiresAt:   ComputeExpiration(req.Days, now),
		IssuerID:    req.IssuerID,
		Evidence:    req.Evidence,
	})
	if err != nil {
		return nil, fmt.Errorf("bans: issue: %w", err)
	}
	e.log.Info("ban issued", "ban_id", ban.ID, "subject", ban.SubjectID, "issuer", ban.IssuerID, "expires_at", ban.ExpiresAt)
	e.kicker.Kick(ban.SubjectID, e.FormatReason(ban, now))
	return ban, nil
}

// RemoveBan deletes every ban whose id or subject id equals token and
// returns how many were removed.
func (e *Engine) RemoveBan(ctx context.Context, token string) (int64, error) {
	n, err := e.store.DeleteBans(ctx, model.MatchToken(token))
	if err != nil {
		return 0, fmt.Errorf("bans: remove: %w", err)
	}
	if n > 0 {
		e.log.Info("ban removed", "token", token, "count", n)
	}
	return n, nil
}

// EnforceOnConnect looks up an active ban for player. When one exists a
// single kick is scheduled after the kick delay and the ban is returned.
func (e *Engine) EnforceOnConnect(ctx context.Context, player model.Player, now time.Time) (*model.Ban, error) {
	ban, err := e.store.FindActiveBan(ctx, player.ID, now)
	if err != nil {
		return nil, fmt.Errorf("bans: enforce: %w", err)
	}
	if ban == nil {
		return nil, nil
	}

	reason := e.FormatReason(ban, now)
	subject := player.ID

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ban, nil
	}
	key := e.nextKey
	e.nextKey++
	e.pending[key] = e.sched.AfterFunc(e.kickDelay, func() {
		e.mu.Lock()
		delete(e.pending, key)
		e.mu.Unlock()
		e.kicker.Kick(subject, reason)
	})
	e.log.Info("banned player connected", "ban_id", ban.ID, "subject", subject, "kick_in", e.kickDelay)
	return ban, nil
}

// SweepExpired deletes all bans that are expired at now.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := e.store.DeleteBans(ctx, model.MatchExpired(now))
	if err != nil {
		return 0, fmt.Errorf("bans: sweep: %w", err)
	}
	if n > 0 {
		e.log.Info("expired bans removed", "count", n)
	}
	return n, nil
}

// Pending returns the number of scheduled kicks that have not fired.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close stops all pending kicks. Later enforcement schedules nothing.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for key, s := range e.pending {
		s.Stop()
		delete(e.pending, key)
	}
}
