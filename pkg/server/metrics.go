package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/gobans/pkg/datastore"
	"github.com/NicolasHaas/gobans/pkg/model"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Event counters
	ChatEvents    atomic.Int64 // chat lines received from the host
	ConnectEvents atomic.Int64 // player connects received from the host
	DroppedEvents atomic.Int64 // events discarded during shutdown

	// Command counters
	Commands         atomic.Int64 // prefixed chat lines
	CommandsDenied   atomic.Int64 // prefixed lines from unprivileged players
	CommandsRejected atomic.Int64 // commands refused with feedback to the issuer

	// Ban counters
	BansIssued  atomic.Int64
	BansRemoved atomic.Int64
	BansSwept   atomic.Int64

	// Enforcement counters
	EnforcementHits atomic.Int64 // banned players caught on connect
	Kicks           atomic.Int64 // kicks sent to the host

	StoreErrors atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ChatEvents    int64 `json:"chat_events"`
	ConnectEvents int64 `json:"connect_events"`
	DroppedEvents int64 `json:"dropped_events"`

	Commands         int64 `json:"commands"`
	CommandsDenied   int64 `json:"commands_denied"`
	CommandsRejected int64 `json:"commands_rejected"`

	BansIssued  int64 `json:"bans_issued"`
	BansRemoved int64 `json:"bans_removed"`
	BansSwept   int64 `json:"bans_swept"`

	EnforcementHits int64 `json:"enforcement_hits"`
	Kicks           int64 `json:"kicks"`

	StoreErrors int64 `json:"store_errors"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:           uptime.Truncate(time.Second).String(),
		UptimeSeconds:    int64(uptime.Seconds()),
		ChatEvents:       m.ChatEvents.Load(),
		ConnectEvents:    m.ConnectEvents.Load(),
		DroppedEvents:    m.DroppedEvents.Load(),
		Commands:         m.Commands.Load(),
		CommandsDenied:   m.CommandsDenied.Load(),
		CommandsRejected: m.CommandsRejected.Load(),
		BansIssued:       m.BansIssued.Load(),
		BansRemoved:      m.BansRemoved.Load(),
		BansSwept:        m.BansSwept.Load(),
		EnforcementHits:  m.EnforcementHits.Load(),
		Kicks:            m.Kicks.Load(),
		StoreErrors:      m.StoreErrors.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"chat_events", s.ChatEvents,
		"connect_events", s.ConnectEvents,
		"commands", s.Commands,
		"bans_issued", s.BansIssued,
		"bans_removed", s.BansRemoved,
		"bans_swept", s.BansSwept,
		"enforcement_hits", s.EnforcementHits,
		"store_errors", s.StoreErrors,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}

// instrumentedStore counts ban writes and store failures.
type instrumentedStore struct {
	datastore.BanStore
	m *Metrics
}

func (s instrumentedStore) CreateBan(ctx context.Context, ban *model.Ban) (*model.Ban, error) {
	out, err := s.BanStore.CreateBan(ctx, ban)
	if err != nil {
		s.countErr(err)
		return nil, err
	}
	s.m.BansIssued.Add(1)
	return out, nil
}

func (s instrumentedStore) FindActiveBan(ctx context.Context, subjectID string, now time.Time) (*model.Ban, error) {
	ban, err := s.BanStore.FindActiveBan(ctx, subjectID, now)
	if err != nil {
		s.countErr(err)
	}
	return ban, err
}

func (s instrumentedStore) DeleteBans(ctx context.Context, match model.BanMatch) (int64, error) {
	n, err := s.BanStore.DeleteBans(ctx, match)
	if err != nil {
		s.countErr(err)
		return 0, err
	}
	if !match.ExpiredAt.IsZero() {
		s.m.BansSwept.Add(n)
	} else {
		s.m.BansRemoved.Add(n)
	}
	return n, nil
}

func (s instrumentedStore) countErr(err error) {
	if !isUserError(err) {
		s.m.StoreErrors.Add(1)
	}
}
