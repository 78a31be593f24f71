// Package server runs the ban manager: it receives chat and connect events
// from a game host, applies ban commands and enforcement, sweeps expired
// bans and serves health, metrics and the ban-list export over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/gobans/pkg/bans"
	"github.com/NicolasHaas/gobans/pkg/command"
	"github.com/NicolasHaas/gobans/pkg/datastore"
	"github.com/NicolasHaas/gobans/pkg/logging"
	"github.com/NicolasHaas/gobans/pkg/model"
	"github.com/NicolasHaas/gobans/pkg/rbac"
	"github.com/NicolasHaas/gobans/pkg/resolver"
)

// Host is the game server the ban manager is attached to.
type Host interface {
	Kick(subjectID, reason string)
	Warn(subjectID, text string)
	Broadcast(text string)
	Players() []model.Player
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store     datastore.BanStore
	Host      Host
	Clock     func() time.Time // defaults to time.Now
	Scheduler bans.Scheduler   // defaults to time.AfterFunc
}

type event struct {
	chat    *model.ChatEvent
	connect *model.ConnectEvent
}

// Server is the main GoBans server.
type Server struct {
	cfg      Config
	store    datastore.BanStore
	host     Host
	engine   *bans.Engine
	interp   *command.Interpreter
	resolver *resolver.Resolver
	roster   *rbac.Roster
	metrics  *Metrics
	now      func() time.Time
	log      *slog.Logger

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("server: missing store dependency")
	}
	if deps.Host == nil {
		return nil, fmt.Errorf("server: missing host dependency")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	res, err := resolver.New(resolver.Options{RatioBound: cfg.NameRatioBound, IDPattern: cfg.IDPattern})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		host:     deps.Host,
		resolver: res,
		roster:   newRoster(cfg),
		metrics:  NewMetrics(),
		now:      deps.Clock,
		log:      logging.Component("server"),
		events:   make(chan event, cfg.EventQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.store = instrumentedStore{BanStore: deps.Store, m: s.metrics}
	s.engine = bans.NewEngine(s.store, kicker{s}, bans.Options{
		MessageFormat: cfg.BanMessageFormat,
		KickDelay:     cfg.KickDelay,
		Scheduler:     deps.Scheduler,
		Logger:        logging.Component("bans"),
	})
	s.interp = command.New(s.engine, res, deps.Host, command.Options{
		Prefix: cfg.CommandPrefix,
		Logger: logging.Component("command"),
	})
	return s, nil
}

// newRoster builds the role table. cfg must have passed Validate.
func newRoster(cfg Config) *rbac.Roster {
	r := rbac.NewRoster(cfg.Admins, cfg.Moderators)
	for id, name := range cfg.Roles {
		role, _ := model.ParseRole(name)
		r.Assign(id, role)
	}
	return r
}

// kicker forwards engine kicks to the host and counts them.
type kicker struct{ s *Server }

func (k kicker) Kick(subjectID, reason string) {
	k.s.metrics.Kicks.Add(1)
	k.s.host.Kick(subjectID, reason)
}

// Engine returns the ban engine.
func (s *Server) Engine() *bans.Engine {
	return s.engine
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Store returns the ban store.
func (s *Server) Store() datastore.BanStore {
	return s.store
}

// Start launches the event loop. Events queued before Start are kept.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.loop()
}

// HandleChat queues a chat line. It blocks only while the queue is full
// and returns immediately once the server is shutting down.
func (s *Server) HandleChat(ev model.ChatEvent) {
	s.enqueue(event{chat: &ev})
}

// HandleConnect queues a player connect.
func (s *Server) HandleConnect(ev model.ConnectEvent) {
	s.enqueue(event{connect: &ev})
}

func (s *Server) enqueue(ev event) {
	select {
	case <-s.ctx.Done():
		s.metrics.DroppedEvents.Add(1)
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
		s.metrics.DroppedEvents.Add(1)
	}
}

func (s *Server) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.process(ev)
		}
	}
}

func (s *Server) process(ev event) {
	switch {
	case ev.chat != nil:
		s.processChat(*ev.chat)
	case ev.connect != nil:
		s.processConnect(*ev.connect)
	}
}

// Privileged reports whether ev may run ban commands: it must arrive on
// the admin channel (any channel when none is configured) from a player
// whose role may manage bans.
func (s *Server) Privileged(ev model.ChatEvent) bool {
	if s.cfg.AdminChannel != "" && ev.Channel != s.cfg.AdminChannel {
		return false
	}
	return s.roster.Can(ev.SubjectID, model.PermManageBans)
}

func (s *Server) processChat(ev model.ChatEvent) {
	s.metrics.ChatEvents.Add(1)
	if !s.interp.IsCommand(ev.Text) {
		return
	}
	s.metrics.Commands.Add(1)

	privileged := s.Privileged(ev)
	if !privileged {
		s.metrics.CommandsDenied.Add(1)
		s.log.Debug("ignoring command", "subject", ev.SubjectID, "channel", ev.Channel,
			"reason", rbac.RequirePermission(s.roster.Role(ev.SubjectID), model.PermManageBans))
	}

	err := s.interp.Handle(s.ctx, command.Request{
		Event:      ev,
		Privileged: privileged,
		Players:    s.host.Players(),
		Now:        s.now(),
	})
	switch {
	case err == nil:
	case isUserError(err):
		s.metrics.CommandsRejected.Add(1)
		s.log.Debug("command rejected", "subject", ev.SubjectID, "err", err)
	default:
		s.log.Error("command failed", "subject", ev.SubjectID, "err", err)
	}
}

func (s *Server) processConnect(ev model.ConnectEvent) {
	s.metrics.ConnectEvents.Add(1)
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	ban, err := s.engine.EnforceOnConnect(s.ctx, ev.Player, at)
	if err != nil {
		s.log.Error("ban check failed", "subject", ev.Player.ID, "err", err)
		return
	}
	if ban != nil {
		s.metrics.EnforcementHits.Add(1)
	}
}

// Sweep removes expired bans now.
func (s *Server) Sweep(ctx context.Context) (int64, error) {
	return s.engine.SweepExpired(ctx, s.now())
}

// StartSweeper sweeps once, then every interval until shutdown. A zero
// interval sweeps only once.
func (s *Server) StartSweeper(interval time.Duration) {
	if _, err := s.Sweep(s.ctx); err != nil {
		s.log.Error("startup sweep failed", "err", err)
	}
	if interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(s.ctx); err != nil {
					s.log.Error("sweep failed", "err", err)
				}
			}
		}
	}()
}

// Shutdown stops the event loop and the sweeper, cancels pending kicks
// and closes the store. Queued events that were not processed are lost.
func (s *Server) Shutdown() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.engine.Close()
		if err := s.store.Close(); err != nil {
			s.log.Error("close store", "err", err)
		}
	})
}

// isUserError reports whether err is a rejected request rather than a
// store or host failure.
func isUserError(err error) bool {
	var (
		verr *model.ValidationError
		nerr *model.NotFoundError
		aerr *model.AmbiguousTargetError
		serr *model.SelfTargetError
	)
	return errors.As(err, &verr) || errors.As(err, &nerr) || errors.As(err, &aerr) || errors.As(err, &serr)
}
