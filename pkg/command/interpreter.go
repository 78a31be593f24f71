// Package command interprets ban commands typed into in-game chat.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/NicolasHaas/gobans/pkg/bans"
	"github.com/NicolasHaas/gobans/pkg/model"
	"github.com/NicolasHaas/gobans/pkg/resolver"
)

// DefaultPrefix starts every ban command.
const DefaultPrefix = "!ban"

// MaxReasonLength caps the stored reason, in runes.
const MaxReasonLength = 256

// Warner sends a private message to one player.
type Warner interface {
	Warn(subjectID, text string)
}

// Request is one chat line to interpret.
type Request struct {
	Event      model.ChatEvent
	Privileged bool
	Players    []model.Player
	Now        time.Time
}

// Interpreter parses prefixed chat commands and applies them through the
// ban engine. All feedback goes to the issuer only.
type Interpreter struct {
	engine   *bans.Engine
	resolver *resolver.Resolver
	warner   Warner
	prefix   string
	log      *slog.Logger
}

// Options configures an Interpreter.
type Options struct {
	Prefix string
	Logger *slog.Logger
}

// New creates an Interpreter.
func New(engine *bans.Engine, res *resolver.Resolver, warner Warner, opts Options) *Interpreter {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Interpreter{
		engine:   engine,
		resolver: res,
		warner:   warner,
		prefix:   opts.Prefix,
		log:      opts.Logger,
	}
}

// Prefix returns the configured command prefix.
func (in *Interpreter) Prefix() string { return in.prefix }

// IsCommand reports whether text starts with the command prefix, ignoring
// case, followed by whitespace or the end of the line.
func (in *Interpreter) IsCommand(text string) bool {
	_, ok := in.cutPrefix(text)
	return ok
}

func (in *Interpreter) cutPrefix(text string) (string, bool) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if len(text) < len(in.prefix) || !strings.EqualFold(text[:len(in.prefix)], in.prefix) {
		return "", false
	}
	rest := text[len(in.prefix):]
	if rest == "" {
		return "", true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	if !unicode.IsSpace(r) {
		return "", false
	}
	return rest, true
}

func (in *Interpreter) usage() string {
	return fmt.Sprintf("Usage: %[1]s add <player> <days> [reason] | %[1]s remove <ban id or player id>", in.prefix)
}

// Handle interprets one chat line. Lines without the prefix and lines from
// unprivileged issuers are ignored. A rejected command is reported to the
// issuer and returned as a typed error from package model.
func (in *Interpreter) Handle(ctx context.Context, req Request) error {
	rest, ok := in.cutPrefix(req.Event.Text)
	if !ok || !req.Privileged {
		return nil
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	args := strings.Fields(rest)
	if len(args) == 0 {
		in.warn(req, in.usage())
		return nil
	}
	sub := strings.ToLower(args[0])
	args = args[1:]

	switch sub {
	case "add":
		return in.handleAdd(ctx, req, args)
	case "remove":
		return in.handleRemove(ctx, req, args)
	case "help":
		in.warn(req, in.usage())
		return nil
	default:
		in.warn(req, "Unknown vote subcommand: "+sub)
		return &model.ValidationError{Field: "subcommand", Reason: "unknown " + sub}
	}
}

func (in *Interpreter) handleAdd(ctx context.Context, req Request, args []string) error {
	if len(args) < 2 {
		in.warn(req, in.usage())
		return &model.ValidationError{Field: "arguments", Reason: "add needs a player and a duration"}
	}
	token, rawDays := args[0], args[1]

	matches := in.resolver.Resolve(req.Players, token)
	switch {
	case len(matches) == 0:
		in.warn(req, fmt.Sprintf("Could not find a player whose username includes: %q", token))
		return &model.NotFoundError{Kind: "player", Token: token}
	case len(matches) > 1:
		in.warn(req, fmt.Sprintf("Found multiple players whose usernames include: %q", token))
		return &model.AmbiguousTargetError{Token: token, Matches: len(matches)}
	}
	target := matches[0]
	if target.ID == req.Event.SubjectID {
		in.warn(req, "You cannot ban yourself...")
		return &model.SelfTargetError{SubjectID: target.ID}
	}

	days, err := ParseDays(rawDays)
	if err != nil {
		in.warn(req, fmt.Sprintf("Invalid duration: %q", rawDays))
		return err
	}

	_, err = in.engine.IssueBan(ctx, bans.IssueRequest{
		IssuerID: req.Event.SubjectID,
		Subject:  target,
		Days:     days,
		Reason:   cleanReason(strings.Join(args[2:], " ")),
	}, req.Now)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			in.warn(req, "Could not add ban: "+verr.Error())
		}
		return fmt.Errorf("command: add: %w", err)
	}
	return nil
}

func (in *Interpreter) handleRemove(ctx context.Context, req Request, args []string) error {
	if len(args) < 1 {
		in.warn(req, in.usage())
		return &model.ValidationError{Field: "arguments", Reason: "remove needs a ban id or player id"}
	}
	n, err := in.engine.RemoveBan(ctx, args[0])
	if err != nil {
		in.warn(req, "Could not remove ban")
		return fmt.Errorf("command: remove: %w", err)
	}
	if n == 0 {
		in.warn(req, "Could not remove ban")
		return &model.NotFoundError{Kind: "ban", Token: args[0]}
	}
	in.warn(req, "Successfully removed ban")
	return nil
}

func (in *Interpreter) warn(req Request, text string) {
	in.warner.Warn(req.Event.SubjectID, text)
}

// cleanReason strips control characters and caps the length.
func cleanReason(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if utf8.RuneCountInString(s) > MaxReasonLength {
		s = string([]rune(s)[:MaxReasonLength])
	}
	return strings.TrimSpace(s)
}
