// Package resolver maps a token typed by an admin to players on the
// current roster.
package resolver

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/NicolasHaas/gobans/pkg/model"
)

// DefaultRatioBound is the largest allowed name-length to fragment-length
// ratio for a fragment match.
const DefaultRatioBound = 3.0

// DefaultIDPattern matches a 17-digit SteamID64 or an OpenSSH SHA256 key
// fingerprint.
const DefaultIDPattern = `^(\d{17}|SHA256:[A-Za-z0-9+/]{43})$`

// Resolver resolves targets by exact id or by display-name fragment.
type Resolver struct {
	ratioBound float64
	idPattern  *regexp.Regexp
}

// Options configures a Resolver. Zero values select the defaults.
type Options struct {
	RatioBound float64
	IDPattern  string
}

// New creates a Resolver.
func New(opts Options) (*Resolver, error) {
	if opts.RatioBound == 0 {
		opts.RatioBound = DefaultRatioBound
	}
	if opts.RatioBound < 0 {
		return nil, fmt.Errorf("resolver: ratio bound must be positive, got %v", opts.RatioBound)
	}
	if opts.IDPattern == "" {
		opts.IDPattern = DefaultIDPattern
	}
	re, err := regexp.Compile(opts.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("resolver: id pattern: %w", err)
	}
	return &Resolver{
		ratioBound: opts.RatioBound,
		idPattern:  re,
	}, nil
}

// RatioBound returns the configured ratio bound.
func (r *Resolver) RatioBound() float64 { return r.ratioBound }

// LooksLikeID reports whether token is a full player identifier.
func (r *Resolver) LooksLikeID(token string) bool {
	return r.idPattern.MatchString(token)
}

// ResolveByExactID returns the roster entry with the given id, or the
// unknown-player placeholder if the player is offline.
func (r *Resolver) ResolveByExactID(players []model.Player, id string) model.Player {
	for _, p := range players {
		if p.ID == id {
			return p
		}
	}
	return model.UnknownPlayer(id)
}

// ResolveByNameFragment returns every player whose display name contains
// fragment, ignoring case. Names much longer than the fragment are skipped
// so a short fragment does not hit unrelated long names.
func (r *Resolver) ResolveByNameFragment(players []model.Player, fragment string) []model.Player {
	fragLen := utf8.RuneCountInString(fragment)
	if fragLen == 0 {
		return nil
	}
	// Casers are stateful and must not be shared between goroutines.
	fold := cases.Fold()
	needle := fold.String(fragment)

	var out []model.Player
	for _, p := range players {
		ratio := float64(utf8.RuneCountInString(p.Name)) / float64(fragLen)
		if ratio > r.ratioBound {
			continue
		}
		if strings.Contains(fold.String(p.Name), needle) {
			out = append(out, p)
		}
	}
	return out
}

// Resolve picks the lookup mode for token. A full identifier always yields
// exactly one player, possibly a placeholder.
func (r *Resolver) Resolve(players []model.Player, token string) []model.Player {
	if r.LooksLikeID(token) {
		return []model.Player{r.ResolveByExactID(players, token)}
	}
	return r.ResolveByNameFragment(players, token)
}
