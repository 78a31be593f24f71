// Package model defines the core domain types for GoBans.
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxPlayerNameLength bounds display names accepted from a host.
const MaxPlayerNameLength = 32

// NoTeam is the TeamID of a player that is not on a team (placeholders,
// spectators, players still loading in).
const NoTeam = -1

// UnknownPlayerName is the display name given to placeholder players.
const UnknownPlayerName = "Unknown"

// Player is a connected player as reported by the host roster.
type Player struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	SquadID string `json:"squad_id,omitempty" yaml:"squad_id,omitempty"`
	TeamID  int    `json:"team_id" yaml:"team_id"`
}

// UnknownPlayer returns the placeholder for an identifier that is not on
// the roster. It lets admins ban players who are offline.
func UnknownPlayer(id string) Player {
	return Player{ID: id, Name: UnknownPlayerName, TeamID: NoTeam}
}

// IsPlaceholder reports whether p was produced by UnknownPlayer.
func (p Player) IsPlaceholder() bool {
	return p.Name == UnknownPlayerName && p.SquadID == "" && p.TeamID == NoTeam
}

// SanitizeName trims a host-supplied name and caps it at MaxPlayerNameLength runes.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= MaxPlayerNameLength {
		return name
	}
	return string([]rune(name)[:MaxPlayerNameLength])
}

// Chat channels as reported by hosts. Only AdminChannel carries commands
// under the default configuration.
const (
	ChannelAll   = "ChatAll"
	ChannelAdmin = "ChatAdmin"
)

// ChatEvent is a chat line typed by a connected player.
type ChatEvent struct {
	SubjectID   string
	DisplayName string
	Channel     string
	Text        string
}

// ConnectEvent is emitted by the host once a player has joined.
type ConnectEvent struct {
	Player Player
	At     time.Time
}
