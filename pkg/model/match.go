package model

import (
	"strconv"
	"strings"
	"time"
)

// BanMatch selects ban records. A record matches when any criterion that
// is set matches; the zero BanMatch selects nothing.
type BanMatch struct {
	ID        *int64    // exact ban id
	SubjectID string    // exact subject id
	ExpiredAt time.Time // ExpiresAt <= ExpiredAt
}

// MatchToken selects bans by an admin-supplied token: its numeric value
// against the ban id, or the verbatim token against the subject id.
func MatchToken(token string) BanMatch {
	token = strings.TrimSpace(token)
	m := BanMatch{SubjectID: token}
	if id, err := strconv.ParseInt(token, 10, 64); err == nil {
		m.ID = &id
	}
	return m
}

// MatchExpired selects every ban that is not active at now.
func MatchExpired(now time.Time) BanMatch {
	return BanMatch{ExpiredAt: now}
}

// Empty reports whether m has no criterion set.
func (m BanMatch) Empty() bool {
	return m.ID == nil && m.SubjectID == "" && m.ExpiredAt.IsZero()
}

// Matches reports whether b is selected by m.
func (m BanMatch) Matches(b *Ban) bool {
	if m.ID != nil && b.ID == *m.ID {
		return true
	}
	if m.SubjectID != "" && b.SubjectID == m.SubjectID {
		return true
	}
	if !m.ExpiredAt.IsZero() && !b.ExpiresAt.After(m.ExpiredAt) {
		return true
	}
	return false
}
