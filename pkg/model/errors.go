package model

import "fmt"

// ValidationError reports a missing or malformed field. The operation
// that returned it has not written anything.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a target token that matched no player or no ban.
type NotFoundError struct {
	Kind  string // "player" or "ban"
	Token string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Kind, e.Token)
}

// AmbiguousTargetError reports a name fragment that matched several players.
type AmbiguousTargetError struct {
	Token   string
	Matches int
}

func (e *AmbiguousTargetError) Error() string {
	return fmt.Sprintf("%q matches %d players", e.Token, e.Matches)
}

// SelfTargetError reports an issuer targeting themselves.
type SelfTargetError struct {
	SubjectID string
}

func (e *SelfTargetError) Error() string {
	return "cannot target yourself: " + e.SubjectID
}
