package model

import "time"

// Ban is a persisted ban record. Records are never updated in place: a
// ban ends by expiring, by an explicit removal, or by the expiry sweep.
type Ban struct {
	ID          int64     `json:"id" yaml:"id"`
	SubjectName string    `json:"subject_name" yaml:"subject_name"` // name at ban time, may be stale
	SubjectID   string    `json:"subject_id" yaml:"subject_id"`
	Reason      string    `json:"reason" yaml:"reason"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" yaml:"expires_at"` // zero/epoch = already expired
	IssuerID    string    `json:"issuer_id" yaml:"issuer_id"`
	Evidence    string    `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Epoch is stored in place of an unset expiration.
var Epoch = time.Unix(0, 0).UTC()

// ActiveAt reports whether the ban is in force at now.
func (b *Ban) ActiveAt(now time.Time) bool {
	return b.ExpiresAt.After(now)
}

// Validate checks the fields a store requires before inserting.
func (b *Ban) Validate() error {
	if b.SubjectID == "" {
		return &ValidationError{Field: "subject_id", Reason: "must not be empty"}
	}
	if b.IssuerID == "" {
		return &ValidationError{Field: "issuer_id", Reason: "must not be empty"}
	}
	return nil
}

// Normalize fills the defaults a store applies on insert.
func (b *Ban) Normalize(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now.UTC()
	}
	if b.ExpiresAt.IsZero() {
		b.ExpiresAt = Epoch
	}
}
