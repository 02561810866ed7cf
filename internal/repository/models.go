package repository

import "github.com/google/uuid"

// Session represents an authenticated login session.
// UUID is the surrogate identifier tokens point at; SessionKey is the natural key.
type Session struct {
	UUID       uuid.UUID
	SessionKey string
}

// Token is one row of a token table as seen by the session backfill.
type Token struct {
	ID int64

	// LegacySessionID is the hex SHA-256 digest of the session key the token
	// was issued under. Nil for tokens created before the linkage existed.
	LegacySessionID *string

	// SessionUUID is the resolved foreign key. Nil means unset.
	SessionUUID *uuid.UUID
}

// HasLegacyLink reports whether the token carries a usable legacy linkage.
func (t *Token) HasLegacyLink() bool {
	return t.LegacySessionID != nil && *t.LegacySessionID != ""
}
