// Package migrations holds the data migrations sessionlink knows how to apply.
package migrations

import (
	"context"

	"github.com/koyif/sessionlink/internal/backfill"
	"github.com/koyif/sessionlink/internal/schema"
)

const OAuth2SessionLinkID = "0022_oauth2_session_link"

// Token tables whose session relationship is backfilled from the hashed
// session id they stored.
var OAuth2BackfilledTables = []string{
	"authorization_codes",
	"access_tokens",
	"refresh_tokens",
}

// Device tokens never stored a session id; they only get the new column.
var OAuth2SchemaOnlyTables = []string{
	"device_tokens",
}

// Backfiller links tokens to their sessions. *backfill.Engine implements it.
type Backfiller interface {
	Run(ctx context.Context) (backfill.Summary, error)
}

// OAuth2SessionLinkSpec names the tables and columns of the session link.
// The repositories serving the backfill derive their queries from it.
func OAuth2SessionLinkSpec() schema.LinkSpec {
	return schema.LinkSpec{
		ID:              OAuth2SessionLinkID,
		Description:     "Replace the hashed session id of OAuth2 tokens with a session foreign key",
		Reference:       "authenticated_sessions",
		ReferenceColumn: "uuid",
		ReferenceKey:    "session_key",
		ColumnType:      "uuid",
		LegacyColumn:    "session_id",
		AsideColumn:     "session_id_old",
		RelationColumn:  "session_id",
		Backfilled:      OAuth2BackfilledTables,
		SchemaOnly:      OAuth2SchemaOnlyTables,
	}
}

// OAuth2SessionLink returns the migration that moves the token to session
// relationship onto a foreign key. observe, when set, receives the backfill
// summary before the old columns are dropped.
func OAuth2SessionLink(engine Backfiller, observe func(backfill.Summary)) schema.Migration {
	return schema.LinkByHashedKey(OAuth2SessionLinkSpec(), func(ctx context.Context) error {
		summary, err := engine.Run(ctx)
		if observe != nil {
			observe(summary)
		}
		return err
	})
}
