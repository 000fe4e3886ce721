// --- File: pkg/fanout/interfaces.go ---
package fanout

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// RoomReader resolves room membership.
type RoomReader interface {
	// Room returns the room record, or an error wrapping ErrRoomNotFound
	// when no such room exists.
	Room(ctx context.Context, roomID string) (*Room, error)
}

// UserReader resolves display names for notification titles.
type UserReader interface {
	// DisplayName returns the user's name, or "" when the user record or the
	// name field is missing. Only a failed read is an error.
	DisplayName(ctx context.Context, user urn.URN) (string, error)
}

// PreferenceReader decides whether a recipient currently accepts notifications.
type PreferenceReader interface {
	// NotificationsEnabled is default-allow: absence of a preference record,
	// or of the field itself, reads as true. Only an explicit false opts out.
	NotificationsEnabled(ctx context.Context, user urn.URN) (bool, error)
}

// TokenReader enumerates a user's registered delivery targets.
type TokenReader interface {
	TokensFor(ctx context.Context, user urn.URN) (*TokenSet, error)
}

// TokenPruner removes delivery targets that a dispatcher proved dead.
type TokenPruner interface {
	// PruneToken deletes every stored device record whose token value (or web
	// endpoint) equals value, across all owners, and returns the number of
	// records removed. Value-based on purpose: the same token may appear in
	// more than one owner's registration set.
	PruneToken(ctx context.Context, value string) (int, error)
}

// HistoryWriter appends to a recipient's notification history.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, recipient urn.URN, rec HistoryRecord) error
}

// Store is the document-store surface the fan-out engine needs, minus token
// reads, which are injected separately so a cache can decorate them.
type Store interface {
	RoomReader
	UserReader
	PreferenceReader
	TokenPruner
	HistoryWriter
}

// TokenRegistry is the device registration surface used by the HTTP API.
// Registration handles deduplication (upsert); unregistration is idempotent.
type TokenRegistry interface {
	TokenReader

	RegisterFCM(ctx context.Context, user urn.URN, token string) error
	UnregisterFCM(ctx context.Context, user urn.URN, token string) error

	RegisterAPNS(ctx context.Context, user urn.URN, token string) error
	UnregisterAPNS(ctx context.Context, user urn.URN, token string) error

	RegisterWeb(ctx context.Context, user urn.URN, sub WebPushSubscription) error
	UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error
}
