// Package memory defines the transcript log of a voice session.
//
// Every text message the peer sends during a session is kept as a
// [TranscriptEntry] together with the identity the session was opened with.
// [TranscriptStore] is public so that alternative backends can be supplied;
// [postgres] holds the PostgreSQL implementation.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	// RolePeer marks text sent by the remote conversation endpoint.
	RolePeer Role = "peer"

	// RoleUser marks text attributed to the local speaker.
	RoleUser Role = "user"
)

// TranscriptEntry is one line of session history.
type TranscriptEntry struct {
	// SessionID groups the entries of one client run.
	SessionID string

	// Turn is the turn counter of the controller when the text arrived.
	Turn uint64

	// Username, Language and Persona are the identity the connection was
	// opened with.
	Username string
	Language string
	Persona  string

	Role Role
	Text string

	// Timestamp is when the entry was received.
	Timestamp time.Time
}

// SearchOpts configures a full-text search over transcript entries.
// All non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session.
	// An empty string searches across all sessions.
	SessionID string

	// After filters entries recorded after this instant (exclusive).
	// A zero Time disables the lower bound.
	After time.Time

	// Limit caps the number of results returned.
	// A value of 0 means the implementation may apply its own default.
	Limit int
}

// TranscriptStore persists transcript entries.
type TranscriptStore interface {
	// WriteEntry appends entry to its session's log.
	WriteEntry(ctx context.Context, entry TranscriptEntry) error

	// Recent returns up to limit of the newest entries of sessionID,
	// oldest first. A limit of 0 returns the whole session.
	Recent(ctx context.Context, sessionID string, limit int) ([]TranscriptEntry, error)

	// Search returns entries whose text matches query, oldest first.
	Search(ctx context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error)
}
